package domain

import (
	"encoding/json"
	"time"
)

// Format 是放映格式；空串表示未知（JSON 中为 null）。
type Format string

const (
	Format2D   Format = "2D"
	Format3D   Format = "3D"
	FormatIMAX Format = "IMAX"
	Format4DX  Format = "4DX"
)

// Language 是语言版本；空串表示未知（JSON 中为 null）。
type Language string

const (
	LangDubbing Language = "dubbing"
	LangNapisy  Language = "napisy"
	LangLektor  Language = "lektor"
)

func (f Format) MarshalJSON() ([]byte, error)   { return nullableString(string(f)) }
func (l Language) MarshalJSON() ([]byte, error) { return nullableString(string(l)) }

func (f *Format) UnmarshalJSON(b []byte) error {
	s, err := unmarshalNullable(b)
	*f = Format(s)
	return err
}

func (l *Language) UnmarshalJSON(b []byte) error {
	s, err := unmarshalNullable(b)
	*l = Language(s)
	return err
}

func nullableString(s string) ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s)
}

func unmarshalNullable(b []byte) (string, error) {
	if string(b) == "null" {
		return "", nil
	}
	var s string
	err := json.Unmarshal(b, &s)
	return s, err
}

// Screening 是单场放映；解析后不可变。
type Screening struct {
	Time     string   `json:"time"` // HH:MM
	Format   Format   `json:"format"`
	Language Language `json:"language"`
}

type CinemaListing struct {
	CinemaName string      `json:"cinema_name"`
	CinemaURL  string      `json:"cinema_url,omitempty"`
	Screenings []Screening `json:"screenings"`
}

type MovieEntry struct {
	Title   string          `json:"title"`
	Cinemas []CinemaListing `json:"cinemas"`
}

// CityDaySchedule 是每个 (city, date) 请求的聚合根：每次新建，导出后丢弃。
type CityDaySchedule struct {
	City      City         `json:"city"`
	Date      string       `json:"date"`
	ScrapedAt time.Time    `json:"scraped_at"`
	Movies    []MovieEntry `json:"movies"`
}

// FlatRecord 是导出用投影：每场放映一行，父级字段全部反规范化。
//
// EventType/CinemaURL 是附带信息：不参与去重主键，也不写入日导出 CSV 的七列。
type FlatRecord struct {
	Date       string
	City       City
	MovieTitle string
	CinemaName string
	Time       string
	Format     Format
	Language   Language

	EventType string
	CinemaURL string
}

// RecordKey 是去重主键。
type RecordKey struct {
	Date       string
	City       City
	CinemaName string
	MovieTitle string
	Time       string
}

func (r FlatRecord) Key() RecordKey {
	return RecordKey{
		Date:       r.Date,
		City:       r.City,
		CinemaName: r.CinemaName,
		MovieTitle: r.MovieTitle,
		Time:       r.Time,
	}
}

// Flatten 把嵌套结构展开为 FlatRecord（保持 movies/cinemas/screenings 的原始顺序）。
// 只展开日导出 CSV 的七列，因此结果与同一 schedule 的 CSV 读回结果一致。
func Flatten(schedules []CityDaySchedule) []FlatRecord {
	out := make([]FlatRecord, 0, 256)
	for _, s := range schedules {
		for _, m := range s.Movies {
			for _, c := range m.Cinemas {
				for _, sc := range c.Screenings {
					out = append(out, FlatRecord{
						Date:       s.Date,
						City:       s.City,
						MovieTitle: m.Title,
						CinemaName: c.CinemaName,
						Time:       sc.Time,
						Format:     sc.Format,
						Language:   sc.Language,
					})
				}
			}
		}
	}
	return out
}

// Counts 返回 (movies, cinemas, screenings)；cinemas 按名称去重。
func (s CityDaySchedule) Counts() (movies, cinemas, screenings int) {
	names := make(map[string]struct{}, 16)
	for _, m := range s.Movies {
		for _, c := range m.Cinemas {
			names[c.CinemaName] = struct{}{}
			screenings += len(c.Screenings)
		}
	}
	return len(s.Movies), len(names), screenings
}

// RawScreening 是 source 解析得到、尚未规范化的一条记录。
//
// Title 保留站点原文（可能带 "3D (dubbing)" 之类后缀）；FormatHint/LanguageHint 是站点
// 额外提供的属性文本（例如 Cinema City 的 attributeIds），可为空。
type RawScreening struct {
	Source       string
	EventType    string
	City         City
	Date         string
	Title        string
	CinemaName   string
	CinemaURL    string
	Time         string
	FormatHint   string
	LanguageHint string
}
