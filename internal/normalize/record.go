package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// ParseError 表示片段在所有回退定位器之后仍无法提取必要字段（丢弃并计数，不是致命错误）。
type ParseError struct {
	Source string
	Field  string
	Input  string
}

func (e *ParseError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("%s: 缺少字段 %s", e.Source, e.Field)
	}
	return fmt.Sprintf("%s: 字段 %s 无法解析：%q", e.Source, e.Field, e.Input)
}

// nowFunc 只用于解析相对日名；测试可替换。
var nowFunc = time.Now

var timeRE = regexp.MustCompile(`([0-2]?[0-9]):([0-5][0-9])`)

// Time 从任意文本中取第一个 HH:MM（"9:05" -> "09:05"，"2026-01-10 14:30:00" -> "14:30"）。
func Time(s string) (string, bool) {
	all := Times(s)
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

// Times 提取文本中所有 HH:MM（保持出现顺序、去重）。
// 数字段两侧必须不是数字，避免把 "114:305" 之类的噪音当成时间。
func Times(s string) []string {
	out := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	for _, m := range timeRE.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > 0 && isDigit(s[m[0]-1]) {
			continue
		}
		if m[1] < len(s) && isDigit(s[m[1]]) {
			continue
		}
		h, err := strconv.Atoi(s[m[2]:m[3]])
		if err != nil || h > 23 {
			continue
		}
		t := fmt.Sprintf("%02d:%s", h, s[m[4]:m[5]])
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Record 把一条原始放映记录规范化为 FlatRecord。
//
// 顺序：片名规范化 -> 从片名标记取格式/语言 -> 标记缺失时回退到站点属性提示。
// 片名、影院、时间任一缺失都返回 *ParseError。
func Record(raw domain.RawScreening) (domain.FlatRecord, error) {
	parts := Title(raw.Title)
	if parts.Title == "" {
		return domain.FlatRecord{}, &ParseError{Source: raw.Source, Field: "title", Input: raw.Title}
	}
	cinema := NormSpace(raw.CinemaName)
	if cinema == "" {
		return domain.FlatRecord{}, &ParseError{Source: raw.Source, Field: "cinema_name"}
	}
	tm, ok := Time(raw.Time)
	if !ok {
		return domain.FlatRecord{}, &ParseError{Source: raw.Source, Field: "time", Input: raw.Time}
	}
	date, err := domain.NormalizeDate(raw.Date, nowFunc())
	if err != nil {
		return domain.FlatRecord{}, &ParseError{Source: raw.Source, Field: "date", Input: raw.Date}
	}

	format := parts.Format
	if format == "" {
		format = DetectFormat(raw.FormatHint)
	}
	lang := parts.Language
	if lang == "" {
		lang = DetectLanguage(raw.LanguageHint)
	}

	return domain.FlatRecord{
		Date:       date,
		City:       raw.City,
		MovieTitle: parts.Title,
		CinemaName: cinema,
		Time:       tm,
		Format:     format,
		Language:   lang,
		EventType:  NormSpace(raw.EventType),
		CinemaURL:  NormSpace(raw.CinemaURL),
	}, nil
}
