// Package export 负责 CSV / JSON 两种导出格式的读写，以及扁平记录到嵌套结构的聚合。
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// Header 是 CSV 的固定列顺序。
var Header = []string{"date", "city", "movie_title", "cinema_name", "time", "format", "language"}

// SourceHeader 用于来源 CSV 与合并结果：在 Header 之后追加 event_type、cinema_url。
var SourceHeader = append(append([]string(nil), Header...), "event_type", "cinema_url")

var requiredColumns = []string{"date", "city", "movie_title", "cinema_name", "time"}

// bom 让 Excel 按 UTF-8 打开。
const bom = "\ufeff"

// MissingColumnError 表示 CSV 缺少必需列。
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("CSV 缺少必需列：%s", e.Column)
}

// WriteCSV 按 Header 顺序写出记录（UTF-8 BOM，非拉丁字符原样输出）。
func WriteCSV(w io.Writer, recs []domain.FlatRecord) error {
	return writeCSV(w, Header, recs)
}

// WriteSourceCSV 按 SourceHeader 写出，保留 event_type 与 cinema_url。
func WriteSourceCSV(w io.Writer, recs []domain.FlatRecord) error {
	return writeCSV(w, SourceHeader, recs)
}

func writeCSV(w io.Writer, header []string, recs []domain.FlatRecord) error {
	if _, err := io.WriteString(w, bom); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	extra := len(header) > len(Header)
	for _, r := range recs {
		row := []string{
			r.Date,
			string(r.City),
			r.MovieTitle,
			r.CinemaName,
			r.Time,
			string(r.Format),
			string(r.Language),
		}
		if extra {
			row = append(row, r.EventType, r.CinemaURL)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalCSV 是 WriteCSV 的字节版本。
func MarshalCSV(recs []domain.FlatRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalSourceCSV 是 WriteSourceCSV 的字节版本。
func MarshalSourceCSV(recs []domain.FlatRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteSourceCSV(&buf, recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadCSV 读取扁平 CSV。
//
// - 列按表头名称定位，顺序不限；多余列（day/scraped_at 等）忽略
// - format/language/event_type/cinema_url 列可缺省
// - 必需字段为空的行被跳过（skipped 计数）
func ReadCSV(r io.Reader) (recs []domain.FlatRecord, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	head, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, &MissingColumnError{Column: requiredColumns[0]}
		}
		return nil, 0, err
	}
	idx := make(map[string]int, len(head))
	for i, h := range head {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	for _, c := range requiredColumns {
		if _, ok := idx[c]; !ok {
			return nil, 0, &MissingColumnError{Column: c}
		}
	}

	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	recs = make([]domain.FlatRecord, 0, 256)
	for {
		row, e := cr.Read()
		if errors.Is(e, io.EOF) {
			break
		}
		if e != nil {
			return nil, 0, e
		}
		rec := domain.FlatRecord{
			Date:       get(row, "date"),
			MovieTitle: get(row, "movie_title"),
			CinemaName: get(row, "cinema_name"),
			Time:       get(row, "time"),
			Format:     domain.Format(get(row, "format")),
			Language:   domain.Language(get(row, "language")),
			EventType:  get(row, "event_type"),
			CinemaURL:  get(row, "cinema_url"),
		}
		city := get(row, "city")
		if c, err := domain.ParseCity(city); err == nil {
			rec.City = c
		} else {
			rec.City = domain.City(city)
		}
		if rec.Date == "" || rec.City == "" || rec.MovieTitle == "" || rec.CinemaName == "" || rec.Time == "" {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	return recs, skipped, nil
}
