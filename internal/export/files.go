package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/fsx"
)

// CSVName 返回某日期的 CSV 文件名（cinema_<date>.csv）。
func CSVName(date string) string { return fmt.Sprintf("cinema_%s.csv", date) }

// JSONName 返回某日期的 JSON 文件名（cinema_<date>.json）。
func JSONName(date string) string { return fmt.Sprintf("cinema_%s.json", date) }

// WriteDay 把同一日期的 schedules 原子写为 CSV + JSON，返回写入的路径。
//
// CSV 行由 Flatten(schedules) 得到，因此两种格式的记录集合始终一致。
func WriteDay(dir, date string, schedules []domain.CityDaySchedule) ([]string, error) {
	csvData, err := MarshalCSV(domain.Flatten(schedules))
	if err != nil {
		return nil, err
	}
	var jsonBuf bytes.Buffer
	if err := EncodeJSON(&jsonBuf, schedules); err != nil {
		return nil, err
	}

	paths := make([]string, 0, 2)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{CSVName(date), csvData},
		{JSONName(date), jsonBuf.Bytes()},
	} {
		if err := fsx.WriteFile(filepath.Join(dir, f.name), f.data); err != nil {
			return paths, err
		}
		paths = append(paths, filepath.Join(dir, f.name))
	}
	return paths, nil
}

// WriteCSVFile 原子写出扁平 CSV。
func WriteCSVFile(path string, recs []domain.FlatRecord) error {
	data, err := MarshalCSV(recs)
	if err != nil {
		return err
	}
	return fsx.WriteFile(path, data)
}

// WriteSourceCSVFile 原子写出带 event_type/cinema_url 的 CSV（来源 CSV、合并结果）。
func WriteSourceCSVFile(path string, recs []domain.FlatRecord) error {
	data, err := MarshalSourceCSV(recs)
	if err != nil {
		return err
	}
	return fsx.WriteFile(path, data)
}

// ReadCSVFile 读取 CSV 文件；skipped 为因必需字段为空而跳过的行数。
func ReadCSVFile(path string) ([]domain.FlatRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	recs, skipped, err := ReadCSV(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	return recs, skipped, nil
}
