package export

import (
	"encoding/json"
	"io"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// EncodeJSON 以缩进格式输出嵌套结构（UTF-8，非 ASCII 与 HTML 字符均不转义）。
func EncodeJSON(w io.Writer, schedules []domain.CityDaySchedule) error {
	if schedules == nil {
		schedules = []domain.CityDaySchedule{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(schedules)
}

// DecodeJSON 读取 EncodeJSON 的输出。
func DecodeJSON(r io.Reader) ([]domain.CityDaySchedule, error) {
	var out []domain.CityDaySchedule
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
