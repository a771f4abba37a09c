package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout 是所有对外日期的唯一格式。
const DateLayout = "2006-01-02"

// polishDays 按 time.Weekday 索引（Sunday=0）。
var polishDays = [7]string{
	"niedziela", "poniedzialek", "wtorek", "sroda", "czwartek", "piatek", "sobota",
}

// InvalidDateError 表示日期既不是 YYYY-MM-DD，也不是可识别的相对日名。
type InvalidDateError struct {
	Input string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("无法识别的日期：%q（需要 YYYY-MM-DD 或波兰语日名，例如 sobota/jutro）", e.Input)
}

// NormalizeDate 把显式日期或相对日名统一规范为 YYYY-MM-DD。
//
// 相对日名（poniedziałek…niedziela，带或不带变音符号）解析为 now 当天或之后最近的一天；
// "dzisiaj"/"dziś" 为 now 当天，"jutro" 为次日。
func NormalizeDate(s string, now time.Time) (string, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return "", &InvalidDateError{Input: s}
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t.Format(DateLayout), nil
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch name := Fold(raw); name {
	case "dzisiaj", "dzis":
		return today.Format(DateLayout), nil
	case "jutro":
		return today.AddDate(0, 0, 1).Format(DateLayout), nil
	default:
		for wd, day := range polishDays {
			if day != name {
				continue
			}
			diff := (wd - int(today.Weekday()) + 7) % 7
			return today.AddDate(0, 0, diff).Format(DateLayout), nil
		}
	}
	return "", &InvalidDateError{Input: s}
}

// PolishDayName 返回 YYYY-MM-DD 对应的波兰语日名（ASCII 形态，与站点 URL 一致）。
func PolishDayName(date string) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return ""
	}
	return polishDays[t.Weekday()]
}

// IsWeekend 判断日期是否为周六/周日；非法日期返回 false。
func IsWeekend(date string) bool {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return false
	}
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}
