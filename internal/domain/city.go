package domain

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// City 是城市 slug（保留波兰语变音符号，例如 "kraków"、"zielona-góra"）。
//
// 约束：只能是 AllCities 中的 20 个固定值之一；其他输入必须在 fetch 之前被拒绝。
type City string

var cities = []City{
	"warszawa", "kraków", "wrocław", "poznań", "gdańsk",
	"łódź", "szczecin", "bydgoszcz", "lublin", "katowice",
	"białystok", "gdynia", "częstochowa", "radom", "sosnowiec",
	"kielce", "gliwice", "zielona-góra", "rzeszów", "toruń",
}

// foldedCities: ASCII 折叠形态 -> 规范 slug（"krakow" -> "kraków"）。
var foldedCities = func() map[string]City {
	m := make(map[string]City, len(cities))
	for _, c := range cities {
		m[Fold(string(c))] = c
	}
	return m
}()

// AllCities 返回固定城市列表的副本（顺序稳定，与抓取顺序一致）。
func AllCities() []City {
	return append([]City(nil), cities...)
}

// InvalidCityError 表示输入不属于固定城市集合。
type InvalidCityError struct {
	Input string
}

func (e *InvalidCityError) Error() string {
	return fmt.Sprintf("未知城市：%q（只支持固定的 %d 个城市 slug）", e.Input, len(cities))
}

// ParseCity 校验并规范化城市 slug。
//
// 接受：规范 slug、大小写变体、空格分隔（"Zielona Góra"）、去掉变音符号的 ASCII 形态（"lodz"）。
func ParseCity(s string) (City, error) {
	key := slugify(s)
	if key == "" {
		return "", &InvalidCityError{Input: s}
	}
	for _, c := range cities {
		if string(c) == key {
			return c, nil
		}
	}
	if c, ok := foldedCities[Fold(key)]; ok {
		return c, nil
	}
	return "", &InvalidCityError{Input: s}
}

// ParseCities 逐个校验；任何一个非法都整体失败（配置阶段错误）。
func ParseCities(in []string) ([]City, error) {
	out := make([]City, 0, len(in))
	seen := make(map[City]struct{}, len(in))
	for _, s := range in {
		c, err := ParseCity(s)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func slugify(s string) string {
	s = norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
	return strings.Join(strings.Fields(s), "-")
}

// Fold 把文本转为小写 ASCII 近似形态：去掉组合附加符号，并单独处理不可分解的 "ł"。
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.ReplaceAll(out, "ł", "l")
}
