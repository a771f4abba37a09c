package cinemacity

import (
	"encoding/json"
	"strings"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// districts 把商场/街区名映射到城市（Cinema City 的 displayName 常只写商场名）。
var districts = []struct {
	key  string
	city domain.City
}{
	{"Bemowo", "warszawa"},
	{"Galeria Mokotów", "warszawa"},
	{"Mokotów", "warszawa"},
	{"Sadyba", "warszawa"},
	{"Arkadia", "warszawa"},
	{"Ursynów", "warszawa"},
	{"Promenada", "warszawa"},
	{"Janki", "warszawa"},
	{"Bonarka", "kraków"},
	{"Serenada", "kraków"},
	{"Kazimierz", "kraków"},
	{"Wroclavia", "wrocław"},
	{"Korona", "wrocław"},
	{"Manufaktura", "łódź"},
	{"Silesia", "katowice"},
	{"Punkt 44", "katowice"},
	{"Felicity", "lublin"},
	{"Focus Mall", "bydgoszcz"},
	{"Riviera", "gdynia"},
}

// 城市名本身（展示形态），用于在影院名称中做子串匹配。
var cityNames = []struct {
	key  string
	city domain.City
}{
	{"Warszawa", "warszawa"},
	{"Kraków", "kraków"},
	{"Wrocław", "wrocław"},
	{"Poznań", "poznań"},
	{"Gdańsk", "gdańsk"},
	{"Łódź", "łódź"},
	{"Szczecin", "szczecin"},
	{"Bydgoszcz", "bydgoszcz"},
	{"Lublin", "lublin"},
	{"Katowice", "katowice"},
	{"Białystok", "białystok"},
	{"Gdynia", "gdynia"},
	{"Częstochowa", "częstochowa"},
	{"Radom", "radom"},
	{"Sosnowiec", "sosnowiec"},
	{"Kielce", "kielce"},
	{"Gliwice", "gliwice"},
	{"Zielona Góra", "zielona-góra"},
	{"Rzeszów", "rzeszów"},
	{"Toruń", "toruń"},
}

// CityOf 推断影院所在城市；不在固定城市集合内（或无法推断）时返回 ""。
//
// 顺序：名称中的城市名 -> 名称中的商场/街区名 -> 地址 -> groupId。
// 比较前统一做 ASCII 折叠，兼容接口偶尔返回的无变音符号写法。
func CityOf(cm Cinema) domain.City {
	name := domain.Fold(cm.DisplayName)
	if c := lookup(name, cityNames); c != "" {
		return c
	}
	if c := lookup(name, districts); c != "" {
		return c
	}
	if c := cityFromAddress(cm.Address); c != "" {
		return c
	}
	group := domain.Fold(cm.GroupID)
	if c := lookup(group, cityNames); c != "" {
		return c
	}
	return lookup(group, districts)
}

func lookup(folded string, table []struct {
	key  string
	city domain.City
}) domain.City {
	if folded == "" {
		return ""
	}
	for _, e := range table {
		if strings.Contains(folded, domain.Fold(e.key)) {
			return e.city
		}
	}
	return ""
}

// cityFromAddress 兼容两种形态：
// - 字符串 "ul. Złota 59, 00-120 Warszawa"：取最后一段的最后一个词
// - 对象 {"city": "Warszawa", ...}
func cityFromAddress(raw json.RawMessage) domain.City {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parts := strings.Split(s, ",")
		words := strings.Fields(parts[len(parts)-1])
		if len(words) == 0 {
			return ""
		}
		// "00-120 Zielona Góra"：先试整段（去邮编），再试最后一个词。
		if len(words) > 1 {
			if c, err := domain.ParseCity(strings.Join(words[1:], " ")); err == nil {
				return c
			}
		}
		if c, err := domain.ParseCity(words[len(words)-1]); err == nil {
			return c
		}
		return ""
	}
	var obj struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.City != "" {
		if c, err := domain.ParseCity(obj.City); err == nil {
			return c
		}
		return lookup(domain.Fold(obj.City), districts)
	}
	return ""
}
