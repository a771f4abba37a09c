package helios

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// Cinema 是一家 Helios 影院：City/Slug 是 helios.pl 路径中的两段（ASCII）。
type Cinema struct {
	City string `json:"city"`
	Slug string `json:"slug"`
	Name string `json:"name,omitempty"` // 为空时由 City/Slug 生成
}

// Key 是配置里引用影院时使用的 "city/slug"。
func (c Cinema) Key() string { return c.City + "/" + c.Slug }

// DisplayName 返回用于记录与工作表的影院名称（"Helios Wrocław Magnolia Park"）。
func (c Cinema) DisplayName() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	title := cases.Title(language.Polish)
	city := c.City
	if parsed, err := domain.ParseCity(c.City); err == nil {
		city = string(parsed)
	}
	city = title.String(strings.ReplaceAll(city, "-", " "))

	rest := strings.TrimPrefix(strings.TrimPrefix(c.Slug, "kino-helios"), "-")
	if rest == "" {
		return "Helios " + city
	}
	return "Helios " + city + " " + title.String(strings.ReplaceAll(rest, "-", " "))
}

// CityOf 返回影院所属的固定城市；不在集合内（例如 opole）时返回 ""。
func (c Cinema) CityOf() domain.City {
	city, err := domain.ParseCity(c.City)
	if err != nil {
		return ""
	}
	return city
}

// DefaultCinemas 是全部已知 Helios 影院。
var DefaultCinemas = []Cinema{
	{City: "warszawa", Slug: "kino-helios-blue-city"},
	{City: "lodz", Slug: "kino-helios"},
	{City: "wroclaw", Slug: "kino-helios-magnolia-park"},
	{City: "wroclaw", Slug: "kino-helios-aleja-bielany"},
	{City: "gdansk", Slug: "kino-helios-alfa-centrum"},
	{City: "gdansk", Slug: "kino-helios-forum"},
	{City: "bialystok", Slug: "kino-helios-alfa"},
	{City: "bialystok", Slug: "kino-helios-galeria-biala"},
	{City: "bialystok", Slug: "kino-helios-galeria-jurowiecka"},
	{City: "szczecin", Slug: "kino-helios-outlet-park"},
	{City: "szczecin", Slug: "kino-helios-kupiec"},
	{City: "katowice", Slug: "kino-helios"},
	{City: "krakow", Slug: "kino-helios"},
	{City: "poznan", Slug: "kino-helios-arena"},
	{City: "poznan", Slug: "kino-helios-pestka"},
	{City: "opole", Slug: "kino-helios-solaris"},
	{City: "opole", Slug: "kino-helios-karolinka"},
	{City: "olsztyn", Slug: "kino-helios"},
	{City: "torun", Slug: "kino-helios"},
	{City: "kielce", Slug: "kino-helios"},
	{City: "rzeszow", Slug: "kino-helios"},
	{City: "lublin", Slug: "kino-helios-plaza"},
	{City: "bydgoszcz", Slug: "kino-helios-focus"},
	{City: "czestochowa", Slug: "kino-helios-galeria-jurajska"},
	{City: "radom", Slug: "kino-helios"},
	{City: "gliwice", Slug: "kino-helios-arena"},
	{City: "sosnowiec", Slug: "kino-helios-plaza"},
	{City: "siedlce", Slug: "kino-helios"},
	{City: "plock", Slug: "kino-helios-galeria-wisla"},
	{City: "legnica", Slug: "kino-helios"},
	{City: "gorzow-wielkopolski", Slug: "kino-helios-askana"},
}

// DefaultLive 是默认抓取实时排片的影院（其余影院只展开已知活动）。
var DefaultLive = []string{"warszawa/kino-helios-blue-city"}
