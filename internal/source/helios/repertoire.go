package helios

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/normalize"
)

var filmBlocks = []string{"div.movie-item", "div.film-item", "article.film", `div[class*="movie"]`}

var filmTitleChain = []normalize.Locator{
	normalize.Text("h2"),
	normalize.Text("h3"),
	normalize.Text(".title"),
	normalize.Text(".film-title"),
}

var timeChain = []normalize.Locator{
	normalize.Attr("", "data-time"),
	normalize.Attr("", "datetime"),
	normalize.Text(""),
}

var (
	dateRE = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	// Nuxt 状态中的影片名与场次时间，按出现顺序交替扫描。
	nuxtRE = regexp.MustCompile(`"name"\s*:\s*"([^"]{3,100})"|"timeFrom"\s*:\s*"(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2})`)
)

// parseRepertoire 解析一家影院的排片页。
//
// 优先使用影片容器；没有容器时回退到 Nuxt 状态：每个 timeFrom 归属于它之前最近出现的影片名。
func parseRepertoire(html string, cm Cinema, date string) ([]domain.RawScreening, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawScreening, 0, 32)
	blocks := normalize.FindAll(doc.Selection, filmBlocks...)
	if blocks.Length() == 0 {
		return fromNuxt(html, cm, date), nil
	}

	blocks.Each(func(_ int, block *goquery.Selection) {
		title, _ := normalize.First(block, filmTitleChain...)
		if title == "" {
			return
		}
		seen := make(map[string]struct{}, 8)
		block.Find("time, .time, .showtime, span[data-time]").Each(func(_ int, el *goquery.Selection) {
			v, _ := normalize.First(el, timeChain...)
			if d := dateRE.FindString(v); d != "" && d != date {
				return
			}
			tm, ok := normalize.Time(v)
			if !ok {
				return
			}
			if _, dup := seen[tm]; dup {
				return
			}
			seen[tm] = struct{}{}
			out = append(out, liveRaw(cm, date, title, tm))
		})
	})
	return out, nil
}

func fromNuxt(html string, cm Cinema, date string) []domain.RawScreening {
	out := make([]domain.RawScreening, 0, 16)
	current := ""
	seen := make(map[string]struct{}, 16)
	for _, m := range nuxtRE.FindAllStringSubmatch(html, -1) {
		if m[1] != "" {
			if isTechnical(m[1]) {
				continue
			}
			current = m[1]
			continue
		}
		if current == "" || m[2] != date {
			continue
		}
		k := current + "\x00" + m[3]
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, liveRaw(cm, date, current, m[3]))
	}
	return out
}

func isTechnical(s string) bool {
	low := strings.ToLower(s)
	for _, x := range []string{"http", "www", ".pl", ".com", "cloudflare"} {
		if strings.Contains(low, x) {
			return true
		}
	}
	return false
}

func liveRaw(cm Cinema, date, title, tm string) domain.RawScreening {
	return domain.RawScreening{
		Source:     Name,
		EventType:  EventRegular,
		City:       cm.CityOf(),
		Date:       date,
		Title:      title,
		CinemaName: cm.DisplayName(),
		Time:       tm,
	}
}
