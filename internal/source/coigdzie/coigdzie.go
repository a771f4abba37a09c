// Package coigdzie 实现 kino.coigdzie.pl（按城市 + 日期分页的排片聚合站）的抓取与解析。
//
// 页面层级是 电影 -> 影院 -> 场次：每个 div.movie 下有若干 div.cinema.row，
// 每行含影院链接 a.cinemaname 与若干 span.badge[data-time]（"2026-01-10 14:30:00"）。
package coigdzie

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
	"github.com/John-Robertt/kinopl/internal/normalize"
	"github.com/John-Robertt/kinopl/internal/source"
)

const (
	Name           = "coigdzie"
	DefaultBaseURL = "https://kino.coigdzie.pl"
	EventRegular   = "regular"
)

// 容器级回退：主选择器在前。
var (
	movieBlocks = []string{"div.movie", "article.movie", "[data-movie]"}
	cinemaRows  = []string{"div.cinema.row", "div.cinema", "[data-cinema]"}
)

var titleChain = []normalize.Locator{
	normalize.Text("h2"),
	normalize.Text("h3"),
	normalize.Text(".title"),
	normalize.Attr("[data-title]", "data-title"),
}

var cinemaChain = []normalize.Locator{
	normalize.Text("a.cinemaname"),
	normalize.Text("a[href*='/kino/']"),
	normalize.Text(".cinema-name"),
}

var cinemaHrefChain = []normalize.Locator{
	normalize.Attr("a.cinemaname", "href"),
	normalize.Attr("a[href*='/kino/']", "href"),
}

// Source 实现 source.Source。
type Source struct {
	BaseURL string
}

func New(baseURL string) Source {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Source{BaseURL: baseURL}
}

func (Source) Name() string        { return Name }
func (Source) Scope() source.Scope { return source.PerCity }
func (Source) PayloadExt() string  { return "html" }

// PageURL 返回 <base>/miasto/<city>/dzien/<date>（城市 slug 保留变音符号）。
func (s Source) PageURL(city domain.City, date string) string {
	return s.base() + "/miasto/" + url.PathEscape(string(city)) + "/dzien/" + url.PathEscape(date)
}

func (s Source) Fetch(ctx context.Context, u domain.FetchUnit, c *http.Client, p *pace.Pacer) ([]byte, error) {
	if u.City == "" {
		return nil, errors.New("city 不能为空")
	}
	if u.Date == "" {
		return nil, errors.New("date 不能为空")
	}
	return source.Get(ctx, c, p, s.PageURL(u.City, u.Date), source.AcceptHTML)
}

// Parse 把城市日排片页解析为 RawScreening。
//
// 找不到任何电影容器时返回空结果（当天无排片或页面改版），不是错误。
// 片名在所有定位器之后仍为空的容器，以空片名返回一条记录，交给 normalize 计为解析失败。
func (s Source) Parse(u domain.FetchUnit, payload []byte) ([]domain.RawScreening, error) {
	if len(payload) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawScreening, 0, 64)
	normalize.FindAll(doc.Selection, movieBlocks...).Each(func(_ int, block *goquery.Selection) {
		title, _ := normalize.First(block, titleChain...)
		rows := normalize.FindAll(block, cinemaRows...)

		if title == "" {
			if rows.Length() > 0 {
				out = append(out, s.raw(u, "", "", ""))
			}
			return
		}

		rows.Each(func(_ int, row *goquery.Selection) {
			cinema, _ := normalize.First(row, cinemaChain...)
			href, _ := normalize.First(row, cinemaHrefChain...)
			cinemaURL := s.resolve(href)

			for _, tm := range rowTimes(row) {
				r := s.raw(u, title, cinema, tm)
				r.CinemaURL = cinemaURL
				out = append(out, r)
			}
		})
	})
	return out, nil
}

func (s Source) raw(u domain.FetchUnit, title, cinema, tm string) domain.RawScreening {
	return domain.RawScreening{
		Source:     Name,
		EventType:  EventRegular,
		City:       u.City,
		Date:       u.Date,
		Title:      title,
		CinemaName: cinema,
		Time:       tm,
	}
}

// rowTimes 优先读 span.badge[data-time]；没有时回退为整行文本里的 HH:MM。
func rowTimes(row *goquery.Selection) []string {
	times := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	row.Find("span.badge[data-time], [data-time]").Each(func(_ int, b *goquery.Selection) {
		v, _ := b.Attr("data-time")
		if tm, ok := normalize.Time(v); ok {
			if _, dup := seen[tm]; !dup {
				seen[tm] = struct{}{}
				times = append(times, tm)
			}
		}
	})
	if len(times) > 0 {
		return times
	}
	text := row.Clone()
	text.Find("a.cinemaname, a[href*='/kino/'], .cinema-name").Remove()
	return normalize.Times(text.Text())
}

func (s Source) base() string {
	if s.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s Source) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	b, err := url.Parse(s.base() + "/")
	if err != nil {
		return href
	}
	r, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(r).String()
}
