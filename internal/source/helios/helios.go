// Package helios 抓取 Helios 连锁的特别活动与实时排片。
//
// 两部分数据：
// - 已知活动日历（配置项，任何日期都可展开，包括历史日期）
// - 实时排片页（Nuxt SSR），只对今天及以后的日期抓取，尽力而为
package helios

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
	"github.com/John-Robertt/kinopl/internal/source"
)

const (
	Name           = "helios"
	DefaultBaseURL = "https://helios.pl"
)

// Page 是一家影院排片页的抓取结果。
type Page struct {
	Cinema string `json:"cinema"` // "city/slug"
	HTML   string `json:"html,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Bundle 是 Fetch 的输出。
type Bundle struct {
	Date  string `json:"date"`
	Pages []Page `json:"pages"`
}

// Source 实现 source.Source。
type Source struct {
	BaseURL string
	Cinemas []Cinema
	Live    []string // 抓取实时排片的影院 "city/slug"
	Events  []Event
	Now     func() time.Time
	Log     logrus.FieldLogger
}

func (Source) Name() string        { return Name }
func (Source) Scope() source.Scope { return source.PerDate }
func (Source) PayloadExt() string  { return "json" }

// RepertoireURL 返回 <base>/<city>/<slug>/repertuar。
func (s Source) RepertoireURL(c Cinema) string {
	return s.base() + "/" + c.City + "/" + c.Slug + "/repertuar"
}

// Fetch 抓取实时排片页；历史日期不发请求（只展开已知活动）。
// 单个影院失败记录在 Page.Err 中并继续，Helios 不会让整个单元失败。
func (s Source) Fetch(ctx context.Context, u domain.FetchUnit, c *http.Client, p *pace.Pacer) ([]byte, error) {
	if _, err := time.Parse(domain.DateLayout, u.Date); err != nil {
		return nil, fmt.Errorf("非法日期：%q", u.Date)
	}
	b := Bundle{Date: u.Date, Pages: []Page{}}
	log := s.logger().WithFields(logrus.Fields{"source": Name, "date": u.Date})

	if u.Date < s.now().Format(domain.DateLayout) {
		log.Debug("历史日期：跳过实时排片，只展开已知活动")
		return json.Marshal(b)
	}

	byKey := make(map[string]Cinema, len(s.cinemas()))
	for _, cm := range s.cinemas() {
		byKey[cm.Key()] = cm
	}
	for _, key := range s.Live {
		cm, ok := byKey[key]
		if !ok {
			log.WithField("cinema", key).Warn("未知 Helios 影院，跳过")
			continue
		}
		html, err := source.Get(ctx, c, p, s.RepertoireURL(cm), source.AcceptHTML)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithField("cinema", key).WithError(err).Warn("排片页抓取失败")
			b.Pages = append(b.Pages, Page{Cinema: key, Err: err.Error()})
			continue
		}
		b.Pages = append(b.Pages, Page{Cinema: key, HTML: string(html)})
	}
	return json.Marshal(b)
}

// Parse 合并已知活动与实时排片。结果为空不是错误。
func (s Source) Parse(u domain.FetchUnit, payload []byte) ([]domain.RawScreening, error) {
	var b Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, err
	}
	date := b.Date
	if date == "" {
		date = u.Date
	}
	if date == "" {
		return nil, errors.New("date 不能为空")
	}

	cinemas := s.cinemas()
	out := expand(s.Events, cinemas, date)

	byKey := make(map[string]Cinema, len(cinemas))
	for _, cm := range cinemas {
		byKey[cm.Key()] = cm
	}
	for _, pg := range b.Pages {
		if pg.HTML == "" {
			continue
		}
		cm, ok := byKey[pg.Cinema]
		if !ok {
			continue
		}
		raws, err := parseRepertoire(pg.HTML, cm, date)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pg.Cinema, err)
		}
		out = append(out, raws...)
	}
	return out, nil
}

func (s Source) cinemas() []Cinema {
	if len(s.Cinemas) == 0 {
		return DefaultCinemas
	}
	return s.Cinemas
}

func (s Source) base() string {
	if strings.TrimSpace(s.BaseURL) == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
}

func (s Source) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s Source) logger() logrus.FieldLogger {
	if s.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return s.Log
}
