// Package cinemacity 通过 Cinema City 官方 data-api 获取全国排片（按日期，一次覆盖全部城市）。
//
// 三步：影院列表 -> 影片列表 -> 每家影院当日场次。Fetch 把三步结果打包为一个 JSON payload，
// Parse 只依赖该 payload。
package cinemacity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
	"github.com/John-Robertt/kinopl/internal/normalize"
	"github.com/John-Robertt/kinopl/internal/source"
)

const (
	Name           = "cinemacity"
	DefaultBaseURL = "https://www.cinema-city.pl/pl/data-api-service/v1/quickbook/10103"
	EventRegular   = "regular"

	// 影院/影片列表查询的窗口：until = date + lookahead。
	lookahead = 7 * 24 * time.Hour
)

type Cinema struct {
	ID          string          `json:"id"`
	GroupID     string          `json:"groupId,omitempty"`
	DisplayName string          `json:"displayName"`
	Address     json.RawMessage `json:"address,omitempty"`
}

type Film struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	AttributeIDs []string `json:"attributeIds,omitempty"`
}

type Event struct {
	ID            string   `json:"id"`
	FilmID        string   `json:"filmId"`
	CinemaID      string   `json:"cinemaId"`
	EventDateTime string   `json:"eventDateTime"`
	AttributeIDs  []string `json:"attributeIds,omitempty"`
	BookingLink   string   `json:"bookingLink,omitempty"`
	SoldOut       bool     `json:"soldOut,omitempty"`
}

// Bundle 是 Fetch 的输出（也是原始响应缓存的内容）。
type Bundle struct {
	Date    string             `json:"date"`
	Cinemas []Cinema           `json:"cinemas"`
	Films   []Film             `json:"films"`
	Events  map[string][]Event `json:"events"` // key: cinema id
	// Failed 记录场次请求失败的影院 id（不影响其它影院）。
	Failed []string `json:"failed,omitempty"`
}

type envelope struct {
	Body struct {
		Cinemas []Cinema `json:"cinemas"`
		Films   []Film   `json:"films"`
		Events  []Event  `json:"events"`
	} `json:"body"`
}

// Source 实现 source.Source。
type Source struct {
	BaseURL string
	Log     logrus.FieldLogger
}

func New(baseURL string, log logrus.FieldLogger) Source {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return Source{BaseURL: baseURL, Log: log}
}

func (Source) Name() string        { return Name }
func (Source) Scope() source.Scope { return source.PerDate }
func (Source) PayloadExt() string  { return "json" }

// Fetch 执行三步查询。
//
// - 影院列表或影片列表请求失败：整个单元失败
// - 任一列表为空：返回空 bundle（当天无排片，不是错误）
// - 单个影院的场次请求失败：记录 warning 并继续其它影院
func (s Source) Fetch(ctx context.Context, u domain.FetchUnit, c *http.Client, p *pace.Pacer) ([]byte, error) {
	d, err := time.Parse(domain.DateLayout, u.Date)
	if err != nil {
		return nil, fmt.Errorf("非法日期：%q", u.Date)
	}
	until := d.Add(lookahead).Format(domain.DateLayout)
	log := s.logger().WithFields(logrus.Fields{"source": Name, "date": u.Date})

	b := Bundle{Date: u.Date, Cinemas: []Cinema{}, Films: []Film{}, Events: map[string][]Event{}}

	var cin envelope
	if err := s.getJSON(ctx, c, p, "/cinemas/with-event/until/"+until, &cin); err != nil {
		return nil, fmt.Errorf("影院列表：%w", err)
	}
	b.Cinemas = append(b.Cinemas, cin.Body.Cinemas...)
	if len(b.Cinemas) == 0 {
		log.Warn("影院列表为空")
		return json.Marshal(b)
	}

	var films envelope
	if err := s.getJSON(ctx, c, p, "/films/until/"+until, &films); err != nil {
		return nil, fmt.Errorf("影片列表：%w", err)
	}
	b.Films = append(b.Films, films.Body.Films...)
	if len(b.Films) == 0 {
		log.Warn("影片列表为空")
		return json.Marshal(b)
	}

	for i, cm := range b.Cinemas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ev envelope
		path := "/film-events/in-cinema/" + url.PathEscape(cm.ID) + "/at-date/" + u.Date
		if err := s.getJSON(ctx, c, p, path, &ev); err != nil {
			log.WithFields(logrus.Fields{"cinema": cm.DisplayName, "cinema_id": cm.ID}).WithError(err).Warn("场次请求失败，跳过该影院")
			b.Failed = append(b.Failed, cm.ID)
			continue
		}
		b.Events[cm.ID] = ev.Body.Events
		log.WithFields(logrus.Fields{"cinema": cm.DisplayName, "events": len(ev.Body.Events)}).
			Debugf("[%d/%d] 场次", i+1, len(b.Cinemas))
	}
	return json.Marshal(b)
}

// Parse 把 bundle 展开为 RawScreening；城市由影院名称/地址推断，推断不出时 City 为空（由上层过滤）。
func (s Source) Parse(u domain.FetchUnit, payload []byte) ([]domain.RawScreening, error) {
	var b Bundle
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, err
	}
	date := b.Date
	if date == "" {
		date = u.Date
	}

	films := make(map[string]Film, len(b.Films))
	for _, f := range b.Films {
		films[f.ID] = f
	}

	out := make([]domain.RawScreening, 0, 256)
	for _, cm := range b.Cinemas {
		city := CityOf(cm)
		name := CinemaName(cm)
		for _, ev := range b.Events[cm.ID] {
			if strings.TrimSpace(ev.EventDateTime) == "" {
				continue
			}
			// 场次日期与请求日期不一致时丢弃（接口偶尔返回跨日场次）。
			if len(ev.EventDateTime) >= 10 && ev.EventDateTime[:10] != date {
				continue
			}
			f := films[ev.FilmID]
			attrs := strings.Join(append(append([]string(nil), ev.AttributeIDs...), f.AttributeIDs...), " ")
			out = append(out, domain.RawScreening{
				Source:       Name,
				EventType:    EventRegular,
				City:         city,
				Date:         date,
				Title:        f.Name,
				CinemaName:   name,
				Time:         ev.EventDateTime,
				FormatHint:   formatHint(ev.AttributeIDs),
				LanguageHint: attrs,
			})
		}
	}
	return out, nil
}

// CinemaName 保证名称带 "Cinema City" 前缀（工作表按名称路由到连锁分页）。
func CinemaName(cm Cinema) string {
	name := normalize.NormSpace(cm.DisplayName)
	if name == "" {
		name = cm.ID
	}
	if strings.Contains(strings.ToLower(name), "cinema city") {
		return name
	}
	return "Cinema City " + name
}

// formatHint：IMAX > 4DX > 3D > 2D；ScreenX / Dolby 等其它属性视为 2D。
func formatHint(attrs []string) string {
	if f := normalize.DetectFormat(strings.Join(attrs, " ")); f != "" {
		return string(f)
	}
	return string(domain.Format2D)
}

func (s Source) getJSON(ctx context.Context, c *http.Client, p *pace.Pacer, path string, out any) error {
	b, err := source.Get(ctx, c, p, s.base()+path, source.AcceptJSON)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("响应不是合法 JSON：%w", err)
	}
	return nil
}

func (s Source) base() string {
	if s.BaseURL == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s Source) logger() logrus.FieldLogger {
	if s.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return s.Log
}
