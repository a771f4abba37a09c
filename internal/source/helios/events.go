package helios

import (
	"github.com/John-Robertt/kinopl/internal/domain"
)

const (
	EventRegular = "regular"
	EventKids    = "helios-dla-dzieci"
	EventAnime   = "helios-anime"
)

// Event 是已知的特别活动（首映/儿童场/动漫场），按配置展开为场次。
type Event struct {
	Movie     string   `json:"movie"`
	EventType string   `json:"event_type"`
	Dates     []string `json:"dates"`
	Times     []string `json:"times"`
	Format    string   `json:"format,omitempty"`
	Language  string   `json:"language,omitempty"`
	// Cinemas 是 "city/slug" 列表；为空表示全部影院。
	Cinemas []string `json:"cinemas,omitempty"`
}

// DefaultEvents 是内置的已知活动日历。
func DefaultEvents() []Event {
	first10 := make([]string, 0, 10)
	for _, c := range DefaultCinemas[:10] {
		first10 = append(first10, c.Key())
	}
	return []Event{
		{
			Movie:     "Miss Moxy. Kocia ekipa (dubbing)",
			EventType: EventKids,
			Dates:     []string{"2026-01-10", "2026-01-11"},
			Times:     []string{"10:30", "12:30"},
			Format:    string(domain.Format2D),
			Language:  string(domain.LangDubbing),
		},
		{
			Movie:     "Mała Amelia",
			EventType: EventAnime,
			Dates:     []string{"2026-01-10", "2026-01-11"},
			Times:     []string{"15:00"},
			Format:    string(domain.Format2D),
			Language:  string(domain.LangDubbing),
			Cinemas:   first10,
		},
	}
}

// expand 把已知活动展开为指定日期的 RawScreening。
//
// helios-dla-dzieci 只在周末举办：即使配置了工作日日期也跳过。
func expand(events []Event, cinemas []Cinema, date string) []domain.RawScreening {
	byKey := make(map[string]Cinema, len(cinemas))
	for _, c := range cinemas {
		byKey[c.Key()] = c
	}

	out := make([]domain.RawScreening, 0, 64)
	for _, ev := range events {
		if !contains(ev.Dates, date) {
			continue
		}
		if ev.EventType == EventKids && !domain.IsWeekend(date) {
			continue
		}
		targets := cinemas
		if len(ev.Cinemas) > 0 {
			targets = make([]Cinema, 0, len(ev.Cinemas))
			for _, k := range ev.Cinemas {
				if c, ok := byKey[k]; ok {
					targets = append(targets, c)
				}
			}
		}
		for _, c := range targets {
			for _, tm := range ev.Times {
				out = append(out, domain.RawScreening{
					Source:       Name,
					EventType:    ev.EventType,
					City:         c.CityOf(),
					Date:         date,
					Title:        ev.Movie,
					CinemaName:   c.DisplayName(),
					Time:         tm,
					FormatHint:   ev.Format,
					LanguageHint: ev.Language,
				})
			}
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
