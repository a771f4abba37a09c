package export

import (
	"sort"
	"time"

	"github.com/John-Robertt/kinopl/internal/domain"
)

// Slot 是一个 (city, date) 聚合位置。
type Slot struct {
	City domain.City
	Date string
}

// Group 把扁平记录聚合为 CityDaySchedule。
//
// - seed 中的 slot 即使没有任何记录也会输出（movies 为空），用于表达“抓取成功但当天无排片”
// - schedules 稳定排序：date -> 城市固定顺序（未知城市按字典序排在最后）
// - 同一 schedule 内 movie/cinema/screening 保持首次出现顺序
// - cinema_url 取该影院第一条非空链接
func Group(records []domain.FlatRecord, scrapedAt time.Time, seed ...Slot) []domain.CityDaySchedule {
	type movieIdx struct {
		pos     int
		cinemas map[string]int
	}
	type acc struct {
		sched  domain.CityDaySchedule
		movies map[string]*movieIdx
	}

	slots := make(map[Slot]*acc, len(seed)+8)
	order := make([]Slot, 0, len(seed)+8)
	get := func(s Slot) *acc {
		if a, ok := slots[s]; ok {
			return a
		}
		a := &acc{
			sched: domain.CityDaySchedule{
				City:      s.City,
				Date:      s.Date,
				ScrapedAt: scrapedAt,
				Movies:    []domain.MovieEntry{},
			},
			movies: make(map[string]*movieIdx, 16),
		}
		slots[s] = a
		order = append(order, s)
		return a
	}

	for _, s := range seed {
		get(s)
	}
	for _, r := range records {
		a := get(Slot{City: r.City, Date: r.Date})
		mi, ok := a.movies[r.MovieTitle]
		if !ok {
			mi = &movieIdx{pos: len(a.sched.Movies), cinemas: make(map[string]int, 4)}
			a.movies[r.MovieTitle] = mi
			a.sched.Movies = append(a.sched.Movies, domain.MovieEntry{Title: r.MovieTitle})
		}
		m := &a.sched.Movies[mi.pos]
		ci, ok := mi.cinemas[r.CinemaName]
		if !ok {
			ci = len(m.Cinemas)
			mi.cinemas[r.CinemaName] = ci
			m.Cinemas = append(m.Cinemas, domain.CinemaListing{CinemaName: r.CinemaName})
		}
		if m.Cinemas[ci].CinemaURL == "" {
			m.Cinemas[ci].CinemaURL = r.CinemaURL
		}
		m.Cinemas[ci].Screenings = append(m.Cinemas[ci].Screenings, domain.Screening{
			Time:     r.Time,
			Format:   r.Format,
			Language: r.Language,
		})
	}

	rank := cityRank()
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		ra, oka := rank[a.City]
		rb, okb := rank[b.City]
		switch {
		case oka && okb:
			return ra < rb
		case oka != okb:
			return oka
		default:
			return a.City < b.City
		}
	})

	out := make([]domain.CityDaySchedule, 0, len(order))
	for _, s := range order {
		out = append(out, slots[s].sched)
	}
	return out
}

func cityRank() map[domain.City]int {
	all := domain.AllCities()
	m := make(map[domain.City]int, len(all))
	for i, c := range all {
		m[c] = i
	}
	return m
}
