// Package sheets 把扁平记录按连锁写入 Google 表格的四个工作表。
package sheets

import (
	"strings"

	"github.com/John-Robertt/kinopl/internal/domain"
)

const (
	TabCinemaCity = "Cinema City"
	TabMultikino  = "Multikino"
	TabHelios     = "Helios"
	TabOther      = "Inne"
)

// Tabs 是固定的工作表顺序。
var Tabs = []string{TabCinemaCity, TabMultikino, TabHelios, TabOther}

// Header 是新建工作表时写入的表头。
var Header = []string{"Date", "City", "Movie", "Cinema", "Time", "Format", "Language"}

// ChainOf 按影院名称判定连锁（不区分大小写）。
func ChainOf(cinema string) string {
	low := strings.ToLower(cinema)
	switch {
	case strings.Contains(low, "multikino"):
		return TabMultikino
	case strings.Contains(low, "cinema city"):
		return TabCinemaCity
	case strings.Contains(low, "helios"):
		return TabHelios
	default:
		return TabOther
	}
}

// ByChain 把记录分到各工作表（保持原顺序）。
func ByChain(recs []domain.FlatRecord) map[string][]domain.FlatRecord {
	out := make(map[string][]domain.FlatRecord, len(Tabs))
	for _, r := range recs {
		tab := ChainOf(r.CinemaName)
		out[tab] = append(out[tab], r)
	}
	return out
}

// Row 是记录在工作表中的一行（列顺序与 Header 一致）。
func Row(r domain.FlatRecord) []string {
	return []string{r.Date, string(r.City), r.MovieTitle, r.CinemaName, r.Time, string(r.Format), string(r.Language)}
}
