package planner

import (
	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/source"
)

// Plan 生成确定性的抓取单元列表（不发任何请求）。
//
// 顺序：date -> source（按传入顺序）-> city（按传入顺序）。
// 按日期整体抓取的 source 每个日期只生成一个单元（City 为空）。
func Plan(dates []string, cities []domain.City, sources []source.Source) []domain.FetchUnit {
	units := make([]domain.FetchUnit, 0, len(dates)*(len(cities)+len(sources)))
	for _, d := range dates {
		for _, s := range sources {
			if s.Scope() == source.PerDate {
				units = append(units, domain.FetchUnit{Source: s.Name(), Date: d})
				continue
			}
			for _, c := range cities {
				units = append(units, domain.FetchUnit{Source: s.Name(), City: c, Date: d})
			}
		}
	}
	return units
}

// Select 按名称从 registry 取出 source；未知名称原样返回给调用方报错。
func Select(reg source.Registry, names []string) ([]source.Source, []string) {
	out := make([]source.Source, 0, len(names))
	var missing []string
	for _, n := range names {
		s, ok := reg.Get(n)
		if !ok {
			missing = append(missing, n)
			continue
		}
		out = append(out, s)
	}
	return out, missing
}

// Counts 按 source 统计单元数（用于开始前的进度提示）。
func Counts(units []domain.FetchUnit) map[string]int {
	out := make(map[string]int, 4)
	for _, u := range units {
		out[u.Source]++
	}
	return out
}
