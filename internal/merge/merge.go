// Package merge 按去重主键 (date, city, cinema_name, movie_title, time) 合并放映记录。
package merge

import "github.com/John-Robertt/kinopl/internal/domain"

// Stats 描述一次合并的结果。
type Stats struct {
	Kept       int // 保留的已有记录
	Removed    int // replace 模式下因日期重叠被移除的已有记录
	Added      int // 追加的新记录
	Duplicates int // 因主键冲突被丢弃的新记录
}

// Merge 合并已有记录与新记录。
//
// replace=false：主键已存在的新记录被跳过（已有记录优先），其余按来源顺序追加。
// replace=true：先移除日期出现在 incoming 中的全部已有记录，再追加 incoming。
//
// 两种模式下 incoming 内部的重复主键都只保留第一条，因此对同一 incoming 重复合并结果不变。
// 结果顺序稳定：已有记录保持原顺序，新记录按来源顺序追加在后。
func Merge(existing, incoming []domain.FlatRecord, replace bool) ([]domain.FlatRecord, Stats) {
	var st Stats
	out := make([]domain.FlatRecord, 0, len(existing)+len(incoming))
	seen := make(map[domain.RecordKey]struct{}, len(existing)+len(incoming))

	var dates map[string]struct{}
	if replace {
		dates = make(map[string]struct{}, 4)
		for _, r := range incoming {
			dates[r.Date] = struct{}{}
		}
	}

	for _, r := range existing {
		if replace {
			if _, ok := dates[r.Date]; ok {
				st.Removed++
				continue
			}
		}
		out = append(out, r)
		seen[r.Key()] = struct{}{}
		st.Kept++
	}

	for _, r := range incoming {
		k := r.Key()
		if _, ok := seen[k]; ok {
			st.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
		st.Added++
	}
	return out, st
}

// Sources 按顺序折叠多个来源（先出现的来源优先），等价于依次 Merge(acc, src, false)。
func Sources(srcs ...[]domain.FlatRecord) ([]domain.FlatRecord, Stats) {
	var (
		acc   []domain.FlatRecord
		total Stats
	)
	for _, src := range srcs {
		var st Stats
		acc, st = Merge(acc, src, false)
		total.Added += st.Added
		total.Duplicates += st.Duplicates
	}
	return acc, total
}

// FilterDate 返回指定日期的记录（保持顺序）。
func FilterDate(in []domain.FlatRecord, date string) []domain.FlatRecord {
	out := make([]domain.FlatRecord, 0, len(in))
	for _, r := range in {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out
}

// Dates 返回记录中出现的日期（按首次出现顺序）。
func Dates(in []domain.FlatRecord) []string {
	out := make([]string, 0, 2)
	seen := make(map[string]struct{}, 2)
	for _, r := range in {
		if _, ok := seen[r.Date]; ok {
			continue
		}
		seen[r.Date] = struct{}{}
		out = append(out, r.Date)
	}
	return out
}
