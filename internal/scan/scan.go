// Package scan 在磁盘上定位已有的 CSV：某日期的日文件，以及各 source 最新的导出文件。
//
// 只做 stat/glob，不读文件内容。
package scan

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	HeliosPattern     = "helios_events_*.csv"
	CinemaCityPattern = "cinema_city_*.csv"
)

// FindDayCSV 在 dirs 中按顺序查找 cinema_<date>.csv，返回第一个存在的普通文件。
func FindDayCSV(date string, dirs ...string) (string, bool) {
	name := "cinema_" + date + ".csv"
	for _, d := range dirs {
		p := filepath.Join(d, name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// Latest 返回 dir 下匹配 pattern 的最新文件（按 mtime；相同时按名称取较大者，保证确定性）。
func Latest(dir, pattern string) (string, bool, error) {
	return newest(filepath.Join(dir, pattern))
}

// Resolve 解析用户给出的路径：含通配符时取最新匹配，否则要求文件存在。
func Resolve(p string) (string, bool, error) {
	p = filepath.Clean(strings.TrimSpace(p))
	if strings.ContainsAny(p, "*?[") {
		return newest(p)
	}
	fi, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if !fi.Mode().IsRegular() {
		return "", false, nil
	}
	return p, true, nil
}

func newest(glob string) (string, bool, error) {
	matches, err := filepath.Glob(glob)
	if err != nil {
		return "", false, err
	}
	type cand struct {
		path string
		mod  int64
	}
	cands := make([]cand, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		cands = append(cands, cand{path: m, mod: fi.ModTime().UnixNano()})
	}
	if len(cands) == 0 {
		return "", false, nil
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].mod != cands[j].mod {
			return cands[i].mod > cands[j].mod
		}
		return cands[i].path > cands[j].path
	})
	return cands[0].path, true, nil
}
