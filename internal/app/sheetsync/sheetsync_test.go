package sheetsync

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/export"
	"github.com/John-Robertt/kinopl/internal/sheets"
)

// memBackend 是内存中的表格：tab -> 行（含表头）。
type memBackend struct {
	tabs  map[string][][]string
	calls int
}

func newMem() *memBackend { return &memBackend{tabs: map[string][][]string{}} }

func (m *memBackend) EnsureTab(_ context.Context, tab string, header []string) (bool, error) {
	m.calls++
	if _, ok := m.tabs[tab]; ok {
		return false, nil
	}
	m.tabs[tab] = [][]string{header}
	return true, nil
}

func (m *memBackend) ReadRows(_ context.Context, tab string) ([][]string, error) {
	m.calls++
	return m.tabs[tab], nil
}

func (m *memBackend) DeleteRows(_ context.Context, tab string, ranges []sheets.RowRange) error {
	m.calls++
	rows := m.tabs[tab]
	for i := len(ranges) - 1; i >= 0; i-- {
		rows = append(rows[:ranges[i].Start-1], rows[ranges[i].End:]...)
	}
	m.tabs[tab] = rows
	return nil
}

func (m *memBackend) AppendRows(_ context.Context, tab string, rows [][]string) error {
	m.calls++
	m.tabs[tab] = append(m.tabs[tab], rows...)
	return nil
}

func rec(date, city, movie, cinema, tm string) domain.FlatRecord {
	return domain.FlatRecord{Date: date, City: domain.City(city), MovieTitle: movie, CinemaName: cinema, Time: tm, Format: "2D"}
}

func writeCSV(t *testing.T, p string, recs ...domain.FlatRecord) {
	t.Helper()
	if err := export.WriteCSVFile(p, recs); err != nil {
		t.Fatalf("写入 CSV 失败：%v", err)
	}
}

var fixedNow = func() time.Time { return time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC) }

func noSleep(context.Context, time.Duration) error { return nil }

func TestUpdate_ExistingDateSkippedOtherTabsWritten(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeCSV(t, filepath.Join(dirB, "cinema_2026-01-11.csv"),
		rec("2026-01-11", "warszawa", "Miss Moxy", "Helios Blue City", "12:30"),
		rec("2026-01-11", "warszawa", "Film", "Multikino Targówek", "18:00"),
		rec("2026-01-12", "warszawa", "Other day", "Multikino Targówek", "18:00"),
	)

	mem := newMem()
	mem.tabs[sheets.TabHelios] = [][]string{
		sheets.Header,
		{"2026-01-11", "warszawa", "Miss Moxy", "Helios Blue City", "10:30", "2D", "dubbing"},
	}

	eff := config.EffectiveConfig{Dates: []string{"2026-01-11"}}
	rr, err := Update(context.Background(), eff, Options{SearchDirs: []string{dirA, dirB}, Now: fixedNow, Sleep: noSleep}, mem)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	tabs := map[string]domain.TabResult{}
	for _, tr := range rr.Tabs {
		tabs[tr.Tab] = tr
	}
	if h := tabs[sheets.TabHelios]; h.Appended != 0 || !reflect.DeepEqual(h.SkippedDates, []string{"2026-01-11"}) || h.Status != domain.StatusSkipped {
		t.Fatalf("Helios 应跳过已存在日期：%+v", h)
	}
	if m := tabs[sheets.TabMultikino]; m.Appended != 1 || m.Status != domain.StatusOK {
		t.Fatalf("Multikino 应只追加 2026-01-11 的 1 行：%+v", m)
	}
	if tabs[sheets.TabCinemaCity].Status != domain.StatusEmpty {
		t.Fatalf("Cinema City 应为 empty：%+v", tabs[sheets.TabCinemaCity])
	}
	if rr.Failed() || rr.Summary.TabsSkipped != 1 || rr.Summary.TabsOK != 1 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}
	if !reflect.DeepEqual(rr.Dates, []string{"2026-01-11"}) {
		t.Fatalf("期望只处理 2026-01-11，实际 %v", rr.Dates)
	}
}

func TestUpdate_ExplicitCSVUsesAllDates(t *testing.T) {
	p := filepath.Join(t.TempDir(), "any.csv")
	writeCSV(t, p,
		rec("2026-01-11", "gdańsk", "A", "Kino Neptun", "10:00"),
		rec("2026-01-12", "gdańsk", "B", "Kino Neptun", "10:00"),
	)
	mem := newMem()
	rr, err := Update(context.Background(), config.EffectiveConfig{Dates: []string{"2026-01-11"}}, Options{CSVPath: p, Now: fixedNow}, mem)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(mem.tabs[sheets.TabOther]) != 3 {
		t.Fatalf("期望表头 + 2 行，实际 %v", mem.tabs[sheets.TabOther])
	}
	if !reflect.DeepEqual(rr.Dates, []string{"2026-01-11", "2026-01-12"}) {
		t.Fatalf("期望两个日期，实际 %v", rr.Dates)
	}
}

func TestUpdate_MissingCSVIsConfigError(t *testing.T) {
	mem := newMem()
	_, err := Update(context.Background(), config.EffectiveConfig{Dates: []string{"2026-01-11"}}, Options{SearchDirs: []string{t.TempDir()}}, mem)
	if config.Code(err) != domain.ErrCodeConfigMissingCSVData {
		t.Fatalf("期望 %q，实际 %v", domain.ErrCodeConfigMissingCSVData, err)
	}
	if mem.calls != 0 {
		t.Fatalf("配置错误时不应访问表格，实际 %d 次调用", mem.calls)
	}
}

func TestMergeAndUpdate(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "cinema_data")
	daily := filepath.Join(root, "data", "daily")

	writeCSV(t, filepath.Join(out, "cinema_2026-01-11.csv"),
		rec("2026-01-11", "warszawa", "Film", "Cinema City Arkadia", "14:30"),
	)
	writeCSV(t, filepath.Join(out, "helios_events_2026-01-11.csv"),
		rec("2026-01-11", "warszawa", "Miss Moxy", "Helios Blue City", "10:30"),
		rec("2026-01-12", "warszawa", "Miss Moxy", "Helios Blue City", "10:30"),
	)
	writeCSV(t, filepath.Join(out, "cinema_city_2026-01-11.csv"),
		// 与日文件重复：日文件优先
		rec("2026-01-11", "warszawa", "Film", "Cinema City Arkadia", "14:30"),
		rec("2026-01-11", "warszawa", "Film", "Cinema City Arkadia", "20:00"),
	)

	mem := newMem()
	mem.tabs[sheets.TabCinemaCity] = [][]string{
		sheets.Header,
		{"2026-01-11", "warszawa", "Stale", "Cinema City Arkadia", "09:00", "2D", ""},
	}

	eff := config.EffectiveConfig{OutDir: out}
	rr, err := MergeAndUpdate(context.Background(), eff, MergeOptions{
		DailyDir:   daily,
		SearchDirs: []string{daily, out},
		Now:        fixedNow,
		Sleep:      noSleep,
	}, mem)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !reflect.DeepEqual(rr.Dates, []string{"2026-01-11", "2026-01-12"}) {
		t.Fatalf("期望日期来自来源 CSV，实际 %v", rr.Dates)
	}

	got, _, err := export.ReadCSVFile(filepath.Join(daily, "cinema_2026-01-11.csv"))
	if err != nil {
		t.Fatalf("读取合并结果失败：%v", err)
	}
	var keys []string
	for _, r := range got {
		keys = append(keys, r.MovieTitle+"@"+r.Time)
	}
	if want := []string{"Film@14:30", "Miss Moxy@10:30", "Film@20:00"}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("期望 %v，实际 %v", want, keys)
	}

	// replace=true：旧的同日期行被替换
	cc := mem.tabs[sheets.TabCinemaCity]
	if len(cc) != 3 || cc[1][2] != "Film" || cc[1][4] != "14:30" || cc[2][4] != "20:00" {
		t.Fatalf("Cinema City 工作表应被替换：%v", cc)
	}
	if len(mem.tabs[sheets.TabHelios]) != 3 {
		t.Fatalf("Helios 工作表应有两天各 1 行：%v", mem.tabs[sheets.TabHelios])
	}
}

func TestMergeAndUpdate_NoSheets(t *testing.T) {
	root := t.TempDir()
	heliosCSV := filepath.Join(root, "h.csv")
	writeCSV(t, heliosCSV, rec("2026-01-11", "łódź", "Mała Amelia", "Helios Łódź", "15:00"))

	mem := newMem()
	rr, err := MergeAndUpdate(context.Background(), config.EffectiveConfig{OutDir: root}, MergeOptions{
		HeliosCSV: heliosCSV,
		Dates:     []string{"2026-01-11"},
		DailyDir:  filepath.Join(root, "daily"),
		NoSheets:  true,
		Now:       fixedNow,
	}, mem)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if mem.calls != 0 || len(rr.Tabs) != 0 {
		t.Fatalf("--no-sheets 不应访问表格：calls=%d tabs=%v", mem.calls, rr.Tabs)
	}
	if len(rr.Units) != 1 || rr.Units[0].Status != domain.StatusOK || rr.Units[0].Screenings != 1 {
		t.Fatalf("合并单元不符合预期：%+v", rr.Units)
	}
}

func TestMergeAndUpdate_NoDates(t *testing.T) {
	_, err := MergeAndUpdate(context.Background(), config.EffectiveConfig{OutDir: t.TempDir()}, MergeOptions{NoSheets: true}, nil)
	if config.Code(err) != domain.ErrCodeConfigMissingCSVData {
		t.Fatalf("期望 %q，实际 %v", domain.ErrCodeConfigMissingCSVData, err)
	}
}
