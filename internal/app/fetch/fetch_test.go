package fetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/export"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
	"github.com/John-Robertt/kinopl/internal/source"
	"github.com/John-Robertt/kinopl/internal/source/coigdzie"
)

const warszawaPage = `<html><body>
<div class="movie">
  <h2>Avatar: Ogień i popiół 3D (napisy)</h2>
  <div class="cinema row">
    <a class="cinemaname" href="/kino/cinema-city-arkadia">Cinema City Arkadia</a>
    <span class="badge" data-time="2026-01-11 14:30:00">14:30</span>
    <span class="badge" data-time="2026-01-11 18:00:00">18:00</span>
  </div>
</div>
<div class="movie">
  <div class="cinema row"><a class="cinemaname" href="/kino/x">Kino X</a><span class="badge" data-time="2026-01-11 20:00:00">20:00</span></div>
</div>
</body></html>`

type stubSource struct{ raws []domain.RawScreening }

func (stubSource) Name() string        { return "stub" }
func (stubSource) Scope() source.Scope { return source.PerDate }
func (stubSource) PayloadExt() string  { return "json" }
func (stubSource) Fetch(context.Context, domain.FetchUnit, *http.Client, *pace.Pacer) ([]byte, error) {
	return []byte("{}"), nil
}
func (s stubSource) Parse(u domain.FetchUnit, _ []byte) ([]domain.RawScreening, error) {
	out := make([]domain.RawScreening, 0, len(s.raws))
	for _, r := range s.raws {
		r.Date = u.Date
		out = append(out, r)
	}
	return out, nil
}

type recordObserver struct {
	starts int
	phases []string
	units  []string
}

func (o *recordObserver) OnStart(config.EffectiveConfig, int) { o.starts++ }
func (o *recordObserver) OnPhaseDone(name string, _ map[string]any, _ time.Duration) {
	o.phases = append(o.phases, name)
}
func (o *recordObserver) OnUnitDone(_, _ int, u domain.FetchUnit, _ domain.UnitResult, _ time.Duration) {
	o.units = append(o.units, u.Label())
}

func newAggregator(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/miasto/warszawa/dzien/2026-01-11" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(warszawaPage))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(out string) config.EffectiveConfig {
	return config.EffectiveConfig{
		OutDir:  out,
		Dates:   []string{"2026-01-11"},
		Cities:  []domain.City{"warszawa", "kraków"},
		Sources: []string{"coigdzie", "stub"},
		KeepRaw: true,
		Archive: config.ArchiveConfig{Dir: filepath.Join(out, "archive")},
	}
}

var fixedNow = func() time.Time { return time.Date(2026, 1, 11, 8, 0, 0, 0, time.UTC) }

func TestExecute_EndToEnd(t *testing.T) {
	srv := newAggregator(t)
	out := filepath.Join(t.TempDir(), "cinema_data")

	reg, err := source.NewRegistry(
		coigdzie.New(srv.URL),
		stubSource{raws: []domain.RawScreening{
			// 与聚合站点重复：跨 source 去重后只保留一条
			{Source: "stub", City: "warszawa", Title: "Avatar: Ogień i popiół 3D (napisy)", CinemaName: "Cinema City Arkadia", Time: "14:30"},
			{Source: "stub", City: "warszawa", Title: "Miss Moxy (dubbing)", CinemaName: "Helios Blue City", Time: "10:30"},
			// 不在请求城市集合内
			{Source: "stub", City: "gdańsk", Title: "Film", CinemaName: "Helios Gdańsk", Time: "12:00"},
			{Source: "stub", City: "", Title: "Film", CinemaName: "Cinema City Opole", Time: "12:00"},
		}},
	)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	obs := &recordObserver{}
	rr := ExecuteWith(context.Background(), testConfig(out), reg, obs, Options{Now: fixedNow})

	if rr.RunID == "" || rr.Command != "fetch" {
		t.Fatalf("report 头部不完整：%+v", rr)
	}
	if len(rr.Units) != 3 {
		t.Fatalf("期望 3 个单元，实际 %d：%+v", len(rr.Units), rr.Units)
	}
	// Finalize 排序：date -> source -> city
	byLabel := map[string]domain.UnitResult{}
	for _, u := range rr.Units {
		byLabel[u.Source+"/"+string(u.City)] = u
	}
	if u := byLabel["coigdzie/warszawa"]; u.Status != domain.StatusOK || u.Screenings != 2 || u.ParseFailures != 1 || u.Movies != 1 {
		t.Fatalf("warszawa 单元不符合预期：%+v", u)
	}
	if u := byLabel["coigdzie/kraków"]; u.Status != domain.StatusFailed || u.ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("kraków 单元应为 fetch_failed：%+v", u)
	}
	if u := byLabel["stub/"]; u.Status != domain.StatusOK || u.Screenings != 2 || u.Filtered != 2 {
		t.Fatalf("stub 单元不符合预期：%+v", u)
	}
	if !rr.Failed() {
		t.Fatal("存在失败单元时 Failed() 应为 true")
	}
	if rr.Requests != 2 || rr.RequestErrors != 1 {
		t.Fatalf("期望 2 次请求 1 次错误，实际 %d/%d", rr.Requests, rr.RequestErrors)
	}

	recs, skipped, err := export.ReadCSVFile(filepath.Join(out, "cinema_2026-01-11.csv"))
	if err != nil || skipped != 0 {
		t.Fatalf("读取 CSV 失败：skipped=%d err=%v", skipped, err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.MovieTitle+"|"+r.CinemaName+"|"+r.Time+"|"+string(r.Format)+"|"+string(r.Language))
	}
	want := []string{
		"Avatar: Ogień i popiół|Cinema City Arkadia|14:30|3D|napisy",
		"Avatar: Ogień i popiół|Cinema City Arkadia|18:00|3D|napisy",
		"Miss Moxy|Helios Blue City|10:30||dubbing",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("CSV 记录不符合预期：\n期望 %v\n实际 %v", want, got)
	}

	f, err := os.Open(filepath.Join(out, "cinema_2026-01-11.json"))
	if err != nil {
		t.Fatalf("打开 JSON 失败：%v", err)
	}
	defer f.Close()
	schedules, err := export.DecodeJSON(f)
	if err != nil {
		t.Fatalf("解析 JSON 失败：%v", err)
	}
	if len(schedules) != 2 || schedules[0].City != "warszawa" || schedules[1].City != "kraków" || len(schedules[1].Movies) != 0 {
		t.Fatalf("JSON 应包含 warszawa 与空的 kraków：%+v", schedules)
	}
	if !reflect.DeepEqual(domain.Flatten(schedules), recs) {
		t.Fatal("JSON 展开后应与 CSV 记录一致")
	}

	if _, err := os.Stat(filepath.Join(out, "cache", "sources", "coigdzie", "warszawa_2026-01-11.html")); err != nil {
		t.Fatalf("keep_raw 应写入原始响应：%v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "archive", "2026-01-11", "20260111T080000Z", "cinema_2026-01-11.json")); err != nil {
		t.Fatalf("应生成归档快照：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(out, ReportName))
	if err != nil {
		t.Fatalf("应写入 report.json：%v", err)
	}
	var onDisk domain.RunReport
	if err := json.Unmarshal(b, &onDisk); err != nil || onDisk.RunID != rr.RunID {
		t.Fatalf("report.json 内容不符合预期：err=%v", err)
	}

	if obs.starts != 1 || !reflect.DeepEqual(obs.phases, []string{"plan", "fetch", "export", "archive"}) {
		t.Fatalf("observer 事件不符合预期：%+v", obs)
	}
	if len(obs.units) != 3 || obs.units[0] != "coigdzie/warszawa/2026-01-11" {
		t.Fatalf("单元事件顺序不符合预期：%v", obs.units)
	}
}

func TestExecute_PastDateUnverifiedAndNoRawCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.ReplaceAll(warszawaPage, "2026-01-11", "2026-01-10")))
	}))
	defer srv.Close()
	out := t.TempDir()

	reg, err := source.NewRegistry(coigdzie.New(srv.URL))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	eff := testConfig(out)
	eff.Dates = []string{"2026-01-10"}
	eff.Cities = []domain.City{"warszawa"}
	eff.Sources = []string{"coigdzie"}
	eff.KeepRaw = false

	rr := ExecuteWith(context.Background(), eff, reg, nil, Options{Now: fixedNow})
	if len(rr.Units) != 1 || !rr.Units[0].Unverified || rr.Units[0].Status != domain.StatusOK {
		t.Fatalf("历史日期应标记 unverified：%+v", rr.Units)
	}
	if rr.Failed() {
		t.Fatalf("不期望失败：%+v", rr.Summary)
	}
	if _, err := os.Stat(filepath.Join(out, "cache")); !os.IsNotExist(err) {
		t.Fatalf("keep_raw=false 不应创建 cache/，Stat err=%v", err)
	}
}

func TestExecute_UnknownSourceIsConfigFailure(t *testing.T) {
	reg, err := source.NewRegistry(stubSource{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	eff := testConfig(t.TempDir())
	eff.Sources = []string{"nope", "stub"}

	rr := ExecuteWith(context.Background(), eff, reg, nil, Options{Now: fixedNow})
	var found bool
	for _, u := range rr.Units {
		if u.Source == "nope" && u.ErrorCode == domain.ErrCodeConfigInvalid {
			found = true
		}
	}
	if !found || !rr.Failed() {
		t.Fatalf("未注册的 source 应记为 config_invalid：%+v", rr.Units)
	}
}

func TestExecute_InvalidProxy(t *testing.T) {
	reg, _ := source.NewRegistry(stubSource{})
	eff := testConfig(t.TempDir())
	eff.ProxyURL = "://bad"

	rr := ExecuteWith(context.Background(), eff, reg, nil, Options{Now: fixedNow})
	if len(rr.Units) != 1 || rr.Units[0].ErrorCode != domain.ErrCodeConfigInvalid {
		t.Fatalf("非法代理应立即失败：%+v", rr.Units)
	}
}

func TestExecute_ReplayFromRawCache(t *testing.T) {
	srv := newAggregator(t)
	out := t.TempDir()

	reg, err := source.NewRegistry(coigdzie.New(srv.URL))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	eff := testConfig(out)
	eff.Sources = []string{"coigdzie"}
	eff.Archive = config.ArchiveConfig{}

	first := ExecuteWith(context.Background(), eff, reg, nil, Options{Now: fixedNow})
	want, _, err := export.ReadCSVFile(filepath.Join(out, "cinema_2026-01-11.csv"))
	if err != nil {
		t.Fatalf("读取首次 CSV 失败：%v", err)
	}
	srv.Close()

	// 站点已不可达：replay 只读缓存，warszawa 可复现，kraków 没有缓存记为失败。
	rr := ExecuteWith(context.Background(), eff, reg, nil, Options{Now: fixedNow, Replay: true})
	if rr.Requests != 0 {
		t.Fatalf("replay 不应发请求，实际 %d", rr.Requests)
	}
	byCity := map[domain.City]domain.UnitResult{}
	for _, u := range rr.Units {
		byCity[u.City] = u
	}
	if u := byCity["warszawa"]; u.Status != domain.StatusOK || u.Screenings != first.Summary.Screenings {
		t.Fatalf("warszawa 应从缓存复现：%+v", u)
	}
	if u := byCity["kraków"]; u.Status != domain.StatusFailed || u.ErrorCode != domain.ErrCodeFetchFailed || !strings.Contains(u.ErrorMsg, "缓存中没有") {
		t.Fatalf("kraków 没有缓存应失败：%+v", u)
	}

	got, _, err := export.ReadCSVFile(filepath.Join(out, "cinema_2026-01-11.csv"))
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("replay 结果应与首次一致：err=%v\n期望 %v\n实际 %v", err, want, got)
	}
}
