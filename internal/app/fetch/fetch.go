// Package fetch 串行执行一次抓取：规划单元 -> 逐个 Fetch+Parse -> 规范化与过滤 -> 合并 -> 导出 -> 归档。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/kinopl/internal/app/planner"
	"github.com/John-Robertt/kinopl/internal/archive"
	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/export"
	"github.com/John-Robertt/kinopl/internal/infra/cache"
	"github.com/John-Robertt/kinopl/internal/infra/fsx"
	"github.com/John-Robertt/kinopl/internal/infra/httpx"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
	"github.com/John-Robertt/kinopl/internal/merge"
	"github.com/John-Robertt/kinopl/internal/normalize"
	"github.com/John-Robertt/kinopl/internal/source"
)

const ReportName = "report.json"

// 过去日期会被聚合站点静默替换为当天数据。
const unverifiedSource = "coigdzie"

// sourceCSVPrefix：按 source 单独导出的 CSV 文件名前缀（merge 命令按此自动发现）。
var sourceCSVPrefix = map[string]string{
	"helios":     "helios_events_",
	"cinemacity": "cinema_city_",
}

// Options 是可选的运行依赖；零值即可用。
type Options struct {
	Log logrus.FieldLogger
	Now func() time.Time

	// Uploader 为 nil 且配置了 archive.s3_bucket 时，按配置创建 S3 上传器。
	Uploader archive.Uploader

	// Replay 不发网络请求，改为重新解析 <out>/cache/sources/ 中的原始响应（需要之前以 keep_raw 运行过）。
	Replay bool
}

// Execute 执行一次 fetch，并返回对外稳定的 RunReport。
// 单元级失败只记录在 report 中，不中断其他单元。
func Execute(ctx context.Context, eff config.EffectiveConfig, reg source.Registry, obs Observer) domain.RunReport {
	return ExecuteWith(ctx, eff, reg, obs, Options{})
}

func ExecuteWith(ctx context.Context, eff config.EffectiveConfig, reg source.Registry, obs Observer, opts Options) domain.RunReport {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	started := now()
	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		Command:   "fetch",
		Dates:     append([]string(nil), eff.Dates...),
		StartedAt: started,
		Units:     make([]domain.UnitResult, 0, 64),
	}
	log = log.WithField("run_id", rr.RunID)

	finish := func() domain.RunReport {
		rr.FinishedAt = now()
		rr.Finalize()
		return rr
	}

	client, err := httpx.NewClient(eff.ProxyURL)
	if err != nil {
		rr.Units = append(rr.Units, syntheticFailed("", domain.ErrCodeConfigInvalid, fmt.Sprintf("proxy.url 无效：%v", err)))
		return finish()
	}

	planStarted := time.Now()
	srcs, missing := planner.Select(reg, eff.Sources)
	for _, name := range missing {
		rr.Units = append(rr.Units, syntheticFailed(name, domain.ErrCodeConfigInvalid, fmt.Sprintf("未注册的 source：%q", name)))
	}
	units := planner.Plan(eff.Dates, eff.Cities, srcs)
	byName := make(map[string]source.Source, len(srcs))
	for _, s := range srcs {
		byName[s.Name()] = s
	}

	if obs != nil {
		obs.OnStart(eff, len(units))
		fields := map[string]any{"units": len(units), "dates": len(eff.Dates), "cities": len(eff.Cities)}
		for name, n := range planner.Counts(units) {
			fields[name] = n
		}
		obs.OnPhaseDone("plan", fields, time.Since(planStarted))
	}

	wanted := make(map[domain.City]struct{}, len(eff.Cities))
	for _, c := range eff.Cities {
		wanted[c] = struct{}{}
	}
	store := cache.New(eff.OutDir, !eff.KeepRaw || opts.Replay)
	pacer := pace.New(eff.DelayMin, eff.DelayMax)
	today := started.Format(domain.DateLayout)

	// collected[date][source]：按 source 分开保存，稍后按配置顺序折叠（先出现的 source 优先）。
	collected := make(map[string]map[string][]domain.FlatRecord, len(eff.Dates))
	ran := make(map[string]map[string]bool, len(eff.Dates))

	fetchStarted := time.Now()
	for i, u := range units {
		unitStarted := time.Now()
		s := byName[u.Source]
		res, recs := runUnit(ctx, s, u, client, pacer, store, opts.Replay, wanted, log)
		if u.Source == unverifiedSource && u.Date < today {
			res.Unverified = true
		}
		rr.Units = append(rr.Units, res)

		if res.Status != domain.StatusFailed {
			if collected[u.Date] == nil {
				collected[u.Date] = make(map[string][]domain.FlatRecord, len(srcs))
				ran[u.Date] = make(map[string]bool, len(srcs))
			}
			collected[u.Date][u.Source] = append(collected[u.Date][u.Source], recs...)
			ran[u.Date][u.Source] = true
		}
		if obs != nil {
			obs.OnUnitDone(i+1, len(units), u, res, time.Since(unitStarted))
		}
	}
	rr.Requests, rr.RequestErrors = pacer.Stats()
	if obs != nil {
		obs.OnPhaseDone("fetch", map[string]any{
			"units":          len(units),
			"requests":       rr.Requests,
			"request_errors": rr.RequestErrors,
		}, time.Since(fetchStarted))
	}

	exportStarted := time.Now()
	if err := os.MkdirAll(eff.OutDir, 0o755); err != nil {
		rr.Units = append(rr.Units, syntheticFailed("", domain.ErrCodeIOFailed, fmt.Sprintf("创建输出目录失败：%v", err)))
		return finish()
	}

	dayFiles := make(map[string][]string, len(eff.Dates))
	for _, date := range eff.Dates {
		ordered := make([][]domain.FlatRecord, 0, len(srcs))
		for _, s := range srcs {
			ordered = append(ordered, collected[date][s.Name()])
		}
		recs, st := merge.Sources(ordered...)
		if st.Duplicates > 0 {
			log.WithFields(logrus.Fields{"date": date, "duplicates": st.Duplicates}).Debug("跨 source 去重")
		}

		seed := make([]export.Slot, 0, len(eff.Cities))
		for _, c := range eff.Cities {
			seed = append(seed, export.Slot{City: c, Date: date})
		}
		schedules := export.Group(recs, started, seed...)

		paths, err := export.WriteDay(eff.OutDir, date, schedules)
		rr.Files = append(rr.Files, paths...)
		if err != nil {
			rr.Units = append(rr.Units, syntheticFailed("", domain.ErrCodeIOFailed, fmt.Sprintf("写入 %s 导出文件失败：%v", date, err)))
			continue
		}
		dayFiles[date] = paths

		for _, s := range srcs {
			prefix, ok := sourceCSVPrefix[s.Name()]
			if !ok || !ran[date][s.Name()] {
				continue
			}
			p := filepath.Join(eff.OutDir, prefix+date+".csv")
			if err := export.WriteSourceCSVFile(p, collected[date][s.Name()]); err != nil {
				rr.Units = append(rr.Units, syntheticFailed(s.Name(), domain.ErrCodeIOFailed, fmt.Sprintf("写入 %s 失败：%v", filepath.Base(p), err)))
				continue
			}
			rr.Files = append(rr.Files, p)
		}
	}
	if obs != nil {
		obs.OnPhaseDone("export", map[string]any{"files": len(rr.Files)}, time.Since(exportStarted))
	}

	archiveStarted := time.Now()
	arch := newArchiver(ctx, eff, opts.Uploader, log)
	var snapshots, uploaded int
	for _, date := range eff.Dates {
		if len(dayFiles[date]) == 0 {
			continue
		}
		res, err := arch.Snapshot(ctx, date, started, dayFiles[date])
		if err != nil {
			rr.Units = append(rr.Units, syntheticFailed("", domain.ErrCodeIOFailed, fmt.Sprintf("归档 %s 失败：%v", date, err)))
			continue
		}
		snapshots += len(res.Local)
		uploaded += len(res.Uploaded)
		rr.Files = append(rr.Files, res.Local...)
	}
	if obs != nil {
		obs.OnPhaseDone("archive", map[string]any{"files": snapshots, "uploaded": uploaded}, time.Since(archiveStarted))
	}

	rr.Files = append(rr.Files, filepath.Join(eff.OutDir, ReportName))
	rr = finish()
	if err := WriteReport(eff.OutDir, rr); err != nil {
		log.WithError(err).Warn("写入 report.json 失败")
	}
	return rr
}

// runUnit 执行一个单元并把原始记录规范化为扁平记录。
func runUnit(ctx context.Context, s source.Source, u domain.FetchUnit, c *http.Client, p *pace.Pacer, store cache.Store, replay bool, wanted map[domain.City]struct{}, log logrus.FieldLogger) (domain.UnitResult, []domain.FlatRecord) {
	res := domain.UnitResult{Source: u.Source, City: u.City, Date: u.Date}
	ulog := log.WithFields(logrus.Fields{"source": u.Source, "city": u.City, "date": u.Date})

	var (
		raws []domain.RawScreening
		err  error
	)
	if replay {
		raws, err = replayUnit(s, u, store)
	} else {
		var payload []byte
		raws, payload, err = source.FetchParse(ctx, s, u, c, p)
		if len(payload) > 0 && !store.ReadOnly {
			if werr := store.Write(s.Name(), cacheKey(u), s.PayloadExt(), payload); werr != nil {
				ulog.WithError(werr).Warn("写入原始响应缓存失败")
			}
		}
	}
	if err != nil {
		fillSourceError(&res, err)
		ulog.WithError(err).Warn("单元失败")
		return res, nil
	}

	recs := make([]domain.FlatRecord, 0, len(raws))
	for _, raw := range raws {
		if raw.City == "" {
			raw.City = u.City
		}
		rec, err := normalize.Record(raw)
		if err != nil {
			res.ParseFailures++
			ulog.WithError(err).Debug("记录规范化失败")
			continue
		}
		if _, ok := wanted[rec.City]; !ok {
			res.Filtered++
			continue
		}
		recs = append(recs, rec)
	}
	// 同一单元内的重复场次只保留第一条
	recs, _ = merge.Merge(nil, recs, false)

	movies := make(map[string]struct{}, 32)
	cinemas := make(map[string]struct{}, 16)
	for _, r := range recs {
		movies[r.MovieTitle] = struct{}{}
		cinemas[r.CinemaName] = struct{}{}
	}
	res.Movies = len(movies)
	res.Cinemas = len(cinemas)
	res.Screenings = len(recs)
	if len(recs) == 0 {
		res.Status = domain.StatusEmpty
	} else {
		res.Status = domain.StatusOK
	}
	ulog.WithFields(logrus.Fields{"screenings": res.Screenings, "parse_failures": res.ParseFailures}).Debug("单元完成")
	return res, recs
}

// replayUnit 用缓存的原始响应代替 Fetch；缓存缺失记为 fetch 阶段失败。
func replayUnit(s source.Source, u domain.FetchUnit, store cache.Store) ([]domain.RawScreening, error) {
	b, ok, err := store.Read(s.Name(), cacheKey(u), s.PayloadExt())
	if err == nil && !ok {
		err = fmt.Errorf("缓存中没有 %s 的原始响应", u.Label())
	}
	if err != nil {
		return nil, &source.Error{Source: s.Name(), Stage: "fetch", Err: err}
	}
	raws, err := s.Parse(u, b)
	if err != nil {
		return nil, &source.Error{Source: s.Name(), Stage: "parse", Err: err}
	}
	return raws, nil
}

func cacheKey(u domain.FetchUnit) string {
	if u.City == "" {
		return u.Date
	}
	return string(u.City) + "_" + u.Date
}

func newArchiver(ctx context.Context, eff config.EffectiveConfig, up archive.Uploader, log logrus.FieldLogger) *archive.Archiver {
	a := &archive.Archiver{Dir: eff.Archive.Dir, Prefix: eff.Archive.S3Prefix, Uploader: up, Log: log}
	if a.Uploader == nil && strings.TrimSpace(eff.Archive.S3Bucket) != "" {
		s3u, err := archive.NewS3Uploader(ctx, eff.Archive.S3Bucket, eff.Archive.S3Region)
		if err != nil {
			log.WithError(err).Warn("S3 上传器不可用，只做本地快照")
		} else {
			a.Uploader = s3u
		}
	}
	return a
}

// WriteReport 把 report 原子写入 <dir>/report.json。
func WriteReport(dir string, rr domain.RunReport) error {
	return fsx.WriteJSON(filepath.Join(dir, ReportName), rr)
}

func syntheticFailed(src, code, msg string) domain.UnitResult {
	return domain.UnitResult{
		Source:    src,
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

func fillSourceError(res *domain.UnitResult, err error) {
	res.Status = domain.StatusFailed

	var se *source.Error
	if errors.As(err, &se) {
		switch se.Stage {
		case "parse":
			res.ErrorCode = domain.ErrCodeParseFailed
			res.ErrorMsg = fmt.Sprintf("%s 解析失败（站点结构可能变化）：%v", se.Source, se.Err)
		default:
			res.ErrorCode = domain.ErrCodeFetchFailed
			res.ErrorMsg = humanizeFetchError(se.Source, se.Err)
		}
		return
	}
	res.ErrorCode = domain.ErrCodeFetchFailed
	res.ErrorMsg = err.Error()
}

func humanizeFetchError(name string, err error) string {
	var be *source.BlockedError
	if errors.As(err, &be) {
		return fmt.Sprintf("%s 被站点拦截（%s）。建议配置 proxy.url 或稍后重试。", name, be.Reason)
	}
	var hs *source.HTTPStatusError
	if errors.As(err, &hs) {
		switch hs.StatusCode {
		case 403, 429:
			return fmt.Sprintf("%s 返回 HTTP %d（可能触发反爬/限流）。建议调大 delay 或配置 proxy.url。", name, hs.StatusCode)
		case 404:
			return fmt.Sprintf("%s 返回 HTTP 404（该城市/日期没有页面）。", name)
		default:
			return fmt.Sprintf("%s 返回 HTTP %d。", name, hs.StatusCode)
		}
	}
	var eb *source.EmptyBodyError
	if errors.As(err, &eb) {
		return fmt.Sprintf("%s 返回空响应：%s", name, eb.URL)
	}
	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fmt.Sprintf("%s 抓取超时。建议检查网络/代理后重试。", name)
	}
	return fmt.Sprintf("%s 抓取失败：%v", name, err)
}
