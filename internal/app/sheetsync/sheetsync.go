// Package sheetsync 把磁盘上的 CSV 写入 Google 表格：
// - Update：按日期（或指定 CSV）读取日文件，追加/替换到各连锁工作表
// - MergeAndUpdate：把日文件与 Helios/Cinema City 单独导出的 CSV 合并后保存，并以 replace 模式写表
package sheetsync

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/export"
	"github.com/John-Robertt/kinopl/internal/merge"
	"github.com/John-Robertt/kinopl/internal/scan"
	"github.com/John-Robertt/kinopl/internal/sheets"
)

// DefaultDailyDir 是 merge 结果的保存目录（相对工作目录）。
const DefaultDailyDir = "data/daily"

type Options struct {
	// CSVPath 非空时直接读取该文件（全部日期），忽略 eff.Dates。
	CSVPath string
	Replace bool
	// SearchDirs 是查找 cinema_<date>.csv 的目录，按顺序取第一个存在的文件。
	SearchDirs []string

	Log   logrus.FieldLogger
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type MergeOptions struct {
	HeliosCSV     string
	CinemaCityCSV string
	// Dates 为空时取 Helios/Cinema City CSV 中出现的全部日期。
	Dates      []string
	DailyDir   string
	SearchDirs []string
	NoSheets   bool

	Log   logrus.FieldLogger
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Update 读取 CSV 并写入工作表。CSV 缺失是配置错误（直接返回 error，不产生 report）。
func Update(ctx context.Context, eff config.EffectiveConfig, opts Options, backend sheets.Backend) (domain.RunReport, error) {
	now := nowFunc(opts.Now)
	log := logger(opts.Log)
	rr := domain.RunReport{RunID: uuid.NewString(), Command: "sheets", StartedAt: now()}

	var recs []domain.FlatRecord
	if strings.TrimSpace(opts.CSVPath) != "" {
		r, err := readCSV(opts.CSVPath, log)
		if err != nil {
			return domain.RunReport{}, err
		}
		recs = r
		rr.Files = append(rr.Files, opts.CSVPath)
	} else {
		for _, date := range eff.Dates {
			p, ok := scan.FindDayCSV(date, opts.SearchDirs...)
			if !ok {
				return domain.RunReport{}, &config.Error{
					Code: domain.ErrCodeConfigMissingCSVData,
					Err:  fmt.Errorf("找不到 %s（查找目录：%s）；先运行 fetch 或用 --csv 指定", export.CSVName(date), strings.Join(opts.SearchDirs, ", ")),
				}
			}
			r, err := readCSV(p, log)
			if err != nil {
				return domain.RunReport{}, err
			}
			recs = append(recs, merge.FilterDate(r, date)...)
			rr.Files = append(rr.Files, p)
		}
	}
	rr.Dates = merge.Dates(recs)
	log.WithFields(logrus.Fields{"records": len(recs), "replace": opts.Replace}).Info("开始写表")

	u := newUpdater(eff, backend, log, opts.Sleep)
	rr.Tabs = u.Update(ctx, recs, opts.Replace)

	rr.FinishedAt = now()
	rr.Finalize()
	return rr, nil
}

// MergeAndUpdate 逐日合并三类来源（日文件 > Helios > Cinema City，先出现者优先），
// 保存为 <DailyDir>/cinema_<date>.csv，然后（除非 NoSheets）以 replace 模式写表。
func MergeAndUpdate(ctx context.Context, eff config.EffectiveConfig, opts MergeOptions, backend sheets.Backend) (domain.RunReport, error) {
	now := nowFunc(opts.Now)
	log := logger(opts.Log)
	rr := domain.RunReport{RunID: uuid.NewString(), Command: "merge", StartedAt: now()}

	heliosRecs, heliosPath, err := loadSource(opts.HeliosCSV, eff.OutDir, scan.HeliosPattern, log)
	if err != nil {
		return domain.RunReport{}, err
	}
	ccRecs, ccPath, err := loadSource(opts.CinemaCityCSV, eff.OutDir, scan.CinemaCityPattern, log)
	if err != nil {
		return domain.RunReport{}, err
	}
	for _, p := range []string{heliosPath, ccPath} {
		if p != "" {
			rr.Files = append(rr.Files, p)
		}
	}

	dates := append([]string(nil), opts.Dates...)
	if len(dates) == 0 {
		dates = merge.Dates(append(append([]domain.FlatRecord(nil), heliosRecs...), ccRecs...))
	}
	sort.Strings(dates)
	if len(dates) == 0 {
		return domain.RunReport{}, &config.Error{
			Code: domain.ErrCodeConfigMissingCSVData,
			Err:  fmt.Errorf("没有可处理的日期：用 --date 指定，或确保 Helios/Cinema City CSV 中有数据"),
		}
	}
	rr.Dates = dates

	dailyDir := opts.DailyDir
	if dailyDir == "" {
		dailyDir = DefaultDailyDir
	}

	var all []domain.FlatRecord
	for _, date := range dates {
		res := domain.UnitResult{Source: "merge", Date: date}
		dlog := log.WithField("date", date)

		var existing []domain.FlatRecord
		if p, ok := scan.FindDayCSV(date, opts.SearchDirs...); ok {
			r, err := readCSV(p, dlog)
			if err != nil {
				res.Status = domain.StatusFailed
				res.ErrorCode = domain.ErrCodeIOFailed
				res.ErrorMsg = err.Error()
				rr.Units = append(rr.Units, res)
				continue
			}
			existing = merge.FilterDate(r, date)
		} else {
			dlog.Warn("没有该日期的日文件")
		}

		merged, st := merge.Sources(existing, merge.FilterDate(heliosRecs, date), merge.FilterDate(ccRecs, date))
		res.Screenings = len(merged)
		if len(merged) == 0 {
			res.Status = domain.StatusEmpty
			rr.Units = append(rr.Units, res)
			dlog.Warn("该日期没有任何数据")
			continue
		}
		dlog.WithFields(logrus.Fields{"records": len(merged), "duplicates": st.Duplicates}).Info("合并完成")

		p := filepath.Join(dailyDir, export.CSVName(date))
		if err := export.WriteSourceCSVFile(p, merged); err != nil {
			res.Status = domain.StatusFailed
			res.ErrorCode = domain.ErrCodeIOFailed
			res.ErrorMsg = fmt.Sprintf("保存合并结果失败：%v", err)
			rr.Units = append(rr.Units, res)
			continue
		}
		res.Status = domain.StatusOK
		rr.Units = append(rr.Units, res)
		rr.Files = append(rr.Files, p)
		all = append(all, merged...)
	}

	if !opts.NoSheets && backend != nil && len(all) > 0 {
		u := newUpdater(eff, backend, log, opts.Sleep)
		rr.Tabs = u.Update(ctx, all, true)
	}

	rr.FinishedAt = now()
	rr.Finalize()
	return rr, nil
}

// loadSource：显式路径（可含通配符）优先，否则在 dir 下按 pattern 取最新文件。两者都没有时返回空（可选来源）。
func loadSource(explicit, dir, pattern string, log logrus.FieldLogger) ([]domain.FlatRecord, string, error) {
	var (
		p   string
		ok  bool
		err error
	)
	if strings.TrimSpace(explicit) != "" {
		p, ok, err = scan.Resolve(explicit)
		if err == nil && !ok {
			return nil, "", &config.Error{Code: domain.ErrCodeConfigMissingCSVData, Path: explicit, Err: fmt.Errorf("文件不存在：%q", explicit)}
		}
	} else {
		p, ok, err = scan.Latest(dir, pattern)
	}
	if err != nil {
		return nil, "", &config.Error{Code: domain.ErrCodeConfigInvalid, Path: explicit, Err: err}
	}
	if !ok {
		log.WithField("pattern", pattern).Info("未找到可选来源 CSV，跳过")
		return nil, "", nil
	}
	recs, err := readCSV(p, log)
	if err != nil {
		return nil, "", err
	}
	return recs, p, nil
}

func readCSV(p string, log logrus.FieldLogger) ([]domain.FlatRecord, error) {
	recs, skipped, err := export.ReadCSVFile(p)
	if err != nil {
		return nil, &config.Error{Code: domain.ErrCodeConfigMissingCSVData, Path: p, Err: err}
	}
	l := log.WithFields(logrus.Fields{"file": p, "records": len(recs)})
	if skipped > 0 {
		l = l.WithField("skipped", skipped)
	}
	l.Info("已读取 CSV")
	return recs, nil
}

func newUpdater(eff config.EffectiveConfig, backend sheets.Backend, log logrus.FieldLogger, sleep func(context.Context, time.Duration) error) *sheets.Updater {
	return &sheets.Updater{
		Backend:     backend,
		Log:         log,
		MaxAttempts: eff.Sheets.MaxAttempts,
		BaseDelay:   eff.Sheets.BaseDelay,
		Sleep:       sleep,
	}
}

func nowFunc(f func() time.Time) func() time.Time {
	if f == nil {
		return time.Now
	}
	return f
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		return lg
	}
	return l
}
