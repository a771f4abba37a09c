package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/John-Robertt/kinopl/internal/app/fetch"
	"github.com/John-Robertt/kinopl/internal/app/sheetsync"
	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/sheets"
	"github.com/John-Robertt/kinopl/internal/source"
	"github.com/John-Robertt/kinopl/internal/source/cinemacity"
	"github.com/John-Robertt/kinopl/internal/source/coigdzie"
	"github.com/John-Robertt/kinopl/internal/source/helios"
)

type cli struct {
	stdout io.Writer
	stderr io.Writer
	cwd    string

	configPath string
	verbose    bool

	// code 是命令执行后的进程退出码。
	code int
}

func (a *cli) errorf(format string, args ...any) {
	fmt.Fprintf(a.stderr, format, args...)
}

func (a *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kinopl",
		Short:         "抓取波兰主要城市的电影排片，导出 CSV/JSON 并同步到 Google 表格",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "配置文件路径（默认 ./"+config.FileName+"，不存在则忽略）")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "输出调试日志")

	root.AddCommand(a.fetchCmd(), a.sheetsCmd(), a.mergeCmd())
	return root
}

func (a *cli) fetchCmd() *cobra.Command {
	var (
		dates, cities, sources []string
		outDir                 string
		keepRaw, replay        bool
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "抓取排片并写出 cinema_<date>.csv/.json",
		Long: `抓取指定日期与城市的排片，按 source 顺序去重合并后写出：
  <out>/cinema_<date>.csv    扁平记录（UTF-8 BOM）
  <out>/cinema_<date>.json   按城市分组的排片
  <out>/report.json          本次运行报告

日期支持 YYYY-MM-DD、dzisiaj/dziś/jutro 与星期名（poniedziałek..niedziela）。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := config.CLIArgs{
				ConfigPath: a.configPath,
				Dates:      dates,
				Cities:     cities,
				Sources:    sources,
				OutDir:     outDir,
				KeepRaw:    keepRaw,
				KeepRawSet: cmd.Flags().Changed("keep-raw"),
			}
			a.code = a.runFetch(cmd, args, replay)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&dates, "date", "d", nil, "日期（可重复或逗号分隔，默认今天）")
	f.StringSliceVarP(&cities, "city", "c", nil, "城市（可重复或逗号分隔，默认全部 20 个）")
	f.StringSliceVarP(&sources, "source", "s", nil, "source 顺序：coigdzie,cinemacity,helios（先出现者去重优先）")
	f.StringVarP(&outDir, "out", "o", "", "输出目录（默认 "+config.DefaultOutDir+"）")
	f.BoolVar(&keepRaw, "keep-raw", false, "保留原始响应到 <out>/cache/sources/")
	f.BoolVar(&replay, "replay", false, "不联网，重新解析 <out>/cache/sources/ 中保留的原始响应")
	return cmd
}

func (a *cli) sheetsCmd() *cobra.Command {
	var (
		dates         []string
		csvPath       string
		spreadsheetID string
		credentials   string
		replace       bool
	)
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "把 cinema_<date>.csv 写入 Google 表格（按连锁分表）",
		Long: `读取 cinema_<date>.csv（依次查找 <out>、data/daily、当前目录）并写入按连锁划分的工作表。
默认跳过工作表中已存在的日期；--replace 先删除同日期行再写入。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := config.CLIArgs{
				ConfigPath:      a.configPath,
				Dates:           dates,
				SpreadsheetID:   spreadsheetID,
				CredentialsPath: credentials,
			}
			a.code = a.runSheets(cmd, args, csvPath, replace)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&dates, "date", "d", nil, "日期（可重复或逗号分隔，默认今天）")
	f.StringVar(&csvPath, "csv", "", "直接读取指定 CSV（写入文件中的全部日期）")
	f.StringVar(&spreadsheetID, "spreadsheet-id", "", "目标表格 ID（默认 $"+config.EnvSpreadsheetID+"）")
	f.StringVar(&credentials, "credentials", "", "服务账号凭据文件（默认 $"+config.EnvCredentialsPath+"）")
	f.BoolVar(&replace, "replace", false, "替换工作表中已存在日期的行")
	return cmd
}

func (a *cli) mergeCmd() *cobra.Command {
	var (
		heliosCSV, cinemaCityCSV string
		dates                    []string
		dailyDir                 string
		spreadsheetID            string
		credentials              string
		noSheets                 bool
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "合并日文件与 Helios/Cinema City 导出，保存后以替换模式写表",
		Long: `逐日合并三类来源（cinema_<date>.csv > Helios > Cinema City，先出现者优先），
保存为 <daily-dir>/cinema_<date>.csv，然后（除非 --no-sheets）以替换模式写表。
未指定 --helios-csv/--cinema-city-csv 时取 <out> 下最新的 helios_events_*.csv / cinema_city_*.csv。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args := config.CLIArgs{
				ConfigPath:      a.configPath,
				Dates:           dates,
				SpreadsheetID:   spreadsheetID,
				CredentialsPath: credentials,
			}
			opts := sheetsync.MergeOptions{
				HeliosCSV:     heliosCSV,
				CinemaCityCSV: cinemaCityCSV,
				DailyDir:      dailyDir,
				NoSheets:      noSheets,
			}
			a.code = a.runMerge(cmd, args, opts)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&heliosCSV, "helios-csv", "", "Helios CSV 路径（可含通配符）")
	f.StringVar(&cinemaCityCSV, "cinema-city-csv", "", "Cinema City CSV 路径（可含通配符）")
	f.StringSliceVarP(&dates, "date", "d", nil, "只处理这些日期（默认取来源 CSV 中的全部日期）")
	f.StringVar(&dailyDir, "daily-dir", sheetsync.DefaultDailyDir, "合并结果目录")
	f.StringVar(&spreadsheetID, "spreadsheet-id", "", "目标表格 ID（默认 $"+config.EnvSpreadsheetID+"）")
	f.StringVar(&credentials, "credentials", "", "服务账号凭据文件（默认 $"+config.EnvCredentialsPath+"）")
	f.BoolVar(&noSheets, "no-sheets", false, "只合并保存，不写表")
	return cmd
}

func (a *cli) runFetch(cmd *cobra.Command, args config.CLIArgs, replay bool) int {
	eff, cwd, ok := a.load(cmd, args)
	if !ok {
		return 1
	}

	progressW, interactive := pickProgressWriter(a.stdout, a.stderr)
	log := newLogger(a.stderr, a.verbose, interactive)
	log.WithField("cwd", cwd).Debug("配置已加载")

	reg, err := newRegistry(eff, log)
	if err != nil {
		a.errorf("初始化 source registry 失败：%v\n", err)
		return 1
	}

	var obs fetch.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}
	rr := fetch.ExecuteWith(cmd.Context(), eff, reg, obs, fetch.Options{Log: log, Replay: replay})

	emitReport(a.stdout, a.stderr, rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	if rr.Failed() {
		return 1
	}
	return 0
}

func (a *cli) runSheets(cmd *cobra.Command, args config.CLIArgs, csvPath string, replace bool) int {
	eff, cwd, ok := a.load(cmd, args)
	if !ok {
		return 1
	}
	log := newLogger(a.stderr, a.verbose, false)

	backend, err := a.backend(cmd, eff)
	if err != nil {
		emitReport(a.stdout, a.stderr, reportForConfigError("sheets", err))
		return 1
	}

	rr, err := sheetsync.Update(cmd.Context(), eff, sheetsync.Options{
		CSVPath:    absFrom(cwd, csvPath),
		Replace:    replace,
		SearchDirs: []string{eff.OutDir, filepath.Join(cwd, sheetsync.DefaultDailyDir), cwd},
		Log:        log,
	}, backend)
	if err != nil {
		emitReport(a.stdout, a.stderr, reportForConfigError("sheets", err))
		return 1
	}
	emitReport(a.stdout, a.stderr, rr)
	if rr.Failed() {
		return 1
	}
	return 0
}

func (a *cli) runMerge(cmd *cobra.Command, args config.CLIArgs, opts sheetsync.MergeOptions) int {
	eff, cwd, ok := a.load(cmd, args)
	if !ok {
		return 1
	}
	log := newLogger(a.stderr, a.verbose, false)

	var backend sheets.Backend
	if !opts.NoSheets {
		b, err := a.backend(cmd, eff)
		if err != nil {
			emitReport(a.stdout, a.stderr, reportForConfigError("merge", err))
			return 1
		}
		backend = b
	}

	// 未显式给日期时 eff.Dates 会被默认成今天；merge 的默认是来源 CSV 中的全部日期。
	if len(args.Dates) > 0 {
		opts.Dates = eff.Dates
	}
	opts.HeliosCSV = absFrom(cwd, opts.HeliosCSV)
	opts.CinemaCityCSV = absFrom(cwd, opts.CinemaCityCSV)
	opts.DailyDir = absFrom(cwd, opts.DailyDir)
	opts.SearchDirs = []string{opts.DailyDir, eff.OutDir, cwd}
	opts.Log = log

	rr, err := sheetsync.MergeAndUpdate(cmd.Context(), eff, opts, backend)
	if err != nil {
		emitReport(a.stdout, a.stderr, reportForConfigError("merge", err))
		return 1
	}
	emitReport(a.stdout, a.stderr, rr)
	if rr.Failed() {
		return 1
	}
	return 0
}

// load 读取 .env 与配置；失败时输出合成 report 并返回 ok=false。
func (a *cli) load(cmd *cobra.Command, args config.CLIArgs) (config.EffectiveConfig, string, bool) {
	cwd := a.cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			a.errorf("读取当前目录失败：%v\n", err)
			return config.EffectiveConfig{}, "", false
		}
		cwd = wd
	}
	cwd, _ = filepath.Abs(cwd)

	if err := config.LoadDotEnv(cwd); err != nil {
		emitReport(a.stdout, a.stderr, reportForConfigError(cmd.Name(), err))
		return config.EffectiveConfig{}, "", false
	}
	eff, err := config.Load(cwd, args, os.Getenv, time.Now())
	if err != nil {
		emitReport(a.stdout, a.stderr, reportForConfigError(cmd.Name(), err))
		return config.EffectiveConfig{}, "", false
	}
	return eff, cwd, true
}

func (a *cli) backend(cmd *cobra.Command, eff config.EffectiveConfig) (sheets.Backend, error) {
	if err := eff.RequireSheets(); err != nil {
		return nil, err
	}
	b, err := sheets.NewGoogleBackend(cmd.Context(), eff.SpreadsheetID, sheets.Credentials{
		JSON: eff.CredentialsJSON,
		File: eff.CredentialsPath,
	}, eff.Sheets.WritesPerMinute)
	if err != nil {
		return nil, &config.Error{Code: config.ErrCodeMissingCredentials, Path: eff.CredentialsPath, Err: err}
	}
	return b, nil
}

// newRegistry 注册全部 source；未启用的 source 只是不会被规划。
func newRegistry(eff config.EffectiveConfig, log logrus.FieldLogger) (source.Registry, error) {
	live := eff.Helios.Live
	if len(live) == 0 {
		live = helios.DefaultLive
	}
	events := eff.Helios.Events
	if len(events) == 0 {
		events = helios.DefaultEvents()
	}
	return source.NewRegistry(
		coigdzie.New(eff.BaseURLs.Coigdzie),
		cinemacity.New(eff.BaseURLs.CinemaCity, log),
		helios.Source{
			BaseURL: eff.BaseURLs.Helios,
			Cinemas: eff.Helios.Cinemas,
			Live:    live,
			Events:  events,
			Log:     log,
		},
	)
}

// newLogger：日志统一写 stderr；交互进度开启时只保留警告以上，避免与进度行交错。
func newLogger(w io.Writer, verbose, progress bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05"})
	switch {
	case verbose:
		l.SetLevel(logrus.DebugLevel)
	case progress:
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

func absFrom(cwd, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cwd, p)
}
