package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/httpx"
	"github.com/John-Robertt/kinopl/internal/source/helios"
)

const (
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid            = domain.ErrCodeConfigInvalid
	ErrCodeInvalidCity        = domain.ErrCodeConfigInvalidCity
	ErrCodeInvalidDate        = domain.ErrCodeConfigInvalidDate
	ErrCodeMissingSpreadsheet = domain.ErrCodeConfigMissingSheet
	ErrCodeMissingCredentials = domain.ErrCodeConfigMissingCreds
)

const (
	FileName = "kinopl.json"

	DefaultOutDir     = "cinema_data"
	DefaultArchiveDir = "archive"
	DefaultDelayMin   = 1500 * time.Millisecond
	DefaultDelayMax   = 3500 * time.Millisecond

	DefaultSheetsMaxAttempts = 5
	DefaultSheetsBaseDelay   = 2 * time.Second
	DefaultWritesPerMinute   = 60

	EnvSpreadsheetID   = "GOOGLE_SPREADSHEET_ID"
	EnvCredentials     = "GOOGLE_CREDENTIALS"
	EnvCredentialsPath = "GOOGLE_CREDENTIALS_PATH"
)

// KnownSources 是可用的 source 名称（也是默认抓取顺序）。
var KnownSources = []string{"coigdzie", "cinemacity", "helios"}

// CLIArgs 是 CLI 暴露的入口；*Set 字段保留“是否显式指定”，保证 --keep-raw=false 能覆盖配置文件。
type CLIArgs struct {
	ConfigPath string

	Dates   []string
	Cities  []string
	Sources []string
	OutDir  string

	KeepRaw    bool
	KeepRawSet bool

	SpreadsheetID   string
	CredentialsPath string
}

// FileConfig 对应 kinopl.json 的解析结构。
type FileConfig struct {
	OutDir          string          `json:"out_dir"`
	Cities          []string        `json:"cities"`
	Sources         []string        `json:"sources"`
	DelayMinMS      int             `json:"delay_min_ms"`
	DelayMaxMS      int             `json:"delay_max_ms"`
	Proxy           *ProxyConfig    `json:"proxy"`
	KeepRaw         *bool           `json:"keep_raw"`
	SpreadsheetID   string          `json:"spreadsheet_id"`
	CredentialsPath string          `json:"credentials_path"`
	BaseURLs        BaseURLs        `json:"base_urls"`
	Archive         ArchiveConfig   `json:"archive"`
	Sheets          SheetsFile      `json:"sheets"`
	Helios          HeliosConfig    `json:"helios"`
	_               json.RawMessage `json:"-"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// BaseURLs 允许把各 source 指向镜像或测试服务器；空值使用 source 自带默认。
type BaseURLs struct {
	Coigdzie   string `json:"coigdzie"`
	CinemaCity string `json:"cinema_city"`
	Helios     string `json:"helios"`
}

type ArchiveConfig struct {
	Dir      string `json:"dir"`
	S3Bucket string `json:"s3_bucket"`
	S3Prefix string `json:"s3_prefix"`
	S3Region string `json:"s3_region"`
}

type SheetsFile struct {
	MaxAttempts     int `json:"max_attempts"`
	BaseDelayMS     int `json:"base_delay_ms"`
	WritesPerMinute int `json:"writes_per_minute"`
}

// HeliosConfig 覆盖内置影院表/活动日历；为空时使用内置值。
type HeliosConfig struct {
	Cinemas []helios.Cinema `json:"cinemas"`
	Live    []string        `json:"live"`
	Events  []helios.Event  `json:"events"`
}

type SheetsConfig struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	WritesPerMinute int
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	OutDir  string
	Dates   []string
	Cities  []domain.City
	Sources []string

	DelayMin time.Duration
	DelayMax time.Duration
	ProxyURL string
	KeepRaw  bool

	SpreadsheetID   string
	CredentialsJSON []byte
	CredentialsPath string

	BaseURLs BaseURLs
	Archive  ArchiveConfig
	Sheets   SheetsConfig
	Helios   HeliosConfig
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s：%v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadDotEnv 读取 <cwd>/.env（可选），不覆盖已存在的环境变量。
func LoadDotEnv(cwd string) error {
	p := filepath.Join(cwd, ".env")
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(p)
}

// Load 读取配置文件并与环境变量、CLI 参数合并。
//
// 发现规则：
// - CLI 给了 --config：该文件必须存在
// - 否则尝试 <cwd>/kinopl.json（可选）
//
// 覆盖优先级：CLI > 环境变量 > 配置文件 > 内置默认。
// getenv 为 nil 时使用 os.Getenv；now 用于把 "jutro"/星期名解析为具体日期。
func Load(cwd string, cli CLIArgs, getenv func(string) string, now time.Time) (EffectiveConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
	}

	cfgPath := filepath.Join(cwdAbs, FileName)
	required := false
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	}
	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if required && !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: os.ErrNotExist}
	}
	return merge(cwdAbs, cli, fc, getenv, now, cfgPath)
}

func merge(cwd string, cli CLIArgs, fc FileConfig, getenv func(string) string, now time.Time, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, a ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, a...)}
	}

	eff := EffectiveConfig{}

	// out_dir：CLI > config > 默认
	out := DefaultOutDir
	if s := strings.TrimSpace(cli.OutDir); s != "" {
		out = s
	} else if s := strings.TrimSpace(fc.OutDir); s != "" {
		out = s
	}
	eff.OutDir = absCleanFrom(cwd, out)

	// 日期：默认今天；星期名/jutro 在这里统一解析为 YYYY-MM-DD。
	rawDates := cli.Dates
	if len(rawDates) == 0 {
		rawDates = []string{now.Format(domain.DateLayout)}
	}
	seenDate := make(map[string]struct{}, len(rawDates))
	for _, d := range rawDates {
		nd, err := domain.NormalizeDate(d, now)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalidDate, Err: err}
		}
		if _, ok := seenDate[nd]; ok {
			continue
		}
		seenDate[nd] = struct{}{}
		eff.Dates = append(eff.Dates, nd)
	}

	// 城市：CLI > config > 全部
	rawCities := cli.Cities
	if len(rawCities) == 0 {
		rawCities = fc.Cities
	}
	if len(rawCities) == 0 {
		eff.Cities = domain.AllCities()
	} else {
		cs, err := domain.ParseCities(rawCities)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalidCity, Err: err}
		}
		eff.Cities = cs
	}

	// sources：CLI > config > 全部
	srcs := cli.Sources
	if len(srcs) == 0 {
		srcs = fc.Sources
	}
	if len(srcs) == 0 {
		srcs = KnownSources
	}
	for _, s := range srcs {
		s = strings.ToLower(strings.TrimSpace(s))
		if !contains(KnownSources, s) {
			return EffectiveConfig{}, invalid("未知 source：%q（可选 %s）", s, strings.Join(KnownSources, ", "))
		}
		if !contains(eff.Sources, s) {
			eff.Sources = append(eff.Sources, s)
		}
	}

	eff.DelayMin, eff.DelayMax = DefaultDelayMin, DefaultDelayMax
	if fc.DelayMinMS < 0 || fc.DelayMaxMS < 0 {
		return EffectiveConfig{}, invalid("delay_min_ms/delay_max_ms 不能为负数")
	}
	if fc.DelayMinMS > 0 {
		eff.DelayMin = time.Duration(fc.DelayMinMS) * time.Millisecond
	}
	if fc.DelayMaxMS > 0 {
		eff.DelayMax = time.Duration(fc.DelayMaxMS) * time.Millisecond
	}
	if eff.DelayMax < eff.DelayMin {
		return EffectiveConfig{}, invalid("delay_max_ms 不能小于 delay_min_ms")
	}

	if fc.Proxy != nil {
		eff.ProxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if eff.ProxyURL != "" {
		if _, err := httpx.ParseProxyURL(eff.ProxyURL); err != nil {
			return EffectiveConfig{}, invalid("proxy.url 无效：%w", err)
		}
	}

	// keep_raw：CLI > config > 默认 false
	if cli.KeepRawSet {
		eff.KeepRaw = cli.KeepRaw
	} else if fc.KeepRaw != nil {
		eff.KeepRaw = *fc.KeepRaw
	}

	// spreadsheet：CLI > env > config
	eff.SpreadsheetID = firstNonEmpty(cli.SpreadsheetID, getenv(EnvSpreadsheetID), fc.SpreadsheetID)

	// 凭据：CLI 路径 > env 内容 > env 路径 > config 路径 > 默认路径（存在时）
	switch {
	case strings.TrimSpace(cli.CredentialsPath) != "":
		eff.CredentialsPath = absCleanFrom(cwd, cli.CredentialsPath)
	case strings.TrimSpace(getenv(EnvCredentials)) != "":
		eff.CredentialsJSON = []byte(getenv(EnvCredentials))
	case strings.TrimSpace(getenv(EnvCredentialsPath)) != "":
		eff.CredentialsPath = absCleanFrom(cwd, getenv(EnvCredentialsPath))
	case strings.TrimSpace(fc.CredentialsPath) != "":
		eff.CredentialsPath = absCleanFrom(cwd, fc.CredentialsPath)
	default:
		if p := DefaultCredentialsPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				eff.CredentialsPath = p
			}
		}
	}

	eff.BaseURLs = BaseURLs{
		Coigdzie:   strings.TrimRight(strings.TrimSpace(fc.BaseURLs.Coigdzie), "/"),
		CinemaCity: strings.TrimRight(strings.TrimSpace(fc.BaseURLs.CinemaCity), "/"),
		Helios:     strings.TrimRight(strings.TrimSpace(fc.BaseURLs.Helios), "/"),
	}
	for name, u := range map[string]string{
		"base_urls.coigdzie":    eff.BaseURLs.Coigdzie,
		"base_urls.cinema_city": eff.BaseURLs.CinemaCity,
		"base_urls.helios":      eff.BaseURLs.Helios,
	} {
		if u == "" {
			continue
		}
		if err := checkHTTPURL(u); err != nil {
			return EffectiveConfig{}, invalid("%s 无效：%w", name, err)
		}
	}

	eff.Archive = fc.Archive
	if strings.TrimSpace(eff.Archive.Dir) == "" {
		eff.Archive.Dir = filepath.Join(eff.OutDir, DefaultArchiveDir)
	} else {
		eff.Archive.Dir = absCleanFrom(cwd, eff.Archive.Dir)
	}

	eff.Sheets = SheetsConfig{
		MaxAttempts:     DefaultSheetsMaxAttempts,
		BaseDelay:       DefaultSheetsBaseDelay,
		WritesPerMinute: DefaultWritesPerMinute,
	}
	if fc.Sheets.MaxAttempts > 0 {
		eff.Sheets.MaxAttempts = fc.Sheets.MaxAttempts
	}
	if fc.Sheets.BaseDelayMS > 0 {
		eff.Sheets.BaseDelay = time.Duration(fc.Sheets.BaseDelayMS) * time.Millisecond
	}
	if fc.Sheets.WritesPerMinute > 0 {
		eff.Sheets.WritesPerMinute = fc.Sheets.WritesPerMinute
	}

	eff.Helios = fc.Helios
	for _, ev := range eff.Helios.Events {
		for _, d := range ev.Dates {
			if _, err := time.Parse(domain.DateLayout, d); err != nil {
				return EffectiveConfig{}, invalid("helios.events 日期无效：%q", d)
			}
		}
	}

	return eff, nil
}

// RequireSheets 校验写表所需的 spreadsheet 与凭据。
func (e EffectiveConfig) RequireSheets() error {
	if strings.TrimSpace(e.SpreadsheetID) == "" {
		return &Error{Code: ErrCodeMissingSpreadsheet, Err: fmt.Errorf("未设置 %s（或 --spreadsheet-id）", EnvSpreadsheetID)}
	}
	if len(e.CredentialsJSON) > 0 {
		return nil
	}
	if e.CredentialsPath == "" {
		return &Error{Code: ErrCodeMissingCredentials, Err: fmt.Errorf("未找到凭据：设置 %s/%s 或放置 %s", EnvCredentials, EnvCredentialsPath, DefaultCredentialsPath())}
	}
	if _, err := os.Stat(e.CredentialsPath); err != nil {
		return &Error{Code: ErrCodeMissingCredentials, Path: e.CredentialsPath, Err: err}
	}
	return nil
}

// DefaultCredentialsPath 是 ~/.config/gspread/service_account.json。
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "gspread", "service_account.json")
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("缺少 host：%q", raw)
	}
	switch u.Scheme {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("不支持的 scheme：%q", raw)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute；"~/" 展开为用户目录。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
