package domain

import (
	"sort"
	"time"
)

const (
	StatusOK      = "ok"
	StatusEmpty   = "empty"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

const (
	ErrCodeFetchFailed          = "fetch_failed"
	ErrCodeParseFailed          = "parse_failed"
	ErrCodeQuotaExhausted       = "quota_exhausted"
	ErrCodeSheetFailed          = "sheet_failed"
	ErrCodeIOFailed             = "io_failed"
	ErrCodeConfigInvalid        = "config_invalid"
	ErrCodeConfigMissingSheet   = "config_missing_spreadsheet"
	ErrCodeConfigMissingCreds   = "config_missing_credentials"
	ErrCodeConfigInvalidCity    = "config_invalid_city"
	ErrCodeConfigInvalidDate    = "config_invalid_date"
	ErrCodeConfigMissingCSVData = "config_missing_csv"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID   string   `json:"run_id"`
	Command string   `json:"command"`
	Dates   []string `json:"dates"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Units   []UnitResult  `json:"units"`
	Tabs    []TabResult   `json:"tabs"`
	Files   []string      `json:"files"`

	Requests      int `json:"requests"`
	RequestErrors int `json:"request_errors"`
}

type ReportSummary struct {
	UnitsOK      int `json:"units_ok"`
	UnitsEmpty   int `json:"units_empty"`
	UnitsFailed  int `json:"units_failed"`
	Screenings   int `json:"screenings"`
	ParseFailure int `json:"parse_failures"`

	TabsOK      int `json:"tabs_ok"`
	TabsSkipped int `json:"tabs_skipped"`
	TabsFailed  int `json:"tabs_failed"`
}

// UnitResult 是一个抓取单元 (source, city, date) 的结果。
type UnitResult struct {
	Source string `json:"source"`
	City   City   `json:"city"`
	Date   string `json:"date"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Movies        int `json:"movies"`
	Cinemas       int `json:"cinemas"`
	Screenings    int `json:"screenings"`
	ParseFailures int `json:"parse_failures"`
	// Filtered 是落在请求城市集合之外、被丢弃的记录数（不算失败）。
	Filtered int `json:"filtered"`

	// Unverified：上游对历史日期会静默返回当天数据，结果不可信。
	Unverified bool `json:"unverified"`
}

// TabResult 是一个工作表（按连锁划分）的更新结果。
type TabResult struct {
	Tab    string `json:"tab"`
	Status string `json:"status"`

	Appended     int      `json:"appended"`
	Deleted      int      `json:"deleted"`
	SkippedDates []string `json:"skipped_dates"`
	Attempts     int      `json:"attempts"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) units 稳定排序：date -> source -> city（city 为空的整体单元排在该 source 最前）
// 3) summary 由 units/tabs 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Units == nil {
		r.Units = []UnitResult{}
	}
	if r.Tabs == nil {
		r.Tabs = []TabResult{}
	}
	if r.Files == nil {
		r.Files = []string{}
	}
	if r.Dates == nil {
		r.Dates = []string{}
	}

	sort.SliceStable(r.Units, func(i, j int) bool {
		a, b := r.Units[i], r.Units[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.City < b.City
	})

	var s ReportSummary
	for _, u := range r.Units {
		switch u.Status {
		case StatusOK:
			s.UnitsOK++
		case StatusEmpty:
			s.UnitsEmpty++
		case StatusFailed:
			s.UnitsFailed++
		}
		s.Screenings += u.Screenings
		s.ParseFailure += u.ParseFailures
	}
	for _, t := range r.Tabs {
		switch t.Status {
		case StatusOK:
			s.TabsOK++
		case StatusSkipped:
			s.TabsSkipped++
		case StatusFailed:
			s.TabsFailed++
		}
	}
	r.Summary = s
}

// Failed 表示是否存在不可恢复的单元/工作表失败（决定进程退出码）。
func (r RunReport) Failed() bool {
	return r.Summary.UnitsFailed > 0 || r.Summary.TabsFailed > 0
}
