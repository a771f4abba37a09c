package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/John-Robertt/kinopl/internal/app/fetch"
	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/domain"
)

// emitReport：stdout 是终端时输出摘要与失败明细；否则 stdout 只输出一个 RunReport JSON，摘要走 stderr。
func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	if isTTY(stdout) {
		fmt.Fprintln(stdout, summaryLine(rr))
		for _, line := range failureLines(rr) {
			fmt.Fprintln(stderr, line)
		}
		return
	}

	enc := json.NewEncoder(stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(stderr, summaryLine(rr))
}

func summaryLine(rr domain.RunReport) string {
	s := rr.Summary
	line := fmt.Sprintf("完成：units ok=%d empty=%d failed=%d screenings=%d parse_failures=%d",
		s.UnitsOK, s.UnitsEmpty, s.UnitsFailed, s.Screenings, s.ParseFailure,
	)
	if len(rr.Tabs) > 0 {
		line += fmt.Sprintf(" | tabs ok=%d skipped=%d failed=%d", s.TabsOK, s.TabsSkipped, s.TabsFailed)
	}
	return line
}

func failureLines(rr domain.RunReport) []string {
	var out []string
	for _, u := range rr.Units {
		if u.Status != domain.StatusFailed {
			continue
		}
		key := unitKey(u)
		out = append(out, fmt.Sprintf("%s %s: %s", key, u.ErrorCode, u.ErrorMsg))
	}
	for _, t := range rr.Tabs {
		if t.Status != domain.StatusFailed {
			continue
		}
		out = append(out, fmt.Sprintf("tab %q %s: %s (attempts=%d)", t.Tab, t.ErrorCode, t.ErrorMsg, t.Attempts))
	}
	return out
}

// unitKey 是失败明细的定位锚点；合成条目（配置/IO）没有 city/date。
func unitKey(u domain.UnitResult) string {
	key := u.Source
	if u.City != "" {
		key += "/" + string(u.City)
	}
	if u.Date != "" {
		key += "/" + u.Date
	}
	if key == "" {
		key = "<config>"
	}
	return key
}

func reportForConfigError(command string, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Command:    command,
		StartedAt:  now,
		FinishedAt: now,
		Units: []domain.UnitResult{{
			Status:    domain.StatusFailed,
			ErrorCode: configCode(err),
			ErrorMsg:  err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

// configCode：非 config.Error（例如凭据文件损坏）统一归为 config_invalid。
func configCode(err error) string {
	if c := config.Code(err); c != "" {
		return c
	}
	return config.ErrCodeInvalid
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(stderr) {
		return stderr, true
	}
	// 仅重定向 stderr 时 stdout 仍是终端：退化输出到 stdout。
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "report: %s\n", filepath.Join(eff.OutDir, fetch.ReportName))
	fmt.Fprintf(w, "out: %s\n", eff.OutDir)
}
