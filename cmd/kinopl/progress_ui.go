package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/kinopl/internal/app/fetch"
	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/domain"
)

var _ fetch.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的 fetch 进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - fetch 层只发事件，CLI 决定如何展示
// - 单元之间有随机延迟：长时间没有单元完成时定期输出一行 keepalive
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	total int
	done  int
	ok    int
	empty int
	fail  int

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 8 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig, units int) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.total = units

	fmt.Fprintf(p.w, "[%s] kinopl fetch\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  dates: %s\n", formatStringListJSON(eff.Dates))
	fmt.Fprintf(p.w, "  cities: %s\n", formatCities(eff.Cities))
	fmt.Fprintf(p.w, "  sources: %s\n", strings.Join(eff.Sources, " -> "))
	fmt.Fprintf(p.w, "  delay: %s-%s\n", formatShortDuration(eff.DelayMin), formatShortDuration(eff.DelayMax))
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  keep_raw: %s\n", onOff(eff.KeepRaw))
	fmt.Fprintf(p.w, "  archive: %s\n", formatArchive(eff.Archive))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", eff.OutDir)
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "plan":
		p.total = intField(fields, "units")
		fmt.Fprintf(p.w, "规划: units=%d dates=%d cities=%d%s (%s)\n",
			p.total, intField(fields, "dates"), intField(fields, "cities"),
			formatSourceCounts(fields), formatShortDuration(dur),
		)
		if p.total > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "fetch":
		fmt.Fprintf(p.w, "抓取: units=%d requests=%d request_errors=%d (%s)\n",
			intField(fields, "units"), intField(fields, "requests"), intField(fields, "request_errors"), formatShortDuration(dur),
		)
		p.stopTickerLocked()
	case "export":
		fmt.Fprintf(p.w, "导出: files=%d (%s)\n", intField(fields, "files"), formatShortDuration(dur))
	case "archive":
		fmt.Fprintf(p.w, "归档: files=%d uploaded=%d (%s)\n",
			intField(fields, "files"), intField(fields, "uploaded"), formatShortDuration(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnUnitDone(idx, total int, u domain.FetchUnit, res domain.UnitResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = idx
	p.total = total

	switch res.Status {
	case domain.StatusOK:
		p.ok++
	case domain.StatusEmpty:
		p.empty++
	case domain.StatusFailed:
		p.fail++
	}

	fmt.Fprintln(p.w, formatUnitLine(idx, total, u, res, dur))
	p.lastPrinted = time.Now()

	if p.done >= p.total {
		p.stopTickerLocked()
	}
}

func formatUnitLine(idx, total int, u domain.FetchUnit, res domain.UnitResult, dur time.Duration) string {
	switch res.Status {
	case domain.StatusFailed:
		return fmt.Sprintf("[%d/%d] %s FAIL %s: %s (%s)",
			idx, total, u.Label(), res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.StatusEmpty:
		return fmt.Sprintf("[%d/%d] %s EMPTY%s (%s)",
			idx, total, u.Label(), unitNotes(res), formatShortDuration(dur),
		)
	default:
		return fmt.Sprintf("[%d/%d] %s OK movies=%d cinemas=%d screenings=%d%s (%s)",
			idx, total, u.Label(), res.Movies, res.Cinemas, res.Screenings, unitNotes(res), formatShortDuration(dur),
		)
	}
}

func unitNotes(res domain.UnitResult) string {
	var b strings.Builder
	if res.ParseFailures > 0 {
		fmt.Fprintf(&b, " parse_failures=%d", res.ParseFailures)
	}
	if res.Filtered > 0 {
		fmt.Fprintf(&b, " filtered=%d", res.Filtered)
	}
	if res.Unverified {
		b.WriteString(" (历史日期，结果未验证)")
	}
	return b.String()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 8 * time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if p.total > 0 && time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d empty=%d fail=%d elapsed=%s\n",
						p.done, p.total, p.ok, p.empty, p.fail, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatCities(cities []domain.City) string {
	if len(cities) == len(domain.AllCities()) {
		return fmt.Sprintf("全部 (%d)", len(cities))
	}
	xs := make([]string, 0, len(cities))
	for _, c := range cities {
		xs = append(xs, string(c))
	}
	return formatStringListJSON(xs)
}

func formatArchive(a config.ArchiveConfig) string {
	if strings.TrimSpace(a.Dir) == "" {
		return "off"
	}
	if a.S3Bucket == "" {
		return a.Dir
	}
	return fmt.Sprintf("%s + s3://%s/%s", a.Dir, a.S3Bucket, strings.Trim(a.S3Prefix, "/"))
}

// formatSourceCounts 输出 plan 阶段各 source 的单元数（按名称排序）。
func formatSourceCounts(fields map[string]any) string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		switch k {
		case "units", "dates", "cities":
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, " %s=%d", n, intField(fields, n))
	}
	return b.String()
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func formatStringListJSON(xs []string) string {
	// json.Marshal(nil slice) => "null"；对用户更友好的是 "[]"
	if xs == nil {
		xs = []string{}
	}
	b, err := json.Marshal(xs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
