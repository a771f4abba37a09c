package sheets

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/John-Robertt/kinopl/internal/domain"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = time.Minute
)

// Updater 把记录写入各连锁工作表。
//
// 规则（每个工作表独立）：
// - 记录按日期分组；工作表里已有该日期的行时，replace=false 跳过该日期，replace=true 先删后写
// - 配额错误按指数退避重试，超过 MaxAttempts 后该工作表记为失败，其它工作表继续
// - 其它后端错误不重试，该工作表记为失败
type Updater struct {
	Backend Backend
	Log     logrus.FieldLogger

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Sleep 可替换：测试里注入“只记录不等待”的实现。
	Sleep func(ctx context.Context, d time.Duration) error
}

// Update 按连锁分组后依次更新四个工作表；没有记录的工作表状态为 empty。
func (u *Updater) Update(ctx context.Context, recs []domain.FlatRecord, replace bool) []domain.TabResult {
	groups := ByChain(recs)
	out := make([]domain.TabResult, 0, len(Tabs))
	for _, tab := range Tabs {
		if len(groups[tab]) == 0 {
			u.logger().WithField("tab", tab).Info("无记录，跳过")
			out = append(out, domain.TabResult{Tab: tab, Status: domain.StatusEmpty, SkippedDates: []string{}})
			continue
		}
		out = append(out, u.UpdateTab(ctx, tab, groups[tab], replace))
	}
	return out
}

// UpdateTab 更新单个工作表。返回值总是完整的 TabResult（错误被归类进结果，不向上抛出）。
func (u *Updater) UpdateTab(ctx context.Context, tab string, recs []domain.FlatRecord, replace bool) domain.TabResult {
	res := domain.TabResult{Tab: tab, SkippedDates: []string{}}
	log := u.logger().WithField("tab", tab)

	fail := func(err error) domain.TabResult {
		res.Status = domain.StatusFailed
		res.ErrorMsg = err.Error()
		if IsQuota(err) {
			res.ErrorCode = domain.ErrCodeQuotaExhausted
			log.WithError(err).Warnf("配额重试 %d 次后仍失败，跳过该工作表", u.maxAttempts())
		} else {
			res.ErrorCode = domain.ErrCodeSheetFailed
			log.WithError(err).Error("工作表更新失败")
		}
		return res
	}

	var created bool
	if err := u.do(ctx, &res, "ensure_tab", func() error {
		var e error
		created, e = u.Backend.EnsureTab(ctx, tab, Header)
		return e
	}); err != nil {
		return fail(err)
	}
	if created {
		log.Info("新建工作表")
	}

	var rows [][]string
	if err := u.do(ctx, &res, "read_rows", func() error {
		var e error
		rows, e = u.Backend.ReadRows(ctx, tab)
		return e
	}); err != nil {
		return fail(err)
	}

	existing := existingDates(rows)
	incoming := incomingDates(recs)

	keep := make(map[string]bool, len(incoming))
	var del []int
	for _, d := range incoming {
		if _, ok := existing[d]; !ok {
			keep[d] = true
			continue
		}
		if !replace {
			res.SkippedDates = append(res.SkippedDates, d)
			log.WithField("date", d).Info("日期已存在，跳过")
			continue
		}
		keep[d] = true
		del = append(del, existing[d]...)
	}

	if len(del) > 0 {
		sort.Ints(del)
		ranges := contiguous(del)
		if err := u.do(ctx, &res, "delete_rows", func() error {
			return u.Backend.DeleteRows(ctx, tab, ranges)
		}); err != nil {
			return fail(err)
		}
		res.Deleted = len(del)
		log.WithField("rows", len(del)).Info("已删除同日期旧行")
	}

	toAppend := make([]domain.FlatRecord, 0, len(recs))
	for _, r := range recs {
		if keep[r.Date] {
			toAppend = append(toAppend, r)
		}
	}
	if len(toAppend) > 0 {
		SortRecords(toAppend)
		out := make([][]string, 0, len(toAppend))
		for _, r := range toAppend {
			out = append(out, Row(r))
		}
		if err := u.do(ctx, &res, "append_rows", func() error {
			return u.Backend.AppendRows(ctx, tab, out)
		}); err != nil {
			return fail(err)
		}
		res.Appended = len(out)
		log.WithField("rows", len(out)).Info("已追加")
	}

	if res.Appended == 0 && res.Deleted == 0 && len(res.SkippedDates) > 0 {
		res.Status = domain.StatusSkipped
	} else {
		res.Status = domain.StatusOK
	}
	return res
}

// do 执行一次后端调用；配额错误按指数退避重试。
func (u *Updater) do(ctx context.Context, res *domain.TabResult, op string, fn func() error) error {
	max := u.maxAttempts()
	delay := u.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	maxDelay := u.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		res.Attempts++
		err = fn()
		if err == nil || !IsQuota(err) {
			return err
		}
		if attempt == max {
			break
		}
		u.logger().WithFields(logrus.Fields{"tab": res.Tab, "op": op, "attempt": attempt, "delay": delay}).Warn("配额受限，退避重试")
		if serr := u.sleep(ctx, delay); serr != nil {
			return errors.Join(err, serr)
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}

func (u *Updater) maxAttempts() int {
	if u.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return u.MaxAttempts
}

func (u *Updater) sleep(ctx context.Context, d time.Duration) error {
	if u.Sleep != nil {
		return u.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (u *Updater) logger() logrus.FieldLogger {
	if u.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l
	}
	return u.Log
}

// existingDates 返回 日期 -> 行号（1 起；跳过表头）。
func existingDates(rows [][]string) map[string][]int {
	out := make(map[string][]int, 8)
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		d := strings.TrimSpace(row[0])
		if d == "" {
			continue
		}
		out[d] = append(out[d], i+1)
	}
	return out
}

func incomingDates(recs []domain.FlatRecord) []string {
	seen := make(map[string]struct{}, 2)
	out := make([]string, 0, 2)
	for _, r := range recs {
		if _, ok := seen[r.Date]; ok {
			continue
		}
		seen[r.Date] = struct{}{}
		out = append(out, r.Date)
	}
	return out
}

// SortRecords 按 date -> city -> cinema -> movie -> time 排序（波兰语排序规则）。
func SortRecords(recs []domain.FlatRecord) {
	col := collate.New(language.Polish)
	less := func(a, b string) int { return col.CompareString(a, b) }
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if c := less(string(a.City), string(b.City)); c != 0 {
			return c < 0
		}
		if c := less(a.CinemaName, b.CinemaName); c != 0 {
			return c < 0
		}
		if c := less(a.MovieTitle, b.MovieTitle); c != 0 {
			return c < 0
		}
		return a.Time < b.Time
	})
}
