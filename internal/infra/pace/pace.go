// Package pace 控制连续请求之间的随机间隔，并统计整次运行的请求数/错误数。
//
// Pacer 由调用方显式创建并传递给各个 source（不存在进程级全局计数）。
package pace

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultMin = 1500 * time.Millisecond
	DefaultMax = 3500 * time.Millisecond
)

type Pacer struct {
	Min time.Duration
	Max time.Duration

	// Sleep 可替换：测试里注入“只记录不等待”的实现。
	Sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	rnd      *rand.Rand
	started  bool
	requests int
	errors   int
}

func New(min, max time.Duration) *Pacer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	return &Pacer{
		Min:   min,
		Max:   max,
		Sleep: sleepCtx,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Wait 在发起请求前调用：首个请求不等待，之后每次等待 [Min, Max] 内的随机时长。
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	first := !p.started
	p.started = true
	d := p.next()
	p.mu.Unlock()

	if first || d <= 0 {
		return ctx.Err()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return sleep(ctx, d)
}

// Done 记录一次请求结果；err 非 nil 计为错误。
func (p *Pacer) Done(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	if err != nil {
		p.errors++
	}
}

// Stats 返回 (requests, errors)。
func (p *Pacer) Stats() (requests, errors int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests, p.errors
}

func (p *Pacer) next() time.Duration {
	span := p.Max - p.Min
	if span <= 0 {
		return p.Min
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.Min + time.Duration(p.rnd.Int63n(int64(span)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
