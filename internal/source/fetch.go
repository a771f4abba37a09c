package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
)

const (
	AcceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptJSON = "application/json"
)

// 单个响应体上限；排片页通常远小于该值。
const maxBody = 16 << 20

// Error 是 source 阶段的可追溯错误。
// 上层据此把失败归类为 fetch_failed / parse_failed，并写入 report。
type Error struct {
	Source string
	Stage  string // "fetch" 或 "parse"
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("source=%s stage=%s: %v", e.Source, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FetchParse 执行一个单元的 Fetch + Parse。
//
// 返回 payload 以便上层写入原始响应缓存（即使 Parse 失败也返回，便于排查页面结构漂移）。
func FetchParse(ctx context.Context, s Source, u domain.FetchUnit, c *http.Client, p *pace.Pacer) (raws []domain.RawScreening, payload []byte, err error) {
	if s == nil {
		return nil, nil, errors.New("source 不能为空")
	}
	name := s.Name()
	payload, err = s.Fetch(ctx, u, c, p)
	if err != nil {
		return nil, nil, &Error{Source: name, Stage: "fetch", Err: err}
	}
	raws, err = s.Parse(u, payload)
	if err != nil {
		return nil, payload, &Error{Source: name, Stage: "parse", Err: err}
	}
	return raws, payload, nil
}

// Get 发起一次受 Pacer 控制的 GET 请求。
//
// 非 200 返回 *HTTPStatusError；200 但空响应返回 *EmptyBodyError；验证页返回 *BlockedError。
func Get(ctx context.Context, c *http.Client, p *pace.Pacer, u, accept string) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	if p != nil {
		if err := p.Wait(ctx); err != nil {
			return nil, err
		}
	}
	b, err := get(ctx, c, u, accept)
	if p != nil {
		p.Done(err)
	}
	return b, err
}

func get(ctx context.Context, c *http.Client, u, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) && isChallenge(b) {
			return nil, &BlockedError{URL: u, Reason: "cloudflare"}
		}
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, &EmptyBodyError{URL: u}
	}
	return b, nil
}

func isChallenge(b []byte) bool {
	return bytes.Contains(b, []byte("challenge-platform")) || bytes.Contains(b, []byte("cf-chl"))
}
