// Package httpx 提供 source 共用的 HTTP client：浏览器 UA 轮换、波兰语请求头、代理与有界重试。
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryMax   = 2
	defaultRetryDelay = 2 * time.Second

	// AcceptLanguage 让上游返回波兰语页面（片名/影院名以波兰语为准）。
	AcceptLanguage = "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7"
)

// userAgents 是轮换使用的桌面浏览器 UA。
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
}

// Transport 给每个请求补齐浏览器请求头，并对网络错误与网关类状态码做有界重试。
//
// source 只负责“定位页面 + 解析内容”，不关心网络策略细节。
type Transport struct {
	Base http.RoundTripper

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int
	// RetryDelay 是第 n 次重试前等待 n*RetryDelay。
	RetryDelay time.Duration

	// DisableKeepAlives 决定是否对 Request 设置 Close=true。
	DisableKeepAlives bool

	// Sleep 可替换，测试中不真正等待。
	Sleep func(ctx context.Context, d time.Duration) error
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	retries := max(t.RetryMax, 0)
	if (req.Method != http.MethodGet && req.Method != http.MethodHead) || req.Body != nil {
		retries = 0
	}

	for attempt := 0; ; attempt++ {
		resp, err := t.Base.RoundTrip(t.prepare(req))
		if attempt >= retries || !retryable(resp, err) || req.Context().Err() != nil {
			return resp, err
		}
		if resp != nil {
			// 丢弃响应体以便连接复用。
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
		}
		if err := t.sleep(req.Context(), time.Duration(attempt+1)*t.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func (t *Transport) prepare(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgents[rand.Intn(len(userAgents))])
	}
	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", AcceptLanguage)
	}
	if r.Header.Get("Referer") == "" && r.URL != nil {
		r.Header.Set("Referer", r.URL.Scheme+"://"+r.URL.Host+"/")
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return r
}

// retryable：网络错误与 502/503/504 可重试；其余状态码交给上层按软失败处理。
func retryable(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (t *Transport) sleep(ctx context.Context, d time.Duration) error {
	if t.Sleep != nil {
		return t.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewClient 构造用于 source 抓取的 HTTP client。
//
// 规则：
// - proxyURL 非空：必须是 http/https/socks5，所有请求走代理，且每请求新连接
// - 每个请求随机 UA；默认 Accept-Language 为波兰语
// - 有界重试（网络错误、502/503/504）+ 总超时
func NewClient(proxyURL string) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}
	tr := &Transport{
		Base:       base,
		RetryMax:   defaultRetryMax,
		RetryDelay: defaultRetryDelay,
	}

	if proxyURL = strings.TrimSpace(proxyURL); proxyURL != "" {
		u, err := ParseProxyURL(proxyURL)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(u)
		// 代理池轮换依赖每请求新连接。
		base.DisableKeepAlives = true
		tr.DisableKeepAlives = true
	}

	return &http.Client{
		Transport: tr,
		Timeout:   defaultTimeout,
	}, nil
}

// ParseProxyURL 校验代理地址：scheme 只能是 http/https/socks5，且必须有 host。
func ParseProxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, fmt.Errorf("不支持的代理协议：%q（只支持 http/https/socks5）", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("代理地址缺少 host：%q", raw)
	}
	return u, nil
}
