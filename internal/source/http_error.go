package source

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示站点返回了非 200 的 HTTP 状态码（软失败：记录后该单元结果为空）。
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// EmptyBodyError 表示 200 但响应体为空。
type EmptyBodyError struct {
	URL string
}

func (e *EmptyBodyError) Error() string {
	return "empty response body: " + e.URL
}

// BlockedError 表示请求被引导到了反爬验证页。不尝试绕过，直接视为 fetch_failed。
type BlockedError struct {
	URL    string
	Reason string // 例如 "cloudflare"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return "blocked: " + e.URL
	}
	return "blocked: " + strings.TrimSpace(e.Reason) + ": " + e.URL
}
