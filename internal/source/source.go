// Package source 定义放映数据来源的统一接口，以及共用的 HTTP 抓取与错误归类。
package source

import (
	"context"
	"net/http"

	"github.com/John-Robertt/kinopl/internal/domain"
	"github.com/John-Robertt/kinopl/internal/infra/pace"
)

// Scope 决定 planner 如何为 source 生成抓取单元。
type Scope int

const (
	// PerCity：每个 (city, date) 一个单元（聚合站点按城市分页）。
	PerCity Scope = iota
	// PerDate：每个 date 一个单元，结果覆盖多个城市，由上层按请求城市过滤。
	PerDate
)

// Source 把“站点变化”限制在各自的包内部；核心流程只依赖统一接口与 RawScreening。
//
// 约束：
// - Fetch 负责全部网络请求，每个请求前调用 p.Wait、请求后调用 p.Done；不做缓存
// - Fetch 返回的 payload 是 Parse 的唯一输入（多步请求的 source 把各步结果打包成一个 JSON）
// - Parse 必须是纯函数：相同 (unit, payload) => 相同输出
// - 缺少片名等字段的片段仍以 RawScreening 返回，由 normalize 统一判定并计数
type Source interface {
	Name() string
	Scope() Scope
	// PayloadExt 是原始响应缓存的扩展名（html/json）。
	PayloadExt() string
	Fetch(ctx context.Context, u domain.FetchUnit, c *http.Client, p *pace.Pacer) ([]byte, error)
	Parse(u domain.FetchUnit, payload []byte) ([]domain.RawScreening, error)
}
