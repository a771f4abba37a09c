package fetch

import (
	"time"

	"github.com/John-Robertt/kinopl/internal/config"
	"github.com/John-Robertt/kinopl/internal/domain"
)

// Observer 用于把“运行进度/阶段/单元结果”从核心执行流程中解耦出来。
//
// 约束：
// - fetch 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 单元按顺序执行，事件来自同一个 goroutine。
type Observer interface {
	// OnStart 在开始抓取前调用（units 为计划的单元总数）。
	OnStart(eff config.EffectiveConfig, units int)
	// OnPhaseDone 在阶段结束时调用（plan/fetch/export/archive）。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnUnitDone 在每个抓取单元完成时调用。
	OnUnitDone(idx, total int, u domain.FetchUnit, res domain.UnitResult, dur time.Duration)
}
