package sheets

import (
	"context"
	"errors"
	"fmt"
)

// RowRange 是闭区间 [Start, End]，按工作表行号计（1 起，第 1 行是表头）。
type RowRange struct {
	Start int
	End   int
}

// Backend 是表格存储的最小能力集合。
type Backend interface {
	// EnsureTab 确保工作表存在；新建时写入 header 并返回 created=true。
	EnsureTab(ctx context.Context, tab string, header []string) (created bool, err error)
	// ReadRows 返回全部行（含表头）。
	ReadRows(ctx context.Context, tab string) ([][]string, error)
	// DeleteRows 删除若干行区间；实现必须保证一次调用内行号以调用前为准。
	DeleteRows(ctx context.Context, tab string, ranges []RowRange) error
	AppendRows(ctx context.Context, tab string, rows [][]string) error
}

// QuotaError 表示后端配额耗尽（HTTP 429 或等价错误），可退避重试。
type QuotaError struct {
	Op  string
	Err error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("配额耗尽（%s）：%v", e.Op, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

func IsQuota(err error) bool {
	var q *QuotaError
	return errors.As(err, &q)
}

// contiguous 把升序行号压缩为连续区间。
func contiguous(rows []int) []RowRange {
	out := make([]RowRange, 0, 4)
	for _, r := range rows {
		if n := len(out); n > 0 && out[n-1].End+1 == r {
			out[n-1].End = r
			continue
		}
		out = append(out, RowRange{Start: r, End: r})
	}
	return out
}
