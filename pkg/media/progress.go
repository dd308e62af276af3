package media

import "context"

// ProgressFunc 接收 [0,1] 的进度
type ProgressFunc func(float64)

type progressKey struct{}

// WithProgress 把进度回调放进上下文，供解析器上报分段进度
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress 上报进度，上下文中没有回调时忽略
func ReportProgress(ctx context.Context, v float64) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil {
		fn(v)
	}
}
