package safego

import (
	"context"
	"runtime/debug"

	"github.com/promptlab/promptlab/pkg/logs"
)

// Recovery 捕获panic
func Recovery(ctx context.Context) {
	e := recover()
	if e == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logs.CtxErrorf(ctx, "[Recovery] caught panic error = %v \n stacktrace = \n%s", e, string(debug.Stack()))
}
