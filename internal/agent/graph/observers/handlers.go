// Package observers logs model and prompt lifecycle events of eino runs and
// times every graph node.
package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	"github.com/Chative-data-agent/server/internal/metrics"
	logx "github.com/Chative-data-agent/server/pkg/logger"
)

// NewAllCallbacks aggregates the model, prompt and node observers into one
// callbacks.Handler.
func NewAllCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		ChatModel(newModelHandler()).
		Prompt(newPromptHandler()).
		Lambda(newNodeHandler()).
		Handler()
}

type nodeStartKey struct{ name string }

// newNodeHandler records how long each lambda node ran.
func newNodeHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			return context.WithValue(ctx, nodeStartKey{info.Name}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			observeNode(ctx, info, nil)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			observeNode(ctx, info, err)
			return ctx
		}).
		Build()
}

func observeNode(ctx context.Context, info *einocb.RunInfo, err error) {
	started, ok := ctx.Value(nodeStartKey{info.Name}).(time.Time)
	if !ok {
		return
	}
	d := time.Since(started)
	metrics.ObserveNode(info.Name, d, err)
	ev := logx.Debug()
	if err != nil {
		ev = logx.Warn().Err(err)
	}
	ev.Str("node", info.Name).Dur("took", d).Msg("node finished")
}
