package graph

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dyike/TradingAgentsGo/internal/trace"
	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// LoggerCallback writes graph lifecycle events to the debug log.
type LoggerCallback struct {
	callbacks.HandlerBuilder

	log *logger.Logger
}

func NewLoggerCallback(log *logger.Logger) *LoggerCallback {
	if log == nil {
		log = logger.Nop()
	}
	return &LoggerCallback{log: log}
}

func (cb *LoggerCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if info != nil {
		cb.log.Debugw("component start", "name", info.Name, "component", string(info.Component), "type", info.Type)
	}
	return ctx
}

func (cb *LoggerCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if info == nil {
		return ctx
	}
	fields := []any{"name", info.Name, "component", string(info.Component)}
	if out := ecmodel.ConvCallbackOutput(output); out != nil && out.TokenUsage != nil {
		fields = append(fields, "prompt_tokens", out.TokenUsage.PromptTokens,
			"completion_tokens", out.TokenUsage.CompletionTokens)
	}
	cb.log.Debugw("component end", fields...)
	return ctx
}

func (cb *LoggerCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	name := ""
	if info != nil {
		name = info.Name
	}
	fields := []any{"name", name, "error", err}
	if traceID, spanID, ok := trace.GetTraceFields(ctx); ok {
		fields = append(fields, "trace_id", traceID, "span_id", spanID)
	}
	cb.log.Warnw("component error", fields...)
	return ctx
}

func (cb *LoggerCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return ctx
}

func (cb *LoggerCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}
