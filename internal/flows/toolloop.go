package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

var errToolRoundsExhausted = errors.New("model kept requesting tools")

// ToolError is returned when a tool marked fatal fails.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return e.Err.Error()
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// toolLoop drives the tool-calling protocol: ask the model, run any tool
// calls it returns, resubmit their results, until it answers without tool
// calls or maxRounds is reached.
type toolLoop struct {
	tools     map[string]tool.InvokableTool
	fatal     map[string]bool
	maxRounds int
	logger    *zap.Logger
}

func newToolLoop(logger *zap.Logger, maxRounds int) *toolLoop {
	if maxRounds <= 0 {
		maxRounds = 1
	}
	return &toolLoop{
		tools:     make(map[string]tool.InvokableTool),
		fatal:     make(map[string]bool),
		maxRounds: maxRounds,
		logger:    logger,
	}
}

func (l *toolLoop) add(ctx context.Context, t tool.InvokableTool, fatal bool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}
	l.tools[info.Name] = t
	l.fatal[info.Name] = fatal
	return nil
}

func (l *toolLoop) run(ctx context.Context, cm model.ToolCallingChatModel, msgs []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	bound := cm
	if len(l.tools) > 0 {
		infos := make([]*schema.ToolInfo, 0, len(l.tools))
		for _, t := range l.tools {
			info, err := t.Info(ctx)
			if err != nil {
				return nil, fmt.Errorf("tool info: %w", err)
			}
			infos = append(infos, info)
		}
		var err error
		bound, err = cm.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	for round := 0; round < l.maxRounds; round++ {
		resp, err := bound.Generate(ctx, msgs, opts...)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if resp == nil {
			return nil, errors.New("generate: empty response")
		}
		if len(resp.ToolCalls) == 0 {
			return resp, nil
		}

		msgs = append(msgs, resp)
		for _, call := range resp.ToolCalls {
			result, err := l.invoke(ctx, call)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, schema.ToolMessage(result, call.ID, schema.WithToolName(call.Function.Name)))
		}
	}
	return nil, errToolRoundsExhausted
}

// invoke runs one call. Failures of non-fatal tools are reported back to the
// model as an error payload instead of ending the loop.
func (l *toolLoop) invoke(ctx context.Context, call schema.ToolCall) (string, error) {
	name := call.Function.Name
	t, ok := l.tools[name]
	if !ok {
		l.logger.Warn("model requested unknown tool", zap.String("tool", name))
		return toolErrorPayload(fmt.Errorf("unknown tool %q", name)), nil
	}
	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		err := fmt.Errorf("arguments for %s are not valid JSON", name)
		if l.fatal[name] {
			return "", &ToolError{Tool: name, Err: err}
		}
		return toolErrorPayload(err), nil
	}

	l.logger.Debug("invoking tool", zap.String("tool", name), zap.String("call_id", call.ID))
	out, err := t.InvokableRun(ctx, args)
	if err != nil {
		if l.fatal[name] {
			return "", &ToolError{Tool: name, Err: err}
		}
		l.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
		return toolErrorPayload(err), nil
	}
	return out, nil
}

func toolErrorPayload(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
