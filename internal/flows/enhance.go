package flows

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"go.uber.org/zap"
)

// enhancer runs the optional rewrite sub-call. It never fails: any problem
// is logged and the original input is returned.
type enhancer struct {
	logger *zap.Logger
}

func (e enhancer) enhance(ctx context.Context, cm model.BaseChatModel, tmpl prompt.ChatTemplate, input string) string {
	msgs, err := tmpl.Format(ctx, map[string]any{"input": input})
	if err != nil {
		e.logger.Warn("enhancement prompt failed, using original input", zap.Error(err))
		return input
	}
	resp, err := cm.Generate(ctx, msgs)
	if err != nil {
		e.logger.Warn("enhancement call failed, using original input", zap.Error(err))
		return input
	}
	out := ""
	if resp != nil {
		out = strings.TrimSpace(resp.Content)
	}
	if out == "" {
		e.logger.Warn("enhancement returned empty text, using original input")
		return input
	}
	return out
}
