package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"moonlight/internal/config"
	"moonlight/internal/llm"
	"moonlight/internal/logging"
	"moonlight/internal/models"
	"moonlight/internal/tools"
	"moonlight/internal/validate"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Fixed replies used instead of surfacing non-tool failures.
const (
	ApologyEmpty      = "I received an empty response from the AI. Could you try rephrasing your question?"
	ApologyInvalid    = "I'm having trouble processing that request right now. The AI returned an unexpected result."
	ApologyUnexpected = "An unexpected error occurred while trying to get a response. Please try again or rephrase your request."
)

type ChatInput struct {
	Query                    ChatQuery            `json:"query"`
	History                  []models.ChatMessage `json:"history"`
	Temperature              *float32             `json:"temperature,omitempty"`
	CustomSystemInstructions string               `json:"customSystemInstructions,omitempty"`
	Model                    string               `json:"model,omitempty"`

	// DialogID scopes the image tool rate limit. Not part of the wire format.
	DialogID string `json:"-"`
}

type ChatOutput struct {
	Summary  string `json:"summary"`
	ImageURL string `json:"imageUrl,omitempty"`
}

type ChatFlow struct {
	models    ModelResolver
	search    tool.InvokableTool
	imageTool *tools.ImageTool
	maxRounds int
	logger    *zap.Logger
}

func NewChatFlow(resolver ModelResolver, imageTool *tools.ImageTool, cfg config.FlowsConfig, logger *zap.Logger) *ChatFlow {
	return &ChatFlow{
		models:    resolver,
		search:    tools.NewSearchTool(),
		imageTool: imageTool,
		maxRounds: cfg.MaxToolRounds,
		logger:    logger.Named("flows.chat"),
	}
}

// SearchAndSummarize answers the latest turn. The only errors it returns are
// input errors and image tool failures; anything else becomes an apology.
func (f *ChatFlow) SearchAndSummarize(ctx context.Context, in ChatInput) (out *ChatOutput, err error) {
	defer logging.Duration(ctx, f.logger, "SearchAndSummarize")()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("chat flow panicked", zap.Any("panic", r), zap.Stack("stack"))
			out, err = &ChatOutput{Summary: ApologyUnexpected}, nil
		}
	}()

	if in.Query.Empty() {
		return nil, ErrEmptyRequest
	}

	cm, err := f.models.Resolve(ctx, in.Model)
	if err != nil {
		if errors.Is(err, llm.ErrUnknownModel) {
			return nil, err
		}
		f.logger.Error("resolve model failed", zap.Error(err))
		return &ChatOutput{Summary: ApologyUnexpected}, nil
	}

	decision := Decide(in.Query, in.History)
	f.logger.Debug("chat decision",
		zap.String("intent", string(decision.Intent)),
		zap.String("language", decision.Language.Code),
		zap.Bool("offer_search", decision.OfferSearch),
		zap.Bool("offer_image", decision.OfferImage),
		zap.Bool("json", decision.JSONSummary))

	ctx = tools.WithDialog(ctx, in.DialogID)
	ctx, gallery := tools.WithGallery(ctx)

	msgs, err := f.buildMessages(ctx, in, decision)
	if err != nil {
		f.logger.Error("build chat prompt failed", zap.Error(err))
		return &ChatOutput{Summary: ApologyUnexpected}, nil
	}

	loop := newToolLoop(f.logger, f.maxRounds)
	if decision.OfferSearch {
		if err := loop.add(ctx, f.search, false); err != nil {
			return &ChatOutput{Summary: ApologyUnexpected}, nil
		}
	}
	if decision.OfferImage && f.imageTool != nil {
		if err := loop.add(ctx, f.imageTool, true); err != nil {
			return &ChatOutput{Summary: ApologyUnexpected}, nil
		}
	}

	var opts []model.Option
	if in.Temperature != nil {
		opts = append(opts, model.WithTemperature(*in.Temperature))
	}

	resp, err := loop.run(ctx, cm, msgs, opts...)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			f.logger.Warn("image tool failed", zap.String("tool", toolErr.Tool), zap.Error(toolErr.Err))
			return nil, toolErr.Err
		}
		f.logger.Error("chat generation failed", zap.Error(err))
		return &ChatOutput{Summary: ApologyUnexpected}, nil
	}

	summary, violation := parseSummary(resp.Content, decision.JSONSummary)
	if violation != validate.None {
		f.logger.Warn("chat output rejected", zap.String("violation", string(violation)))
	}

	if decision.RequireImage && gallery.Len() == 0 && f.imageTool != nil {
		f.logger.Info("model skipped the required image tool, invoking it directly")
		if _, err := f.imageTool.Generate(ctx, imagePromptFor(in.Query)); err != nil {
			return nil, err
		}
	}

	out = &ChatOutput{Summary: summary}
	if decision.Intent != IntentGreeting {
		if uri, ok := gallery.Latest(); ok {
			out.ImageURL = uri
		}
	}
	return out, nil
}

func (f *ChatFlow) buildMessages(ctx context.Context, in ChatInput, d Decision) ([]*schema.Message, error) {
	instructions := strings.TrimSpace(in.CustomSystemInstructions)
	if instructions == "" {
		instructions = DefaultSystemInstructions
	}
	msgs, err := chatTemplate.Format(ctx, map[string]any{
		"instructions": instructions,
		"language":     d.Language.Name,
		"intent":       string(d.Intent),
		"requireImage": d.RequireImage,
		"offerSearch":  d.OfferSearch,
		"offerImage":   d.OfferImage,
		"imageTool":    tools.ImageToolName,
		"searchTool":   tools.SearchToolName,
		"jsonSummary":  d.JSONSummary,
		"history":      historyMessages(in.History),
	})
	if err != nil {
		return nil, fmt.Errorf("format chat prompt: %w", err)
	}
	return append(msgs, userMessage(in.Query.Text, in.Query.ImageURL)), nil
}

// historyMessages converts prior turns, oldest first. Loading placeholders
// and turns with neither text nor a usable image are skipped.
func historyMessages(history []models.ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		if m.IsLoading || !m.HasContent() {
			continue
		}
		switch m.Sender {
		case models.SenderUser:
			imageURL := m.ImageURL
			if m.ImageError {
				imageURL = ""
			}
			if m.Text == "" && imageURL == "" {
				continue
			}
			out = append(out, userMessage(m.Text, imageURL))
		case models.SenderBot:
			if m.Text == "" {
				continue
			}
			out = append(out, schema.AssistantMessage(m.Text, nil))
		}
	}
	return out
}

func userMessage(text, imageURL string) *schema.Message {
	if imageURL == "" {
		return schema.UserMessage(text)
	}
	parts := make([]schema.ChatMessagePart, 0, 2)
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: text})
	}
	parts = append(parts, schema.ChatMessagePart{
		Type: schema.ChatMessagePartTypeImageURL,
		ImageURL: &schema.ChatMessageImageURL{
			URL:      imageURL,
			MIMEType: dataURIMediaType(imageURL),
		},
	})
	return &schema.Message{Role: schema.User, MultiContent: parts}
}

func dataURIMediaType(uri string) string {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return ""
	}
	end := strings.IndexAny(rest, ";,")
	if end < 0 {
		return ""
	}
	return rest[:end]
}

func imagePromptFor(q ChatQuery) string {
	if text := strings.TrimSpace(q.Text); text != "" {
		return text
	}
	return "An image based on the attached picture"
}

// parseSummary extracts the summary from the model reply. Prose without any
// JSON is accepted as the summary itself.
func parseSummary(raw string, wantJSON bool) (string, validate.Violation) {
	if strings.TrimSpace(raw) == "" {
		return ApologyEmpty, validate.Empty
	}
	res := validate.Object(raw)
	if !res.OK() {
		// Only a reply that tried to be the envelope is invalid; braces in prose are text.
		if !strings.Contains(raw, `"summary"`) {
			return finishSummary(strings.TrimSpace(raw), wantJSON), validate.None
		}
		return ApologyInvalid, res.Violation
	}

	obj := res.Value
	field := validate.StringField(obj, "summary")
	switch field.Violation {
	case validate.None:
		summary := strings.TrimSpace(field.Value)
		if summary == "" {
			return ApologyEmpty, validate.Empty
		}
		return finishSummary(summary, wantJSON), validate.None
	case validate.WrongType:
		if v := obj.Get("summary"); wantJSON && (v.IsObject() || v.IsArray()) {
			return v.Raw, validate.None
		}
		return ApologyInvalid, field.Violation
	case validate.MissingField:
		if wantJSON {
			return obj.Raw, validate.None
		}
		return ApologyInvalid, field.Violation
	default:
		return ApologyInvalid, field.Violation
	}
}

// finishSummary makes sure a requested JSON summary is a JSON document.
func finishSummary(summary string, wantJSON bool) string {
	if !wantJSON {
		return summary
	}
	if doc, ok := validate.ExtractJSON(summary); ok {
		return doc
	}
	if json.Valid([]byte(summary)) {
		return summary
	}
	b, _ := json.Marshal(map[string]string{"answer": summary})
	return string(b)
}
