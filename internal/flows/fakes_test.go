package flows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"moonlight/internal/config"
	"moonlight/internal/llm"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// scriptedModel replays replies in order; the last reply repeats.
type scriptedModel struct {
	mu      sync.Mutex
	replies []func(msgs []*schema.Message) (*schema.Message, error)
	calls   [][]*schema.Message
	opts    [][]model.Option
	tools   []string
}

func reply(content string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage(content, nil), nil
	}
}

func replyErr(err error) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return nil, err
	}
}

func replyToolCall(id, name, args string) func([]*schema.Message) (*schema.Message, error) {
	return func([]*schema.Message) (*schema.Message, error) {
		return schema.AssistantMessage("", []schema.ToolCall{{
			ID:       id,
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}}), nil
	}
}

func newScriptedModel(replies ...func([]*schema.Message) (*schema.Message, error)) *scriptedModel {
	return &scriptedModel{replies: replies}
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, append([]*schema.Message(nil), input...))
	m.opts = append(m.opts, opts)
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	fn := m.replies[idx]
	m.mu.Unlock()
	return fn(input)
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (m *scriptedModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = m.tools[:0]
	for _, info := range infos {
		m.tools = append(m.tools, info.Name)
	}
	return m, nil
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) lastCall() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

type staticResolver struct {
	model model.ToolCallingChatModel
	err   error
}

func (r staticResolver) Resolve(ctx context.Context, id string) (model.ToolCallingChatModel, error) {
	if id == "missing" {
		return nil, fmt.Errorf("%w: %s", llm.ErrUnknownModel, id)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.model, nil
}

type fakeImageModel struct {
	mu       sync.Mutex
	requests []llm.ImageRequest
	result   *llm.ImageResult
	err      error
}

func (f *fakeImageModel) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func pngResult(size int) *llm.ImageResult {
	return &llm.ImageResult{Images: []llm.InlineImage{{MIMEType: "image/png", Data: bytes.Repeat([]byte{0x89}, size)}}}
}

type recordingArchiver struct {
	prompts []string
	err     error
}

func (a *recordingArchiver) ArchiveImage(ctx context.Context, prompt string, img llm.InlineImage) error {
	a.prompts = append(a.prompts, prompt)
	return a.err
}

func testFlowsConfig() config.FlowsConfig {
	return config.FlowsConfig{
		ImageStrategy:   config.ImageStrategyRewrite,
		MinDataURIBytes: 1024,
		Safety: config.SafetyConfig{
			HateSpeech:       config.ThresholdBlockOnlyHigh,
			DangerousContent: config.ThresholdBlockMediumAndAbove,
			Harassment:       config.ThresholdBlockMediumAndAbove,
			SexuallyExplicit: config.ThresholdBlockMediumAndAbove,
		},
		MaxToolRounds: 4,
	}
}
