package flows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"moonlight/internal/models"
	"moonlight/internal/tools"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestChatFlow(cm *scriptedModel, images *fakeImageModel) *ChatFlow {
	if images == nil {
		images = &fakeImageModel{result: pngResult(800)}
	}
	resolver := staticResolver{model: cm}
	imageFlow := NewImageFlow(resolver, images, testFlowsConfig(), nil, zap.NewNop())
	return NewChatFlow(resolver, tools.NewImageTool(imageFlow, 0, 0), testFlowsConfig(), zap.NewNop())
}

func textQuery(text string) ChatInput {
	return ChatInput{Query: ChatQuery{Text: text}}
}

func TestChatSummary(t *testing.T) {
	cm := newScriptedModel(reply(`{"summary": "Ubuntu is a Linux distribution."}`))
	out, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("What is Ubuntu?"))
	require.NoError(t, err)
	assert.Equal(t, "Ubuntu is a Linux distribution.", out.Summary)
	assert.Empty(t, out.ImageURL)
	assert.ElementsMatch(t, []string{tools.SearchToolName, tools.ImageToolName}, cm.tools)
}

func TestChatProseReplyIsSummary(t *testing.T) {
	cm := newScriptedModel(reply("Hello! How can I help you today?"))
	out, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("hi there"))
	require.NoError(t, err)
	assert.Equal(t, "Hello! How can I help you today?", out.Summary)
	assert.Empty(t, cm.tools)
}

func TestChatProseWithBracesIsSummary(t *testing.T) {
	prose := "In Go a struct literal looks like Point{X: 1, Y: 2}, and a map uses map[string]int{}."
	cm := newScriptedModel(reply(prose))
	out, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("show a struct literal"))
	require.NoError(t, err)
	assert.Equal(t, prose, out.Summary)

	cm = newScriptedModel(reply("  Sets are written {1, 2, 3} in math.  "))
	out, err = newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("how are sets written"))
	require.NoError(t, err)
	assert.Equal(t, "Sets are written {1, 2, 3} in math.", out.Summary)
}

func TestChatSearchToolRoundTrip(t *testing.T) {
	cm := newScriptedModel(
		replyToolCall("call-1", tools.SearchToolName, `{"searchQuery": "ubuntu"}`),
		reply(`{"summary": "According to simulated-search-engine.com, Ubuntu is based on Debian."}`),
	)
	out, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("Tell me about Ubuntu"))
	require.NoError(t, err)
	assert.Contains(t, out.Summary, "Debian")

	last := cm.lastCall()
	toolMsg := last[len(last)-1]
	assert.Equal(t, schema.Tool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Contains(t, toolMsg.Content, "simulated-search-engine.com/ubuntu-overview")
}

func TestChatImageToolByModel(t *testing.T) {
	cm := newScriptedModel(
		replyToolCall("call-1", tools.ImageToolName, `{"imagePrompt": "a cat wearing a tiny hat"}`),
		reply(`{"summary": "A cat wearing a tiny hat."}`),
	)
	out, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("draw a cat wearing a hat"))
	require.NoError(t, err)
	assert.Equal(t, "A cat wearing a tiny hat.", out.Summary)
	assert.True(t, strings.HasPrefix(out.ImageURL, "data:image/png;base64,"))

	last := cm.lastCall()
	toolMsg := last[len(last)-1]
	assert.Contains(t, toolMsg.Content, "generated-image-1")
	assert.NotContains(t, toolMsg.Content, "data:")
}

func TestChatRequiredImageInvokedWhenModelSkipsTool(t *testing.T) {
	images := &fakeImageModel{result: pngResult(800)}
	cm := newScriptedModel(reply(`{"summary": "A sunset over the sea."}`))
	out, err := newTestChatFlow(cm, images).SearchAndSummarize(context.Background(), textQuery("generate an image of a sunset over the sea"))
	require.NoError(t, err)
	assert.NotEmpty(t, out.ImageURL)
	require.Len(t, images.requests, 1)
	assert.Equal(t, "generate an image of a sunset over the sea", images.requests[0].Prompt)
}

func TestChatImageToolFailureIsReturned(t *testing.T) {
	images := &fakeImageModel{err: errors.New("image quota exceeded")}
	cm := newScriptedModel(
		replyToolCall("call-1", tools.ImageToolName, `{"imagePrompt": "a dragon"}`),
		reply(`{"summary": "unused"}`),
	)
	out, err := newTestChatFlow(cm, images).SearchAndSummarize(context.Background(), textQuery("draw a dragon"))
	assert.Nil(t, out)
	assert.EqualError(t, err, "image quota exceeded")
}

func TestChatApologies(t *testing.T) {
	cases := []struct {
		name  string
		model *scriptedModel
		want  string
	}{
		{"transport error", newScriptedModel(replyErr(errors.New("deadline exceeded"))), ApologyUnexpected},
		{"empty output", newScriptedModel(reply("")), ApologyEmpty},
		{"empty summary", newScriptedModel(reply(`{"summary": "  "}`)), ApologyEmpty},
		{"wrong shape", newScriptedModel(reply(`{"answer": "42"}`)), ApologyInvalid},
		{"summary not a string", newScriptedModel(reply(`{"summary": 42}`)), ApologyInvalid},
		{"broken json", newScriptedModel(reply(`{"summary": "unterminated`)), ApologyInvalid},
		{"endless tool calls", newScriptedModel(replyToolCall("c", tools.SearchToolName, `{"searchQuery": "linux"}`)), ApologyUnexpected},
		{"panic", newScriptedModel(func([]*schema.Message) (*schema.Message, error) { panic("boom") }), ApologyUnexpected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := newTestChatFlow(tc.model, nil).SearchAndSummarize(context.Background(), textQuery("Explain how tides work"))
			require.NoError(t, err)
			assert.Equal(t, tc.want, out.Summary)
			assert.Empty(t, out.ImageURL)
		})
	}
}

func TestChatJSONSummary(t *testing.T) {
	cm := newScriptedModel(reply(`{"summary": "{\"France\": \"Paris\", \"Spain\": \"Madrid\"}"}`))
	out, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("list two capitals as JSON"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"France": "Paris", "Spain": "Madrid"}`, out.Summary)

	cm = newScriptedModel(reply(`{"summary": "Paris and Madrid"}`))
	out, err = newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), textQuery("list two capitals as JSON"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "Paris and Madrid"}`, out.Summary)
}

func TestChatUploadWithoutText(t *testing.T) {
	cm := newScriptedModel(reply(`{"summary": "A photo of a mountain lake."}`))
	in := ChatInput{Query: ChatQuery{ImageURL: "data:image/jpeg;base64,/9j/AAAA"}}
	out, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "A photo of a mountain lake.", out.Summary)
	assert.Equal(t, []string{tools.SearchToolName}, cm.tools)

	last := cm.lastCall()
	user := last[len(last)-1]
	require.Len(t, user.MultiContent, 1)
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, user.MultiContent[0].Type)
	assert.Equal(t, "image/jpeg", user.MultiContent[0].ImageURL.MIMEType)
}

func TestChatHistoryAndOptions(t *testing.T) {
	cm := newScriptedModel(reply(`{"summary": "It was released in 2004."}`))
	temp := float32(0.2)
	in := ChatInput{
		Query: ChatQuery{Text: "When was it first released?"},
		History: []models.ChatMessage{
			{ID: "1", Sender: models.SenderUser, Text: "What is Ubuntu?"},
			{ID: "2", Sender: models.SenderBot, Text: "Ubuntu is a Linux distribution."},
			{ID: "3", Sender: models.SenderUser, ImageURL: "data:image/png;base64,AAAA", ImageError: true},
			{ID: "4", Sender: models.SenderBot, IsLoading: true},
		},
		Temperature:              &temp,
		CustomSystemInstructions: "You are a terse assistant.",
	}
	_, err := newTestChatFlow(cm, nil).SearchAndSummarize(context.Background(), in)
	require.NoError(t, err)

	msgs := cm.lastCall()
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "You are a terse assistant."))
	assert.Equal(t, "What is Ubuntu?", msgs[1].Content)
	assert.Equal(t, schema.Assistant, msgs[2].Role)
	assert.Equal(t, "When was it first released?", msgs[3].Content)

	opts := model.GetCommonOptions(&model.Options{}, cm.opts[0]...)
	require.NotNil(t, opts.Temperature)
	assert.Equal(t, temp, *opts.Temperature)
}

func TestChatInputErrors(t *testing.T) {
	flow := newTestChatFlow(newScriptedModel(reply(`{"summary": "x"}`)), nil)

	_, err := flow.SearchAndSummarize(context.Background(), ChatInput{})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	in := textQuery("hello")
	in.Model = "missing"
	_, err = flow.SearchAndSummarize(context.Background(), in)
	assert.Error(t, err)
}

func TestChatQueryJSON(t *testing.T) {
	var q ChatQuery
	require.NoError(t, q.UnmarshalJSON([]byte(`"plain text"`)))
	assert.Equal(t, ChatQuery{Text: "plain text"}, q)

	require.NoError(t, q.UnmarshalJSON([]byte(`{"imageUrl": "data:image/png;base64,AAAA"}`)))
	assert.Equal(t, ChatQuery{ImageURL: "data:image/png;base64,AAAA"}, q)

	assert.Error(t, q.UnmarshalJSON([]byte(`42`)))

	b, err := ChatQuery{Text: "hi"}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(b))
}
