package flows

import (
	"context"
	"errors"
	"testing"

	"moonlight/internal/llm"
	"moonlight/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const todoProject = "Here is your project:\n```json\n" + `{
  "files": [
    {"fileName": "app/page.tsx", "code": "export default function Page() { return <main>Todo</main> }"},
    {"fileName": "package.json", "code": "{\"name\": \"todo\"}"}
  ],
  "explanation": "A small to-do app built with the App Router."
}` + "\n```"

func TestGenerateCodeProject(t *testing.T) {
	cm := newScriptedModel(reply(todoProject))
	flow := NewCodeFlow(staticResolver{model: cm}, zap.NewNop())

	out, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "a to-do app"})
	require.NoError(t, err)
	require.Len(t, out.Files, 2)
	assert.Equal(t, "app/page.tsx", out.Files[0].FileName)
	assert.Equal(t, `{"name": "todo"}`, out.Files[1].Code)
	assert.Equal(t, "A small to-do app built with the App Router.", out.Explanation)
	assert.Equal(t, 1, cm.callCount())
}

func TestGenerateCodeProjectDegrades(t *testing.T) {
	cases := []struct {
		name  string
		reply func() *scriptedModel
	}{
		{"empty output", func() *scriptedModel { return newScriptedModel(reply("")) }},
		{"prose only", func() *scriptedModel { return newScriptedModel(reply("I cannot do that.")) }},
		{"files missing", func() *scriptedModel { return newScriptedModel(reply(`{"explanation": "partial notes"}`)) }},
		{"files not array", func() *scriptedModel { return newScriptedModel(reply(`{"files": "oops"}`)) }},
		{"files empty", func() *scriptedModel { return newScriptedModel(reply(`{"files": [], "explanation": "partial notes"}`)) }},
		{"transport error", func() *scriptedModel { return newScriptedModel(replyErr(errors.New("connection reset"))) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flow := NewCodeFlow(staticResolver{model: tc.reply()}, zap.NewNop())
			out, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "a to-do app"})
			require.NoError(t, err)
			require.Len(t, out.Files, 1)
			assert.Equal(t, "error.txt", out.Files[0].FileName)
			assert.Contains(t, out.Files[0].Code, "a to-do app")
			assert.NotEmpty(t, out.Explanation)
		})
	}
}

func TestGenerateCodeProjectKeepsPartialExplanation(t *testing.T) {
	flow := NewCodeFlow(staticResolver{model: newScriptedModel(reply(`{"files": [], "explanation": "partial notes"}`))}, zap.NewNop())
	out, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "a blog"})
	require.NoError(t, err)
	assert.Contains(t, out.Explanation, "partial notes")
	assert.Contains(t, out.Files[0].Code, "partial notes")
}

func TestGenerateCodeProjectLegacyBlob(t *testing.T) {
	cm := newScriptedModel(reply(`{"projectCode": "console.log('hi')", "explanation": "one file"}`))
	flow := NewCodeFlow(staticResolver{model: cm}, zap.NewNop())

	out, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "hello world"})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	assert.Equal(t, "project.txt", out.Files[0].FileName)
	assert.Equal(t, "console.log('hi')", out.Files[0].Code)
	assert.Equal(t, "one file", out.Explanation)
}

func TestGenerateCodeProjectFieldTypeIsFatal(t *testing.T) {
	cm := newScriptedModel(reply(`{"files": [{"fileName": "a.ts", "code": 42}], "explanation": "x"}`))
	flow := NewCodeFlow(staticResolver{model: cm}, zap.NewNop())

	_, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "anything"})
	var verr *validate.ViolationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, validate.FieldType, verr.Kind)
	assert.Contains(t, err.Error(), "files[0].code")
}

func TestGenerateCodeProjectInputErrors(t *testing.T) {
	flow := NewCodeFlow(staticResolver{model: newScriptedModel(reply(todoProject))}, zap.NewNop())

	_, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "   "})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "app", Model: "missing"})
	assert.ErrorIs(t, err, llm.ErrUnknownModel)
}

func TestGenerateCodeProjectEnhancement(t *testing.T) {
	cm := newScriptedModel(reply("A detailed to-do app with filters."), reply(todoProject))
	flow := NewCodeFlow(staticResolver{model: cm}, zap.NewNop())

	out, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "todo", EnhanceRequest: true})
	require.NoError(t, err)
	assert.Len(t, out.Files, 2)
	require.Equal(t, 2, cm.callCount())

	last := cm.lastCall()
	assert.Contains(t, last[len(last)-1].Content, "A detailed to-do app with filters.")
}

func TestGenerateCodeProjectEnhancementFallsBack(t *testing.T) {
	cm := newScriptedModel(replyErr(errors.New("rate limited")), reply(todoProject))
	flow := NewCodeFlow(staticResolver{model: cm}, zap.NewNop())

	out, err := flow.GenerateCodeProject(context.Background(), CodeProjectInput{Request: "todo list", EnhanceRequest: true})
	require.NoError(t, err)
	assert.Len(t, out.Files, 2)

	last := cm.lastCall()
	assert.Contains(t, last[len(last)-1].Content, "todo list")
}
