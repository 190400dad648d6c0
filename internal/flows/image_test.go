package flows

import (
	"context"
	"errors"
	"strings"
	"testing"

	"moonlight/internal/config"
	"moonlight/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerateEnhancedImage(t *testing.T) {
	images := &fakeImageModel{result: pngResult(800)}
	archive := &recordingArchiver{}
	flow := NewImageFlow(staticResolver{}, images, testFlowsConfig(), archive, zap.NewNop())

	out, err := flow.GenerateEnhancedImage(context.Background(), ImageInput{Prompt: "a red fox"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.ImageURL, "data:image/png;base64,"))

	require.Len(t, images.requests, 1)
	req := images.requests[0]
	assert.Equal(t, "a red fox", req.Prompt)
	assert.Nil(t, req.Reference)
	assert.Contains(t, req.Safety, llm.SafetySetting{Category: llm.CategoryHateSpeech, Threshold: config.ThresholdBlockOnlyHigh})
	assert.Equal(t, []string{"a red fox"}, archive.prompts)
}

func TestGenerateEnhancedImageFailures(t *testing.T) {
	cases := []struct {
		name   string
		images *fakeImageModel
		want   error
	}{
		{"too small", &fakeImageModel{result: pngResult(10)}, ErrImageTooSmall},
		{"text only", &fakeImageModel{result: &llm.ImageResult{Text: "I can't draw that."}}, ErrNoImage},
		{"nil result", &fakeImageModel{}, ErrNoImage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flow := NewImageFlow(staticResolver{}, tc.images, testFlowsConfig(), nil, zap.NewNop())
			_, err := flow.GenerateEnhancedImage(context.Background(), ImageInput{Prompt: "a red fox"})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	flow := NewImageFlow(staticResolver{}, &fakeImageModel{err: errors.New("blocked by safety filters")}, testFlowsConfig(), nil, zap.NewNop())
	_, err := flow.GenerateEnhancedImage(context.Background(), ImageInput{Prompt: "a red fox"})
	assert.EqualError(t, err, "blocked by safety filters")

	_, err = flow.GenerateEnhancedImage(context.Background(), ImageInput{Prompt: " "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestGenerateEnhancedImageRewrite(t *testing.T) {
	images := &fakeImageModel{result: pngResult(800)}
	cm := newScriptedModel(reply("a red fox in a snowy forest at dawn, soft light"))
	flow := NewImageFlow(staticResolver{model: cm}, images, testFlowsConfig(), nil, zap.NewNop())

	_, err := flow.GenerateEnhancedImage(context.Background(), ImageInput{Prompt: "a red fox", Enhance: true})
	require.NoError(t, err)
	require.Len(t, images.requests, 1)
	assert.Equal(t, "a red fox in a snowy forest at dawn, soft light", images.requests[0].Prompt)
}

func TestGenerateEnhancedImageTwoPass(t *testing.T) {
	images := &fakeImageModel{result: pngResult(800)}
	cfg := testFlowsConfig()
	cfg.ImageStrategy = config.ImageStrategyTwoPass
	flow := NewImageFlow(staticResolver{}, images, cfg, nil, zap.NewNop())

	_, err := flow.GenerateEnhancedImage(context.Background(), ImageInput{Prompt: "a red fox", Enhance: true})
	require.NoError(t, err)
	require.Len(t, images.requests, 2)
	assert.Nil(t, images.requests[0].Reference)
	require.NotNil(t, images.requests[1].Reference)
	assert.Equal(t, "image/png", images.requests[1].Reference.MIMEType)
	assert.True(t, strings.HasSuffix(images.requests[1].Prompt, "a red fox"))
}

func TestImageArchiveFailureIsNotFatal(t *testing.T) {
	images := &fakeImageModel{result: pngResult(800)}
	archive := &recordingArchiver{err: errors.New("bucket unavailable")}
	flow := NewImageFlow(staticResolver{}, images, testFlowsConfig(), archive, zap.NewNop())

	uri, err := flow.Render(context.Background(), "a lighthouse")
	require.NoError(t, err)
	assert.NotEmpty(t, uri)
	assert.Len(t, archive.prompts, 1)
}
