package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

const ImageToolName = "generateImageTool"

var ErrImageRateLimited = errors.New("image generation rate limit exceeded, try again later")

// ImageRenderer produces a data URI for a prompt.
type ImageRenderer interface {
	Render(ctx context.Context, prompt string) (string, error)
}

type ImageParams struct {
	ImagePrompt string `json:"imagePrompt"`
}

type ImageToolResult struct {
	ImageURL string `json:"imageUrl"`
}

var _ tool.InvokableTool = (*ImageTool)(nil)

// ImageTool wraps an ImageRenderer for model-initiated calls. Its errors are
// returned unwrapped so callers can show them to the user as-is.
type ImageTool struct {
	renderer ImageRenderer
	limiter  *keyedLimiter
}

// NewImageTool builds the tool. perMinute <= 0 disables rate limiting.
func NewImageTool(renderer ImageRenderer, perMinute, burst int) *ImageTool {
	return &ImageTool{renderer: renderer, limiter: newKeyedLimiter(perMinute, burst)}
}

var imageToolInfo = &schema.ToolInfo{
	Name: ImageToolName,
	Desc: "Generates a new image from a descriptive prompt. Use it when the user asks to create, draw or generate an image, " +
		"or when an illustration would clearly help. Returns an imageUrl handle for the generated image.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"imagePrompt": {
			Desc:     "A clear, detailed description of the image to generate",
			Type:     schema.String,
			Required: true,
		},
	}),
}

func (t *ImageTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return imageToolInfo, nil
}

func (t *ImageTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var params ImageParams
	if err := json.Unmarshal([]byte(argumentsInJSON), &params); err != nil {
		return "", fmt.Errorf("decode %s arguments: %w", ImageToolName, err)
	}
	if strings.TrimSpace(params.ImagePrompt) == "" {
		return "", errors.New("imagePrompt must not be empty")
	}
	res, err := t.Generate(ctx, params.ImagePrompt)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Generate renders the prompt and records the image in the context gallery.
// The returned ImageURL is the gallery handle when a gallery is present.
func (t *ImageTool) Generate(ctx context.Context, prompt string) (*ImageToolResult, error) {
	key, _ := DialogFromContext(ctx)
	if !t.limiter.Allow(key) {
		return nil, ErrImageRateLimited
	}
	dataURI, err := t.renderer.Render(ctx, strings.TrimSpace(prompt))
	if err != nil {
		return nil, err
	}
	if g := GalleryFromContext(ctx); g != nil {
		return &ImageToolResult{ImageURL: g.Add(dataURI)}, nil
	}
	return &ImageToolResult{ImageURL: dataURI}, nil
}
