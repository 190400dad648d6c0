package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"moonlight/internal/config"

	"google.golang.org/genai"
)

// Harm categories understood by the image model.
const (
	CategoryHateSpeech       = "HARM_CATEGORY_HATE_SPEECH"
	CategoryDangerousContent = "HARM_CATEGORY_DANGEROUS_CONTENT"
	CategoryHarassment       = "HARM_CATEGORY_HARASSMENT"
	CategorySexuallyExplicit = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
)

// SafetySetting pairs a harm category with its block threshold.
type SafetySetting struct {
	Category  string
	Threshold string
}

// SafetyFromConfig expands the four configured thresholds in a fixed order.
func SafetyFromConfig(cfg config.SafetyConfig) []SafetySetting {
	return []SafetySetting{
		{Category: CategoryHateSpeech, Threshold: cfg.HateSpeech},
		{Category: CategoryDangerousContent, Threshold: cfg.DangerousContent},
		{Category: CategoryHarassment, Threshold: cfg.Harassment},
		{Category: CategorySexuallyExplicit, Threshold: cfg.SexuallyExplicit},
	}
}

// InlineImage is raw image bytes with their media type.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

// ImageRequest asks for combined text and image output. Reference, when set,
// is sent ahead of the prompt so the model can refine it.
type ImageRequest struct {
	Prompt    string
	Reference *InlineImage
	Safety    []SafetySetting
}

// ImageResult holds whatever the model returned; Images may be empty.
type ImageResult struct {
	Text   string
	Images []InlineImage
}

// ImageModel generates images from prompts.
type ImageModel interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// GeminiImageModel calls GenerateContent with TEXT and IMAGE modalities.
type GeminiImageModel struct {
	client *genai.Client
	model  string
}

func NewGeminiImageModel(client *genai.Client, modelName string) (*GeminiImageModel, error) {
	if client == nil {
		return nil, errors.New("genai client required")
	}
	if modelName == "" {
		return nil, errors.New("image model name required")
	}
	return &GeminiImageModel{client: client, model: modelName}, nil
}

func (g *GeminiImageModel) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	parts := make([]*genai.Part, 0, 2)
	if req.Reference != nil && len(req.Reference.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Reference.Data, req.Reference.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			SafetySettings:     toGenAISafety(req.Safety),
		})
	if err != nil {
		return nil, fmt.Errorf("generate image content: %w", err)
	}

	result := &ImageResult{}
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				result.Images = append(result.Images, InlineImage{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				})
				continue
			}
			text.WriteString(part.Text)
		}
	}
	result.Text = strings.TrimSpace(text.String())
	return result, nil
}

func toGenAISafety(settings []SafetySetting) []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(settings))
	for _, s := range settings {
		out = append(out, &genai.SafetySetting{
			Category:  genai.HarmCategory(s.Category),
			Threshold: genai.HarmBlockThreshold(s.Threshold),
		})
	}
	return out
}
