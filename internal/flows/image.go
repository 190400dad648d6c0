package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"moonlight/internal/config"
	"moonlight/internal/llm"
	"moonlight/internal/logging"

	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"
)

var (
	ErrEmptyPrompt   = errors.New("prompt must not be empty")
	ErrNoImage       = errors.New("the model did not return an image")
	ErrImageTooSmall = errors.New("the generated image is too small to be valid")
)

type ImageInput struct {
	Prompt  string `json:"prompt"`
	Enhance bool   `json:"enhance,omitempty"`
	Model   string `json:"model,omitempty"`
}

type ImageOutput struct {
	ImageURL string `json:"imageUrl"`
}

// ImageArchiver keeps a copy of generated images. Failures are logged only.
type ImageArchiver interface {
	ArchiveImage(ctx context.Context, prompt string, img llm.InlineImage) error
}

// ImageFlow generates images. Every failure to produce a plausible image is
// returned as an error.
type ImageFlow struct {
	models   ModelResolver
	images   llm.ImageModel
	safety   []llm.SafetySetting
	minBytes int
	strategy string
	archive  ImageArchiver
	enhancer enhancer
	logger   *zap.Logger
}

func NewImageFlow(resolver ModelResolver, images llm.ImageModel, cfg config.FlowsConfig, archive ImageArchiver, logger *zap.Logger) *ImageFlow {
	logger = logger.Named("flows.image")
	strategy := cfg.ImageStrategy
	if strategy == "" {
		strategy = config.ImageStrategyRewrite
	}
	return &ImageFlow{
		models:   resolver,
		images:   images,
		safety:   llm.SafetyFromConfig(cfg.Safety),
		minBytes: cfg.MinDataURIBytes,
		strategy: strategy,
		archive:  archive,
		enhancer: enhancer{logger: logger},
		logger:   logger,
	}
}

func (f *ImageFlow) GenerateEnhancedImage(ctx context.Context, in ImageInput) (*ImageOutput, error) {
	defer logging.Duration(ctx, f.logger, "GenerateEnhancedImage")()

	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	var (
		uri string
		img llm.InlineImage
		err error
	)
	switch {
	case in.Enhance && f.strategy == config.ImageStrategyTwoPass:
		uri, img, err = f.twoPass(ctx, prompt)
	case in.Enhance:
		uri, img, err = f.generate(ctx, f.rewrite(ctx, in.Model, prompt), nil)
	default:
		uri, img, err = f.generate(ctx, prompt, nil)
	}
	if err != nil {
		return nil, err
	}
	f.store(ctx, prompt, img)
	return &ImageOutput{ImageURL: uri}, nil
}

// Render is the single-pass generation used by the chat image tool.
func (f *ImageFlow) Render(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	uri, img, err := f.generate(ctx, prompt, nil)
	if err != nil {
		return "", err
	}
	f.store(ctx, prompt, img)
	return uri, nil
}

func (f *ImageFlow) rewrite(ctx context.Context, modelID, prompt string) string {
	cm, err := f.models.Resolve(ctx, modelID)
	if err != nil {
		f.logger.Warn("prompt enhancement skipped", zap.Error(err))
		return prompt
	}
	return f.enhancer.enhance(ctx, cm, imageEnhanceTemplate, prompt)
}

// twoPass generates a base image, then asks the model to refine it.
func (f *ImageFlow) twoPass(ctx context.Context, prompt string) (string, llm.InlineImage, error) {
	_, base, err := f.generate(ctx, prompt, nil)
	if err != nil {
		return "", llm.InlineImage{}, fmt.Errorf("base image: %w", err)
	}
	uri, refined, err := f.generate(ctx, imageRefineInstruction+prompt, &base)
	if err != nil {
		return "", llm.InlineImage{}, fmt.Errorf("refined image: %w", err)
	}
	return uri, refined, nil
}

func (f *ImageFlow) generate(ctx context.Context, prompt string, reference *llm.InlineImage) (string, llm.InlineImage, error) {
	res, err := f.images.GenerateImage(ctx, llm.ImageRequest{
		Prompt:    prompt,
		Reference: reference,
		Safety:    f.safety,
	})
	if err != nil {
		return "", llm.InlineImage{}, err
	}
	if res == nil || len(res.Images) == 0 {
		if res != nil && res.Text != "" {
			return "", llm.InlineImage{}, fmt.Errorf("%w: %s", ErrNoImage, res.Text)
		}
		return "", llm.InlineImage{}, ErrNoImage
	}
	img := res.Images[0]
	mime := strings.TrimSpace(strings.SplitN(img.MIMEType, ";", 2)[0])
	if strings.Count(mime, "/") != 1 {
		mime = "image/png"
	}
	uri := dataurl.New(img.Data, mime).String()
	if len(uri) < f.minBytes {
		return "", llm.InlineImage{}, fmt.Errorf("%w (%d bytes)", ErrImageTooSmall, len(uri))
	}
	return uri, llm.InlineImage{MIMEType: mime, Data: img.Data}, nil
}

func (f *ImageFlow) store(ctx context.Context, prompt string, img llm.InlineImage) {
	if f.archive == nil {
		return
	}
	if err := f.archive.ArchiveImage(ctx, prompt, img); err != nil {
		f.logger.Warn("archive image failed", zap.Error(err))
	}
}
