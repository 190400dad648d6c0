package tools

import (
	"context"
	"fmt"
	"sync"
)

type dialogContextKey struct{}
type galleryContextKey struct{}

// WithDialog tags ctx with the dialog a tool call runs for.
func WithDialog(ctx context.Context, dialogID string) context.Context {
	if dialogID == "" {
		return ctx
	}
	return context.WithValue(ctx, dialogContextKey{}, dialogID)
}

func DialogFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(dialogContextKey{}).(string)
	return id, ok && id != ""
}

// Gallery keeps images produced during one flow call. The model only ever
// sees the handle; the data URI stays here.
type Gallery struct {
	mu     sync.Mutex
	images []string
}

func WithGallery(ctx context.Context) (context.Context, *Gallery) {
	g := &Gallery{}
	return context.WithValue(ctx, galleryContextKey{}, g), g
}

func GalleryFromContext(ctx context.Context) *Gallery {
	g, _ := ctx.Value(galleryContextKey{}).(*Gallery)
	return g
}

// Add stores a data URI and returns its handle.
func (g *Gallery) Add(dataURI string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.images = append(g.images, dataURI)
	return fmt.Sprintf("generated-image-%d", len(g.images))
}

// Latest returns the most recently generated image.
func (g *Gallery) Latest() (string, bool) {
	if g == nil {
		return "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.images) == 0 {
		return "", false
	}
	return g.images[len(g.images)-1], true
}

func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.images)
}
