package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"moonlight/internal/config"

	"github.com/cloudwego/eino/components/model"
)

var ErrUnknownModel = errors.New("unknown model")

// ModelInfo is the public view of a catalog entry.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Default  bool   `json:"default"`
}

// Catalog maps user-facing model ids to lazily built chat models.
type Catalog struct {
	providers map[string]config.ProviderConfig
	entries   []config.ModelConfig
	defaultID string
	factory   Factory

	mu     sync.Mutex
	models map[string]model.ToolCallingChatModel
}

func NewCatalog(cfg *config.Config, factory Factory) *Catalog {
	if factory == nil {
		factory = NewChatModel
	}
	entries := cfg.Models
	if len(entries) == 0 {
		entries = config.DefaultModels()
	}
	c := &Catalog{
		providers: cfg.Providers,
		entries:   entries,
		factory:   factory,
		models:    make(map[string]model.ToolCallingChatModel),
	}
	for _, e := range entries {
		if e.Default {
			c.defaultID = e.ID
		}
	}
	if c.defaultID == "" {
		c.defaultID = entries[0].ID
	}
	return c
}

// List returns the catalog in configuration order.
func (c *Catalog) List() []ModelInfo {
	out := make([]ModelInfo, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, ModelInfo{ID: e.ID, Name: e.Name, Provider: e.Provider, Default: e.ID == c.defaultID})
	}
	return out
}

// DefaultID returns the id used when a request names no model.
func (c *Catalog) DefaultID() string {
	return c.defaultID
}

// Resolve returns the chat model for id, building it on first use.
func (c *Catalog) Resolve(ctx context.Context, id string) (model.ToolCallingChatModel, error) {
	if id == "" {
		id = c.defaultID
	}
	var entry *config.ModelConfig
	for i := range c.entries {
		if c.entries[i].ID == id {
			entry = &c.entries[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[id]; ok {
		return m, nil
	}
	provCfg, ok := c.providers[entry.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", entry.Provider)
	}
	m, err := c.factory(ctx, entry.Provider, provCfg, entry.Model)
	if err != nil {
		return nil, err
	}
	c.models[id] = m
	return m, nil
}
