package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTemperature = fmt.Errorf("temperature must be between %d and %d", minTemperature, maxTemperature)

// Studio holds the advanced generation settings. SystemInstructions lives in
// memory only.
type Studio struct {
	Enabled            bool    `json:"enabled"`
	Temperature        float32 `json:"temperature"`
	SystemInstructions string  `json:"systemInstructions"`
}

// StudioUpdate changes the fields that are set.
type StudioUpdate struct {
	Enabled            *bool    `json:"enabled"`
	Temperature        *float32 `json:"temperature"`
	SystemInstructions *string  `json:"systemInstructions"`
}

func (s *Store) Studio() Studio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.studio
}

func (s *Store) UpdateStudio(ctx context.Context, u StudioUpdate) (Studio, error) {
	if u.Temperature != nil && (*u.Temperature < minTemperature || *u.Temperature > maxTemperature) {
		return Studio{}, ErrInvalidTemperature
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.studio
	if u.Enabled != nil {
		s.studio.Enabled = *u.Enabled
	}
	if u.Temperature != nil {
		s.studio.Temperature = *u.Temperature
	}
	if u.SystemInstructions != nil {
		s.studio.SystemInstructions = strings.TrimSpace(*u.SystemInstructions)
	}
	if !s.studio.Enabled {
		s.debug = nil
	}

	err := errors.Join(
		s.backend.Set(ctx, KeyStudioMode, encodeBool(s.studio.Enabled)),
		s.backend.Set(ctx, KeyStudioTemp, encodeTemperature(s.studio.Temperature)),
	)
	if err != nil {
		s.studio = prev
		return Studio{}, fmt.Errorf("save studio settings: %w", err)
	}
	return s.studio, nil
}

// Debug returns the last studio exchange, if any.
func (s *Store) Debug() (DebugExchange, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debug == nil {
		return DebugExchange{}, false
	}
	return *s.debug, true
}
