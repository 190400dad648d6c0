package redis

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// KV stores session keys as moonlight:<profile>:<key>.
type KV struct {
	client  *Client
	profile string
	ttl     time.Duration
}

func NewKV(client *Client, profile string, ttl time.Duration) *KV {
	if profile == "" {
		profile = "default"
	}
	return &KV{client: client, profile: profile, ttl: ttl}
}

func (s *KV) redisKey(key string) string {
	return fmt.Sprintf("moonlight:%s:%s", s.profile, key)
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.redisKey(key))
	if errors.Is(err, ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *KV) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.redisKey(key), value, s.ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.redisKey(k))
	}
	if err := s.client.Del(ctx, full...); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}
