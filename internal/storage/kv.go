package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KV is a profile-scoped string key/value store on top of kv_store.
type KV struct {
	db      *sql.DB
	driver  string
	profile string
}

func NewKV(db *sql.DB, driver, profile string) *KV {
	if profile == "" {
		profile = "default"
	}
	return &KV{db: db, driver: strings.ToLower(driver), profile: profile}
}

func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kv_store WHERE profile = ? AND `key` = ?",
		s.profile, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *KV) Set(ctx context.Context, key, value string) error {
	var stmt string
	switch s.driver {
	case "mysql":
		stmt = "INSERT INTO kv_store (profile, `key`, value, updated_at) VALUES (?, ?, ?, ?) " +
			"ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)"
	default:
		stmt = "INSERT INTO kv_store (profile, `key`, value, updated_at) VALUES (?, ?, ?, ?) " +
			"ON CONFLICT(profile, `key`) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
	}
	if _, err := s.db.ExecContext(ctx, stmt, s.profile, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keys)), ", ")
	args := make([]any, 0, len(keys)+1)
	args = append(args, s.profile)
	for _, k := range keys {
		args = append(args, k)
	}
	query := fmt.Sprintf("DELETE FROM kv_store WHERE profile = ? AND `key` IN (%s)", placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}
