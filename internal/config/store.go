// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	xglog "github.com/mase1981/uc-intg-emby/internal/log"
	"github.com/rs/zerolog"
)

// StoreFileName is the settings file inside the data directory.
const StoreFileName = "config.json"

// Setting keys as written by the setup flow.
const (
	KeyServerURL = "server_url"
	KeyAPIKey    = "api_key"
	KeyUserID    = "user_id"
)

// Settings are the Emby connection settings.
type Settings struct {
	ServerURL string
	APIKey    string
	UserID    string
}

// Store persists the integration settings as a flat JSON object. Unknown keys
// written by other versions are kept on update.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
	logger zerolog.Logger
}

// OpenStore opens the settings file in dir, creating dir if needed. A missing
// or unreadable file yields an empty store; the read error is returned with it.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	s := &Store{
		path:   filepath.Join(dir, StoreFileName),
		values: map[string]string{},
		logger: xglog.WithComponent("config"),
	}
	return s, s.Reload()
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// Reload re-reads the settings file. On failure the store is left empty.
func (s *Store) Reload() error {
	values, err := s.read()

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()

	switch {
	case err != nil:
		s.logger.Error().Err(err).Str(xglog.FieldEvent, "config.reload_failed").Str(xglog.FieldPath, s.path).Msg("failed to read settings")
		return err
	case len(values) == 0:
		s.logger.Info().Str(xglog.FieldEvent, "config.empty").Str(xglog.FieldPath, s.path).Msg("no stored settings")
	default:
		s.logger.Info().Str(xglog.FieldEvent, "config.reloaded").Str(xglog.FieldPath, s.path).Msg("settings reloaded from disk")
	}
	return nil
}

func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return map[string]string{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]string{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case string:
			values[k] = tv
		case nil:
		default:
			values[k] = fmt.Sprint(tv)
		}
	}
	return values, nil
}

// Update merges fields into the stored settings and writes the file atomically.
// The in-memory settings change only when the write succeeds.
func (s *Store) Update(fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.values)+len(fields))
	for k, v := range s.values {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = strings.TrimSpace(v)
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.values = next

	s.logger.Info().Str(xglog.FieldEvent, "config.saved").Str(xglog.FieldPath, s.path).Msg("settings saved")
	return nil
}

// Clear drops all settings and removes the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = map[string]string{}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	s.logger.Info().Str(xglog.FieldEvent, "config.cleared").Msg("settings cleared")
	return nil
}

// Settings returns a copy of the connection settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Settings{
		ServerURL: s.values[KeyServerURL],
		APIKey:    s.values[KeyAPIKey],
		UserID:    s.values[KeyUserID],
	}
}

// IsConfigured reports whether the stored settings can be used to connect.
func (s *Store) IsConfigured() bool {
	return s.Settings().Valid()
}

// Valid requires a server URL with an http(s) scheme and an API key.
func (st Settings) Valid() bool {
	return st.APIKey != "" && HasHTTPScheme(st.ServerURL)
}

// HasHTTPScheme reports whether u starts with http:// or https://.
func HasHTTPScheme(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
