// Package credentials persists the WiFi credential record the device joins with.
//
// The record is a single JSON object stored in cleartext:
//
//	{"ssid":"Home","password":"secret"}
//
// A missing file, an unreadable file, malformed JSON, or a record missing
// either field all mean "no credentials configured".
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/muurk/drowsiwatch/internal/logging"
	"go.uber.org/zap"
)

// FileName is the fixed name of the credential record inside the data directory.
const FileName = "config.json"

// WiFiCredentials is the station-mode network the device joins.
type WiFiCredentials struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// Valid reports whether both fields are non-empty.
func (c WiFiCredentials) Valid() bool {
	return c.SSID != "" && c.Password != ""
}

// Store loads and saves the credential record.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store for <dataDir>/config.json.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, FileName)}
}

// NewStoreAt returns a store for an explicit record path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Path returns the record location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record. It returns (nil, false) when the record is absent,
// unreadable, not JSON, or missing either field. Decode problems are logged,
// never returned.
func (s *Store) Load() (*WiFiCredentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Debug("No credential record", zap.String("path", s.path))
		} else {
			logging.Warn("Failed to read credential record",
				zap.String("path", s.path),
				zap.Error(err),
			)
		}
		return nil, false
	}

	var creds WiFiCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		logging.Warn("Credential record is not valid JSON",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil, false
	}

	if !creds.Valid() {
		logging.Warn("Credential record is missing ssid or password",
			zap.String("path", s.path),
		)
		return nil, false
	}

	return &creds, true
}

// Save replaces the record. The new content is written to a temporary file
// and renamed over the record, so readers see either the old or the new
// record, never a partial one. Errors are returned, not retried.
func (s *Store) Save(creds WiFiCredentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary credential file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save credential record %s: %w", s.path, err)
	}

	logging.Info("Credentials saved",
		zap.String("path", s.path),
		zap.String("ssid", creds.SSID),
	)
	return nil
}

// Clear removes the record. Clearing an absent record is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credential record: %w", err)
	}
	return nil
}
