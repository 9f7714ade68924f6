// Package referrerconfig loads and persists the Referrer Validator's
// allow-list (spec.md §3, §4.3) as a JSON file. Grounded on the corpus's
// catalog.Store pattern: a file-backed, atomically-written JSON document
// with a default fallback when the file does not yet exist.
package referrerconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"geoproxy.local/geoproxy/internal/geourl"
)

// Entry is the on-disk shape of one allow-list pattern.
type Entry struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Path     string `json:"path"`
	MatchAll bool   `json:"matchAll"`
	Key      string `json:"key"`
}

// Document is the on-disk shape of the whole allow-list file.
type Document struct {
	Version   string  `json:"version"`
	Referrers []Entry `json:"referrers"`
}

type Store struct {
	filePath string
}

func NewStore(filePath string) *Store {
	return &Store{filePath: filePath}
}

// Load reads the allow-list file, creating an empty one if absent.
func (s *Store) Load() ([]geourl.ReferrerPattern, error) {
	if strings.TrimSpace(s.filePath) == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		empty := Document{Version: "v1"}
		if saveErr := s.Save(empty); saveErr != nil {
			return nil, saveErr
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("referrerconfig: read %s: %w", s.filePath, err)
	}

	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("referrerconfig: invalid JSON in %s: %w", s.filePath, err)
	}

	patterns := make([]geourl.ReferrerPattern, 0, len(doc.Referrers))
	for i, entry := range doc.Referrers {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			return nil, fmt.Errorf("referrerconfig: referrers[%d].key is required", i)
		}
		patterns = append(patterns, geourl.ReferrerPattern{
			Protocol: entry.Protocol,
			Host:     entry.Host,
			Path:     entry.Path,
			MatchAll: entry.MatchAll,
			Key:      key,
		})
	}
	return patterns, nil
}

// Save atomically replaces the allow-list file.
func (s *Store) Save(doc Document) error {
	if strings.TrimSpace(s.filePath) == "" {
		return errors.New("referrerconfig: file path is not configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o700); err != nil {
		return fmt.Errorf("referrerconfig: create directory: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("referrerconfig: encode: %w", err)
	}
	payload = append(payload, '\n')

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return fmt.Errorf("referrerconfig: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("referrerconfig: replace file: %w", err)
	}
	return nil
}
