package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// cacheTTL is how long a successful check is trusted before asking
// GitHub again. Once a day is plenty for a shop till.
const cacheTTL = 24 * time.Hour

// CacheEntry is one cached update check.
type CacheEntry struct {
	LatestVersion  string    `json:"latest_version"`
	CurrentVersion string    `json:"current_version"`
	CheckedAt      time.Time `json:"checked_at"`
	HasUpdate      bool      `json:"has_update"`
}

func cachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", "till", "update-check.json")
}

// LoadCache reads the cached update check, if any.
func LoadCache() (*CacheEntry, error) {
	path := cachePath()
	if path == "" {
		return nil, fmt.Errorf("no home directory")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode update cache: %w", err)
	}
	return &entry, nil
}

// SaveCache writes the update check result for later runs.
func SaveCache(entry *CacheEntry) error {
	path := cachePath()
	if path == "" {
		return fmt.Errorf("no home directory")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IsCacheValid reports whether a cached check can stand in for a fresh
// one: same binary version and younger than the TTL.
func IsCacheValid(entry *CacheEntry, currentVersion string) bool {
	if entry == nil {
		return false
	}
	if entry.CurrentVersion != currentVersion {
		return false
	}
	return time.Since(entry.CheckedAt) < cacheTTL
}
