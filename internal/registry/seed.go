package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SeedEntry describes one default endpoint manifest to materialize on disk.
type SeedEntry struct {
	Name     string
	Complex  bool
	Manifest Manifest
}

// Seed writes the given default manifests under rootDir, creating it if
// needed. Existing manifests are left untouched, so operator edits survive
// restarts.
func Seed(rootDir string, entries []SeedEntry) error {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return fmt.Errorf("mkdir endpoint root: %w", err)
	}
	for _, e := range entries {
		path := filepath.Join(rootDir, e.Name+manifestSuffix)
		if e.Complex {
			dir := filepath.Join(rootDir, e.Name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("mkdir endpoint dir %s: %w", dir, err)
			}
			path = filepath.Join(dir, entryPointFile)
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		raw, err := json.MarshalIndent(e.Manifest, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal manifest %s: %w", e.Name, err)
		}
		if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
			return fmt.Errorf("write manifest %s: %w", path, err)
		}
	}
	return nil
}
