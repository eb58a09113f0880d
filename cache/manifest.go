package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// MarkerName is the manifest file that marks a model directory complete.
const MarkerName = ".imgembed-complete"

// FileInfo describes one model file.
type FileInfo struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is the integrity marker of a complete cache entry.
type Manifest struct {
	Model       string     `json:"model"`
	Source      string     `json:"source"`
	CompletedAt time.Time  `json:"completed_at"`
	Files       []FileInfo `json:"files"`
}

// File returns the manifest record for name.
func (m *Manifest) File(name string) (FileInfo, bool) {
	for _, f := range m.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileInfo{}, false
}

// TotalSize returns the sum of all file sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s has no marker", ErrIncomplete, dir)
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: unreadable marker in %s: %v", ErrIncomplete, dir, err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("%w: marker in %s lists no files", ErrIncomplete, dir)
	}
	return &m, nil
}

// writeManifest writes the marker through a temporary file and a rename so
// readers never observe a partial marker.
func writeManifest(dir string, m *Manifest) error {
	slices.SortFunc(m.Files, func(a, b FileInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, MarkerName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create marker: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write marker: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, MarkerName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit marker: %w", err)
	}
	return nil
}
