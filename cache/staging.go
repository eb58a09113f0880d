// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/poiesic/imgembed/core"
)

// Staging is a private directory that collects a model's files before promotion.
// Files may be written concurrently.
type Staging struct {
	id  core.ModelID
	dir string

	mu     sync.Mutex
	files  map[string]FileInfo
	closed bool
}

// NewStaging creates a fresh staging area for id under the cache root.
func (c *Cache) NewStaging(id core.ModelID) (*Staging, error) {
	dir := filepath.Join(c.root, stagingDirName, id.CacheDirName()+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Staging{
		id:    id,
		dir:   dir,
		files: make(map[string]FileInfo),
	}, nil
}

// ID returns the model the staging area belongs to.
func (s *Staging) ID() core.ModelID {
	return s.id
}

// Dir returns the staging directory.
func (s *Staging) Dir() string {
	return s.dir
}

// Create opens a file in the staging area. The file is recorded, with its size
// and SHA-256, only when the returned writer is closed successfully.
func (s *Staging) Create(name string) (*FileWriter, error) {
	if err := validateFileName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStagingClosed
	}

	path := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create staging subdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	h := sha256.New()
	return &FileWriter{
		staging: s,
		name:    name,
		file:    f,
		hash:    h,
		w:       io.MultiWriter(f, h),
	}, nil
}

// Files returns the recorded files sorted by name.
func (s *Staging) Files() []FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make([]FileInfo, 0, len(s.files))
	for _, f := range s.files {
		files = append(files, f)
	}
	slices.SortFunc(files, func(a, b FileInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return files
}

// Has reports whether name has been recorded.
func (s *Staging) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[name]
	return ok
}

// Discard removes the staging area. Safe to call after Promote.
func (s *Staging) Discard() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.remove()
}

func (s *Staging) remove() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove staging dir: %w", err)
	}
	return nil
}

// seal closes the staging area for writing and checks every recorded file on disk.
func (s *Staging) seal() ([]FileInfo, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStagingClosed
	}
	s.closed = true
	s.mu.Unlock()

	files := s.Files()
	if len(files) == 0 {
		s.remove()
		return nil, ErrEmptyStaging
	}
	for _, f := range files {
		st, err := os.Stat(filepath.Join(s.dir, filepath.FromSlash(f.Name)))
		if err != nil || st.Size() != f.Size {
			s.remove()
			return nil, fmt.Errorf("%w: staged file %s changed before promotion", ErrIntegrity, f.Name)
		}
	}
	return files, nil
}

func (s *Staging) record(info FileInfo) {
	s.mu.Lock()
	s.files[info.Name] = info
	s.mu.Unlock()
}

// FileWriter streams one model file into a staging area, hashing as it goes.
type FileWriter struct {
	staging *Staging
	name    string
	file    *os.File
	hash    hash.Hash
	w       io.Writer
	size    int64
	done    bool
}

func (fw *FileWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.size += int64(n)
	return n, err
}

// Close flushes the file and records it in the staging area.
func (fw *FileWriter) Close() error {
	if fw.done {
		return nil
	}
	fw.done = true
	if err := fw.file.Sync(); err != nil {
		fw.file.Close()
		os.Remove(fw.file.Name())
		return fmt.Errorf("sync %s: %w", fw.name, err)
	}
	if err := fw.file.Close(); err != nil {
		os.Remove(fw.file.Name())
		return fmt.Errorf("close %s: %w", fw.name, err)
	}
	fw.staging.record(FileInfo{
		Name:   fw.name,
		Size:   fw.size,
		SHA256: hex.EncodeToString(fw.hash.Sum(nil)),
	})
	return nil
}

// Abort closes and removes the partial file without recording it.
func (fw *FileWriter) Abort() {
	if fw.done {
		return
	}
	fw.done = true
	fw.file.Close()
	os.Remove(fw.file.Name())
}

// Size returns the bytes written so far.
func (fw *FileWriter) Size() int64 {
	return fw.size
}

// SHA256 returns the hex digest of the bytes written so far.
func (fw *FileWriter) SHA256() string {
	return hex.EncodeToString(fw.hash.Sum(nil))
}

func validateFileName(name string) error {
	if name == "" || name == MarkerName || strings.HasPrefix(name, MarkerName) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if strings.Contains(name, "\\") || !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return nil
}
