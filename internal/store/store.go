// Package store implements a flat, file-backed key/value document
// store with atomic replace semantics — the persistence contract
// spec.md §4.2 and §6 require for the peer registry and group config.
//
// Each key maps to one JSON file under the store's directory. Writes
// go through the teacher's tmp-then-rename idiom (see
// internal/networkdwriter's atomicWrite in the retrieval pack) so a
// crash mid-write never corrupts the live file.
package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Store is a directory of independently-written JSON documents.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Load reads the document for key into v. A missing or corrupted file
// is reported as an error to the caller, who is expected to fall back
// to a safe default and log a warning (spec.md §4.2: "A corrupted or
// missing file is treated as 'empty set' with a warning; the node does
// not refuse to start").
func (s *Store) Load(key string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Printf("store: %s is corrupted: %v", key, err)
		return err
	}
	return nil
}

// Save atomically writes v as the document for key using the
// write-temp-then-rename idiom.
func (s *Store) Save(key string, v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	return atomicWrite(s.path(key), data)
}

// atomicWrite writes data to path via a sibling temp file then rename,
// the same idiom the teacher's networkdwriter.atomicWrite uses.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".loadsharing-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create tmp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close tmp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}
