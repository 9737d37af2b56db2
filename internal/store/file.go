package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// fileFormatVersion is written into every state file.
const fileFormatVersion = 1

type fileContents struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// FileStore keeps all records in a single JSON document. Every Save rewrites
// the file through a temporary file and rename.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// NewFileStore opens the state file at path. A missing file is not an error.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state path is empty")
	}
	s := &FileStore{path: path, records: make(map[string]Record)}
	if err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) read() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	if contents.Version > fileFormatVersion {
		return fmt.Errorf("state file %s has unsupported version %d", s.path, contents.Version)
	}
	for _, r := range contents.Records {
		s.records[r.ID()] = r
	}
	return nil
}

// Load returns all records sorted by ID.
func (s *FileStore) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedRecords(s.records), nil
}

// Save upserts rec and flushes the file.
func (s *FileStore) Save(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.records[rec.ID()]
	s.records[rec.ID()] = rec
	if err := s.flush(); err != nil {
		if had {
			s.records[rec.ID()] = prev
		} else {
			delete(s.records, rec.ID())
		}
		return err
	}
	return nil
}

func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(fileContents{
		Version: fileFormatVersion,
		Records: sortedRecords(s.records),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".leafspy-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
