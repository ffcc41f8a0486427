package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

const fileBackend = "file"

var safeName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore keeps each document and each collection in its own JSON file
// under dir. Every write replaces the whole file through a rename.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, &StorageError{Backend: fileBackend, Op: "open", Name: dir, Err: errors.New("directory not configured")}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr(fileBackend, "open", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Backend() string { return fileBackend }

func (s *FileStore) Close() error { return nil }

// LoadDocument implements Port.
func (s *FileStore) LoadDocument(ctx context.Context, name string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapErr(fileBackend, "load", name, err)
	}
	path, err := s.path("doc", name)
	if err != nil {
		return false, wrapErr(fileBackend, "load", name, err)
	}

	s.mu.Lock()
	raw, err := os.ReadFile(path)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr(fileBackend, "load", name, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, wrapErr(fileBackend, "load", name, fmt.Errorf("corrupt document: %w", err))
	}
	return true, nil
}

// SaveDocument implements Port.
func (s *FileStore) SaveDocument(ctx context.Context, name string, doc any) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(fileBackend, "save", name, err)
	}
	path, err := s.path("doc", name)
	if err != nil {
		return wrapErr(fileBackend, "save", name, err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return wrapErr(fileBackend, "save", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return wrapErr(fileBackend, "save", name, writeAtomic(path, raw))
}

// Find implements Port.
func (s *FileStore) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, wrapErr(fileBackend, "find", collection, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapErr(fileBackend, "find", collection, err)
	}

	s.mu.Lock()
	entries, err := s.readCollection(collection)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr(fileBackend, "find", collection, err)
	}
	return matching(entries, filter), nil
}

// InsertMany implements Port.
func (s *FileStore) InsertMany(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return wrapErr(fileBackend, "insert", collection, err)
	}
	normalised := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.Key == "" {
			return wrapErr(fileBackend, "insert", collection, ErrEmptyKey)
		}
		body, err := normalise(rec.Body)
		if err != nil {
			return wrapErr(fileBackend, "insert", collection, err)
		}
		normalised = append(normalised, Record{Key: rec.Key, Body: body})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readCollection(collection)
	if err != nil {
		return wrapErr(fileBackend, "insert", collection, err)
	}
	for _, rec := range normalised {
		entries[rec.Key] = rec.Body
	}
	return wrapErr(fileBackend, "insert", collection, s.writeCollection(collection, entries))
}

// DeleteMany implements Port.
func (s *FileStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, wrapErr(fileBackend, "delete", collection, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, wrapErr(fileBackend, "delete", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readCollection(collection)
	if err != nil {
		return 0, wrapErr(fileBackend, "delete", collection, err)
	}
	deleted := 0
	for key, body := range entries {
		if filter.Match(body) {
			delete(entries, key)
			deleted++
		}
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := s.writeCollection(collection, entries); err != nil {
		return 0, wrapErr(fileBackend, "delete", collection, err)
	}
	return deleted, nil
}

// Upsert implements Port.
func (s *FileStore) Upsert(ctx context.Context, collection, key string, body Body) error {
	if key == "" {
		return wrapErr(fileBackend, "upsert", collection, ErrEmptyKey)
	}
	if err := ctx.Err(); err != nil {
		return wrapErr(fileBackend, "upsert", collection, err)
	}
	normalised, err := normalise(body)
	if err != nil {
		return wrapErr(fileBackend, "upsert", collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readCollection(collection)
	if err != nil {
		return wrapErr(fileBackend, "upsert", collection, err)
	}
	entries[key] = normalised
	return wrapErr(fileBackend, "upsert", collection, s.writeCollection(collection, entries))
}

func (s *FileStore) path(kind, name string) (string, error) {
	if !safeName.MatchString(name) {
		return "", fmt.Errorf("invalid name %q", name)
	}
	return filepath.Join(s.dir, kind+"."+name+".json"), nil
}

// readCollection must be called with s.mu held.
func (s *FileStore) readCollection(collection string) (map[string]Body, error) {
	path, err := s.path("col", collection)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Body{}, nil
	}
	if err != nil {
		return nil, err
	}
	entries := map[string]Body{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("corrupt collection: %w", err)
	}
	return entries, nil
}

// writeCollection must be called with s.mu held.
func (s *FileStore) writeCollection(collection string, entries map[string]Body) error {
	path, err := s.path("col", collection)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, raw)
}

func writeAtomic(path string, raw []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// matching filters entries and orders the result by key.
func matching(entries map[string]Body, filter Filter) []Record {
	out := make([]Record, 0, len(entries))
	for key, body := range entries {
		if filter.Match(body) {
			out = append(out, Record{Key: key, Body: body})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

var _ Port = (*FileStore)(nil)
