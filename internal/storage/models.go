package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Body is a normalised record payload. Values are the shapes produced by
// encoding/json: string, float64, bool, nil, []any and map[string]any.
type Body map[string]any

// Record is a keyed entry of a named collection.
type Record struct {
	Key  string
	Body Body
}

// Port is the storage contract shared by every backend.
type Port interface {
	// LoadDocument decodes the named document into dst. Absence is reported
	// as found=false with dst left untouched.
	LoadDocument(ctx context.Context, name string, dst any) (bool, error)
	// SaveDocument replaces the named document.
	SaveDocument(ctx context.Context, name string, doc any) error

	Find(ctx context.Context, collection string, filter Filter) ([]Record, error)
	// InsertMany writes every record; an existing key is overwritten.
	InsertMany(ctx context.Context, collection string, records []Record) error
	DeleteMany(ctx context.Context, collection string, filter Filter) (int, error)
	Upsert(ctx context.Context, collection, key string, body Body) error

	// Backend names the implementation for logs.
	Backend() string
	Close() error
}

// ErrEmptyKey is returned when a record is written without a key.
var ErrEmptyKey = errors.New("storage: record key is empty")

// StorageError wraps every backend failure.
type StorageError struct {
	Backend string
	Op      string
	Name    string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s %q: %v", e.Backend, e.Op, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func wrapErr(backend, op, name string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Backend: backend, Op: op, Name: name, Err: err}
}

// Encode converts v into a normalised Body.
func Encode(v any) (Body, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return decodeBody(raw)
}

// Decode fills dst from a Body.
func Decode(body Body, dst any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// DecodeAll decodes every record body into a new slice of T.
func DecodeAll[T any](records []Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		var item T
		if err := Decode(rec.Body, &item); err != nil {
			return nil, fmt.Errorf("record %q: %w", rec.Key, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func decodeBody(raw []byte) (Body, error) {
	var body Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if body == nil {
		body = Body{}
	}
	return body, nil
}

func normalise(body Body) (Body, error) {
	if body == nil {
		return Body{}, nil
	}
	return Encode(body)
}
