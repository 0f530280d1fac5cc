package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const valuesBucket = "values"

// ErrNotFound indicates no value exists at the requested path.
var ErrNotFound = errors.New("value not found")

// Store is a key-path store backed by bbolt. Values are JSON documents
// keyed by slash-separated paths. It supports point reads and writes,
// ordered appends (push keys), atomic read-modify-write transactions, and
// watch subscriptions on a path's value. All shared battle fields (winner,
// pickups, powerups) are mutated exclusively through Txn.
type Store struct {
	db    *bbolt.DB
	watch *watchRegistry
	seq   func(*bbolt.Bucket) (uint64, error)
}

// Open opens the store at the given file path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(valuesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create values bucket: %w", err)
	}
	return &Store{
		db:    db,
		watch: newWatchRegistry(),
		seq:   func(b *bbolt.Bucket) (uint64, error) { return b.NextSequence() },
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Entry is one child of a path, in insertion order.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Tx is one atomic read-modify-write transaction. All reads observe the
// state as of transaction start and all writes commit together or not at
// all; a transaction that performs no writes leaves the store untouched.
type Tx struct {
	bucket  *bbolt.Bucket
	seq     func(*bbolt.Bucket) (uint64, error)
	touched map[string]bool
}

// Txn runs fn inside one atomic transaction. Watchers of every written
// path are notified after a successful commit.
func (s *Store) Txn(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var touched map[string]bool
	err := s.db.Update(func(btx *bbolt.Tx) error {
		tx := &Tx{
			bucket:  btx.Bucket([]byte(valuesBucket)),
			seq:     s.seq,
			touched: make(map[string]bool),
		}
		if err := fn(tx); err != nil {
			return err
		}
		touched = tx.touched
		return nil
	})
	if err != nil {
		return err
	}
	for path := range touched {
		s.notify(path)
	}
	return nil
}

// Get decodes the value at path into out.
func (tx *Tx) Get(path string, out any) error {
	raw := tx.GetRaw(path)
	if raw == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return json.Unmarshal(raw, out)
}

// GetRaw returns the raw value at path, or nil when absent.
func (tx *Tx) GetRaw(path string) json.RawMessage {
	raw := tx.bucket.Get([]byte(normalize(path)))
	if raw == nil {
		return nil
	}
	return json.RawMessage(bytes.Clone(raw))
}

// Put writes value at path, replacing any existing value.
func (tx *Tx) Put(path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", path, err)
	}
	key := normalize(path)
	if err := tx.bucket.Put([]byte(key), raw); err != nil {
		return err
	}
	tx.markTouched(key)
	return nil
}

// Push appends value as a new child of path and returns the generated
// child key. Keys are zero-padded sequence numbers so children list in
// insertion order.
func (tx *Tx) Push(path string, value any) (string, error) {
	n, err := tx.seq(tx.bucket)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%012d", n)
	if err := tx.Put(normalize(path)+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes the value at path. Deleting an absent path is a no-op.
func (tx *Tx) Delete(path string) error {
	key := normalize(path)
	if tx.bucket.Get([]byte(key)) == nil {
		return nil
	}
	if err := tx.bucket.Delete([]byte(key)); err != nil {
		return err
	}
	tx.markTouched(key)
	return nil
}

// List returns the direct children of path in key order.
func (tx *Tx) List(path string) []Entry {
	prefix := []byte(normalize(path) + "/")
	var entries []Entry
	c := tx.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		rest := k[len(prefix):]
		if bytes.ContainsRune(rest, '/') {
			continue
		}
		entries = append(entries, Entry{Key: string(rest), Value: bytes.Clone(v)})
	}
	return entries
}

func (tx *Tx) markTouched(key string) {
	tx.touched[key] = true
	if i := strings.LastIndexByte(key, '/'); i > 0 {
		tx.touched[key[:i]] = true
	}
}

// Get decodes the value at path into out.
func (s *Store) Get(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bbolt.Tx) error {
		raw := btx.Bucket([]byte(valuesBucket)).Get([]byte(normalize(path)))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return json.Unmarshal(raw, out)
	})
}

// Put writes value at path.
func (s *Store) Put(ctx context.Context, path string, value any) error {
	return s.Txn(ctx, func(tx *Tx) error {
		return tx.Put(path, value)
	})
}

// Push appends value as a new ordered child of path.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	var key string
	err := s.Txn(ctx, func(tx *Tx) error {
		var err error
		key, err = tx.Push(path, value)
		return err
	})
	return key, err
}

// List returns the direct children of path in insertion order.
func (s *Store) List(ctx context.Context, path string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entries []Entry
	err := s.db.View(func(btx *bbolt.Tx) error {
		tx := &Tx{bucket: btx.Bucket([]byte(valuesBucket))}
		entries = tx.List(path)
		return nil
	})
	return entries, err
}

// Update runs an atomic read-modify-write on a single path. fn receives
// the current value (nil when absent) and returns the replacement; when fn
// returns a value equal to the current one, no write is performed and
// watchers are not notified. This is the compare-and-set primitive the
// battle coordinator builds on.
func (s *Store) Update(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error {
	return s.Txn(ctx, func(tx *Tx) error {
		current := tx.GetRaw(path)
		next, err := fn(current)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal value for %s: %w", path, err)
		}
		if bytes.Equal(raw, current) {
			return nil
		}
		key := normalize(path)
		if err := tx.bucket.Put([]byte(key), raw); err != nil {
			return err
		}
		tx.markTouched(key)
		return nil
	})
}

// valueAt assembles the observable value at path: the leaf value if one
// exists, otherwise the direct children as an object keyed by child key,
// or nil when the path holds nothing.
func (s *Store) valueAt(path string) json.RawMessage {
	var result json.RawMessage
	_ = s.db.View(func(btx *bbolt.Tx) error {
		bucket := btx.Bucket([]byte(valuesBucket))
		if raw := bucket.Get([]byte(normalize(path))); raw != nil {
			result = bytes.Clone(raw)
			return nil
		}
		tx := &Tx{bucket: bucket}
		entries := tx.List(path)
		if len(entries) == 0 {
			return nil
		}
		children := make(map[string]json.RawMessage, len(entries))
		for _, e := range entries {
			children[e.Key] = e.Value
		}
		raw, err := json.Marshal(children)
		if err != nil {
			return err
		}
		result = raw
		return nil
	})
	return result
}

func normalize(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
