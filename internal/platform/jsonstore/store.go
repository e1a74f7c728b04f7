// Package jsonstore provides small durable collections backed by a single JSON
// file. The in-memory map is the source of truth; every mutation is written to
// disk before the call returns.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotFound = errors.New("jsonstore: not found")
	ErrExists   = errors.New("jsonstore: already exists")
)

// Record is implemented by every value stored in a Collection.
type Record interface {
	Key() string
	Timestamp() time.Time
}

// Option configures a Collection.
type Option func(*options)

type options struct {
	limit  int
	logger zerolog.Logger
}

// WithLimit caps the collection at n entries. When an insert pushes the
// collection past the cap, the oldest entries (by Timestamp) are evicted.
func WithLimit(n int) Option {
	return func(o *options) { o.limit = n }
}

// WithLogger sets the logger used to report evictions.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type entry[T Record] struct {
	value T
	seq   uint64
}

// Collection is a keyed set of records mirrored to a JSON array on disk.
type Collection[T Record] struct {
	path   string
	limit  int
	logger zerolog.Logger

	mu    sync.RWMutex
	items map[string]entry[T]
	seq   uint64

	// flushMu serializes disk writes. The snapshot is taken after acquiring
	// it so the last writer always persists the latest state.
	flushMu sync.Mutex
}

// Open loads the collection at path, creating parent directories as needed.
// A missing file yields an empty collection.
func Open[T Record](path string, opts ...Option) (*Collection[T], error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	c := &Collection[T]{
		path:   path,
		limit:  o.limit,
		logger: o.logger,
		items:  make(map[string]entry[T]),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return c, nil
	}

	var stored []T
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for _, v := range stored {
		c.seq++
		c.items[v.Key()] = entry[T]{value: v, seq: c.seq}
	}
	return c, nil
}

// Get returns the record stored under key.
func (c *Collection[T]) Get(key string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return e.value, nil
}

// List returns all records, newest first. Records with equal timestamps are
// ordered by insertion, most recent first.
func (c *Collection[T]) List() []T {
	c.mu.RLock()
	entries := make([]entry[T], 0, len(c.items))
	for _, e := range c.items {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].value.Timestamp(), entries[j].value.Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].seq > entries[j].seq
	})

	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// Len returns the number of records.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Put inserts or replaces the record and flushes the collection. On a flush
// error the in-memory state keeps the new value and the error is returned.
func (c *Collection[T]) Put(v T) error {
	c.mu.Lock()
	c.putLocked(v)
	c.mu.Unlock()
	return c.flush()
}

// Insert adds a record whose key must not already exist.
func (c *Collection[T]) Insert(v T) error {
	c.mu.Lock()
	if _, ok := c.items[v.Key()]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExists, v.Key())
	}
	c.putLocked(v)
	c.mu.Unlock()
	return c.flush()
}

// Update applies fn to the stored record under key and flushes the result.
func (c *Collection[T]) Update(key string, fn func(*T) error) (T, error) {
	c.mu.Lock()
	e, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		var zero T
		return zero, ErrNotFound
	}
	v := e.value
	if err := fn(&v); err != nil {
		c.mu.Unlock()
		var zero T
		return zero, err
	}
	e.value = v
	c.items[key] = e
	c.mu.Unlock()
	return v, c.flush()
}

func (c *Collection[T]) putLocked(v T) {
	key := v.Key()
	if e, ok := c.items[key]; ok {
		e.value = v
		c.items[key] = e
		return
	}
	c.seq++
	c.items[key] = entry[T]{value: v, seq: c.seq}
	c.evictLocked()
}

func (c *Collection[T]) evictLocked() {
	if c.limit <= 0 || len(c.items) <= c.limit {
		return
	}
	entries := make([]entry[T], 0, len(c.items))
	for _, e := range c.items {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].value.Timestamp(), entries[j].value.Timestamp()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return entries[i].seq < entries[j].seq
	})
	drop := len(entries) - c.limit
	for _, e := range entries[:drop] {
		delete(c.items, e.value.Key())
	}
	c.logger.Debug().Int("evicted", drop).Int("limit", c.limit).Str("path", c.path).Msg("retention limit applied")
}

func (c *Collection[T]) flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.RLock()
	entries := make([]entry[T], 0, len(c.items))
	for _, e := range c.items {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.value
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("flush %s: %w", c.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("flush %s: %w", c.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flush %s: %w", c.path, err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("flush %s: %w", c.path, err)
	}
	return nil
}
