// Package kv defines the key-value contract the rest of the service is built on.
// Values are opaque JSON documents; every write replaces the whole value.
package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: not found")

// Record is one key/value pair returned by Scan.
type Record struct {
	Key   string
	Value []byte
}

// Store is a durable, per-key consistent key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Scan returns every record whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// Memory is an in-process Store used in tests and local development.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("kv: key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = clone(value)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Scan(ctx context.Context, prefix string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Record{Key: k, Value: clone(v)})
		}
	}
	SortRecords(out)
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }

// SortRecords orders records by key, the order every backend returns from Scan.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
