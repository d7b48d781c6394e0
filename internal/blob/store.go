// Package blob stores uploaded document bytes and mints signed download links.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var ErrNotFound = errors.New("blob not found")

const (
	dataBucket = "blobs"
	metaBucket = "blob_meta"
)

// Object is a stored blob with its metadata.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Data        []byte
	StoredAt    time.Time
}

// Store is the blob storage used by the request engine.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (Object, error)
}

type meta struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

// Bolt keeps blobs in a bbolt file separate from the KV records.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the blob database at path.
func OpenBolt(path string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("blob path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open blob db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{dataBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create blob buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Bolt) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("blob key is required")
	}
	m, err := json.Marshal(meta{ContentType: contentType, Size: int64(len(data)), StoredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(dataBucket)).Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket([]byte(metaBucket)).Put([]byte(key), m)
	})
}

func (b *Bolt) Get(ctx context.Context, key string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	obj := Object{Key: key}
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(dataBucket)).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		obj.Data = append([]byte(nil), data...)
		var m meta
		if raw := tx.Bucket([]byte(metaBucket)).Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("decode blob meta: %w", err)
			}
		}
		obj.ContentType = m.ContentType
		obj.Size = int64(len(obj.Data))
		obj.StoredAt = m.StoredAt
		return nil
	})
	return obj, err
}

// Memory is an in-process Store for tests and the memory backend.
type Memory struct {
	mu    sync.RWMutex
	items map[string]Object
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]Object)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return errors.New("blob key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        append([]byte(nil), data...),
		StoredAt:    time.Now().UTC(),
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.items[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}

// Key builds the storage path for a document upload.
func Key(requestID, documentID, filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return "documents/" + requestID + "/" + documentID + "/" + name
}
