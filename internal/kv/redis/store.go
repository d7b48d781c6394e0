package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"auditdesk.io/internal/kv"
)

const scanBatch = 200

// Store is a kv.Store backed by Redis string keys.
type Store struct {
	client *goredis.Client
}

var _ kv.Store = (*Store)(nil)

// Open connects to addr and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing client.
func New(client *goredis.Client) *Store { return &Store{client: client} }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errors.New("kv: key is required")
	}
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]kv.Record, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	seen := make(map[string]struct{})
	for iter.Next(ctx) {
		k := iter.Val()
		// SCAN may return a key more than once.
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	out := make([]kv.Record, 0, len(keys))
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		vals, err := s.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis mget: %w", err)
		}
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				// deleted between SCAN and MGET
				continue
			}
			out = append(out, kv.Record{Key: keys[start+i], Value: []byte(str)})
		}
	}
	kv.SortRecords(out)
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.client.Close() }

func escapeGlob(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
