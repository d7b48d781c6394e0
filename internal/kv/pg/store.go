package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"auditdesk.io/internal/kv"
)

// Migrations holds the schema for the kv_records table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

type Store struct {
	db *sql.DB
}

var _ kv.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle, used with sqlmock in tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `select value from kv_records where key=$1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errors.New("kv: key is required")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into kv_records(key, value, updated_at)
		values ($1, $2, now())
		on conflict (key) do update
		set value = excluded.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `delete from kv_records where key=$1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]kv.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		select key, value from kv_records
		where key like $1 escape '\'
		order by key
	`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make([]kv.Record, 0)
	for rows.Next() {
		var rec kv.Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func escapeLike(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}
