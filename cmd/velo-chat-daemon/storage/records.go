package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Load when no record exists under the key.
var ErrNotFound = errors.New("record not found")

// RecordStore persists whole JSON documents under stable keys. The daemon
// keeps three: the user profile, the chat list and the message list, each
// written through after every relevant mutation.
type RecordStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}

type sqliteRecordStore struct {
	db *sql.DB
}

// NewSQLiteRecordStore builds a RecordStore over the daemon database.
func NewSQLiteRecordStore(database *DB) (RecordStore, error) {
	if database == nil {
		return nil, errors.New("database connection is required for record store")
	}
	return &sqliteRecordStore{db: database.GetDB()}, nil
}

func (r *sqliteRecordStore) Load(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("record key cannot be empty")
	}

	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM records WHERE key = ?;`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %q: %w", key, err)
	}
	return value, nil
}

func (r *sqliteRecordStore) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return errors.New("record key cannot be empty")
	}

	upsertSQL := `
		INSERT INTO records (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
	`
	_, err := r.db.ExecContext(ctx, upsertSQL, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save record %q: %w", key, err)
	}
	return nil
}
