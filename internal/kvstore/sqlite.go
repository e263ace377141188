package kvstore

import (
	"context"
	"database/sql"
	"errors"
)

// SQLiteBackend stores entries in the kv_entries table created by
// database.Initialize. It does not relay events: sessions must share one
// Store to see each other's writes.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Load(ctx context.Context, origin, key string) ([]byte, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx,
		"SELECT value FROM kv_entries WHERE origin = ? AND key = ?",
		origin, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, origin, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO kv_entries (origin, key, value) VALUES (?, ?, ?)
		ON CONFLICT(origin, key) DO UPDATE SET
		value = excluded.value,
		updated_at = CURRENT_TIMESTAMP`,
		origin, key, string(value),
	)
	return err
}

func (b *SQLiteBackend) Delete(ctx context.Context, origin, key string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE origin = ? AND key = ?", origin, key)
	return err
}

func (b *SQLiteBackend) Keys(ctx context.Context, origin string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT key FROM kv_entries WHERE origin = ? ORDER BY key", origin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *SQLiteBackend) Usage(ctx context.Context, origin string) (int64, error) {
	var n int64
	err := b.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0) FROM kv_entries WHERE origin = ?",
		origin,
	).Scan(&n)
	return n, err
}
