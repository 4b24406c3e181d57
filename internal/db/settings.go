package db

import (
	"context"
	"database/sql"
	"errors"
)

// LoadSetting returns the stored value for key and whether it exists
func (d *DB) LoadSetting(ctx context.Context, key string) ([]byte, bool, error) {
	type result struct {
		value []byte
		found bool
	}

	r, err := WithLockResult(d, func() (result, error) {
		var value []byte
		err := d.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			return result{}, nil
		}
		if err != nil {
			return result{}, err
		}
		return result{value: value, found: true}, nil
	})
	return r.value, r.found, err
}

// SaveSetting stores value under key, replacing any previous value
func (d *DB) SaveSetting(ctx context.Context, key string, value []byte) error {
	return d.WithLock(func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP
		`, key, value)
		return err
	})
}
