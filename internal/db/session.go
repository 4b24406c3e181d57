package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
)

// GetSessionID returns the provider conversation id for (actor, persona), or "" if none
func (d *DB) GetSessionID(ctx context.Context, actorID, personaID string) (string, error) {
	return WithLockResult(d, func() (string, error) {
		var sessionID string
		err := d.db.QueryRowContext(ctx,
			`SELECT session_id FROM sessions WHERE actor_id = ? AND persona_id = ?`,
			actorID, personaID,
		).Scan(&sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return sessionID, nil
	})
}

// SaveSessionID stores the provider conversation id for (actor, persona)
func (d *DB) SaveSessionID(ctx context.Context, actorID, personaID, sessionID string) error {
	return d.WithLock(func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO sessions (actor_id, persona_id, session_id, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(actor_id, persona_id) DO UPDATE SET
				session_id = excluded.session_id,
				updated_at = CURRENT_TIMESTAMP
		`, actorID, personaID, sessionID)
		if err != nil {
			log.Printf("[DB] SaveSessionID failed persona_id=%s err=%v", personaID, err)
		}
		return err
	})
}

// DeleteSession forgets the provider conversation so the next turn starts a new one
func (d *DB) DeleteSession(ctx context.Context, actorID, personaID string) error {
	return d.WithLock(func() error {
		_, err := d.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE actor_id = ? AND persona_id = ?`,
			actorID, personaID,
		)
		return err
	})
}
