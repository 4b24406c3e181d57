package db

import "context"

// Migrate runs all database migrations
func (d *DB) Migrate(ctx context.Context) error {
	return d.WithLock(func() error {
		// Create personas table
		_, err := d.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS personas (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL,
				name TEXT NOT NULL,
				personality TEXT NOT NULL DEFAULT '',
				backstory TEXT NOT NULL DEFAULT '',
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`)
		if err != nil {
			return err
		}

		// Create messages table; id order is conversation order
		_, err = d.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				persona_id TEXT NOT NULL,
				actor_id TEXT NOT NULL,
				sender_id TEXT NOT NULL,
				sender_name TEXT NOT NULL DEFAULT '',
				content TEXT NOT NULL,
				is_from_user INTEGER NOT NULL CHECK(is_from_user IN (0, 1)),
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (persona_id) REFERENCES personas(id) ON DELETE CASCADE
			)
		`)
		if err != nil {
			return err
		}

		// Create sessions table (provider conversation ids)
		_, err = d.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS sessions (
				actor_id TEXT NOT NULL,
				persona_id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (actor_id, persona_id),
				FOREIGN KEY (persona_id) REFERENCES personas(id) ON DELETE CASCADE
			)
		`)
		if err != nil {
			return err
		}

		// Create settings key-value table
		_, err = d.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS settings (
				key TEXT PRIMARY KEY,
				value BLOB NOT NULL,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`)
		if err != nil {
			return err
		}

		// Create indexes for better query performance
		indexes := []string{
			"CREATE INDEX IF NOT EXISTS idx_messages_persona_actor ON messages(persona_id, actor_id)",
			"CREATE INDEX IF NOT EXISTS idx_personas_owner ON personas(owner_id)",
		}

		for _, idx := range indexes {
			if _, err := d.db.ExecContext(ctx, idx); err != nil {
				return err
			}
		}

		return nil
	})
}
