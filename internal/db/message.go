package db

import (
	"context"
	"log"
	"time"

	"persona-chat/internal/models"
)

const messageColumns = `id, persona_id, actor_id, sender_id, sender_name, content, is_from_user, created_at`

// CreateMessage appends a message to the actor's conversation with a persona
func (d *DB) CreateMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	return WithLockResult(d, func() (*models.Message, error) {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}

		result, err := d.db.ExecContext(ctx,
			`INSERT INTO messages (persona_id, actor_id, sender_id, sender_name, content, is_from_user, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.PersonaID, msg.ActorID, msg.SenderID, msg.SenderName, msg.Content, msg.IsFromUser, msg.Timestamp,
		)
		if err != nil {
			log.Printf("[DB] CreateMessage failed: insert error persona_id=%s err=%v", msg.PersonaID, err)
			return nil, err
		}

		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}

		msg.ID = id
		return &msg, nil
	})
}

// GetMessages retrieves the actor's conversation with a persona in the order it was written
func (d *DB) GetMessages(ctx context.Context, personaID, actorID string) ([]models.Message, error) {
	return WithLockResult(d, func() ([]models.Message, error) {
		rows, err := d.db.QueryContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE persona_id = ? AND actor_id = ? ORDER BY id ASC`,
			personaID, actorID,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		messages := []models.Message{}
		for rows.Next() {
			var msg models.Message
			if err := rows.Scan(&msg.ID, &msg.PersonaID, &msg.ActorID, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.IsFromUser, &msg.Timestamp); err != nil {
				return nil, err
			}
			messages = append(messages, msg)
		}

		return messages, rows.Err()
	})
}
