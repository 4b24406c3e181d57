package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"persona-chat/internal/models"
)

const personaColumns = `id, owner_id, name, personality, backstory, created_at`

// CreatePersona creates a new persona owned by ownerID
func (d *DB) CreatePersona(ctx context.Context, ownerID, name, personality, backstory string) (*models.Persona, error) {
	return WithLockResult(d, func() (*models.Persona, error) {
		persona := &models.Persona{
			ID:          uuid.NewString(),
			OwnerID:     ownerID,
			Name:        name,
			Personality: personality,
			Backstory:   backstory,
			CreatedAt:   time.Now().UTC(),
		}

		_, err := d.db.ExecContext(ctx,
			`INSERT INTO personas (`+personaColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			persona.ID, persona.OwnerID, persona.Name, persona.Personality, persona.Backstory, persona.CreatedAt,
		)
		if err != nil {
			log.Printf("[DB] CreatePersona failed: insert error err=%v", err)
			return nil, err
		}

		log.Printf("[DB] CreatePersona completed persona_id=%s owner_id=%s", persona.ID, ownerID)
		return persona, nil
	})
}

// GetPersona retrieves a persona by ID. It returns sql.ErrNoRows when missing.
func (d *DB) GetPersona(ctx context.Context, id string) (*models.Persona, error) {
	return WithLockResult(d, func() (*models.Persona, error) {
		row := d.db.QueryRowContext(ctx, `SELECT `+personaColumns+` FROM personas WHERE id = ?`, id)

		var persona models.Persona
		if err := scanPersona(row, &persona); err != nil {
			return nil, err
		}
		return &persona, nil
	})
}

// GetAllPersonas retrieves all personas, oldest first
func (d *DB) GetAllPersonas(ctx context.Context) ([]models.Persona, error) {
	return WithLockResult(d, func() ([]models.Persona, error) {
		rows, err := d.db.QueryContext(ctx, `SELECT `+personaColumns+` FROM personas ORDER BY created_at ASC, id ASC`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		personas := []models.Persona{}
		for rows.Next() {
			var persona models.Persona
			if err := scanPersona(rows, &persona); err != nil {
				return nil, err
			}
			personas = append(personas, persona)
		}

		return personas, rows.Err()
	})
}

// IsOwnedBy reports whether personaID exists and belongs to actorID
func (d *DB) IsOwnedBy(ctx context.Context, actorID, personaID string) (bool, error) {
	return WithLockResult(d, func() (bool, error) {
		var ownerID string
		err := d.db.QueryRowContext(ctx, `SELECT owner_id FROM personas WHERE id = ?`, personaID).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return actorID != "" && ownerID == actorID, nil
	})
}

// DeletePersona deletes a persona with its messages and sessions
func (d *DB) DeletePersona(ctx context.Context, id string) error {
	return d.WithLock(func() error {
		result, err := d.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
		if err != nil {
			return err
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if rows == 0 {
			return sql.ErrNoRows
		}

		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPersona(row rowScanner, persona *models.Persona) error {
	return row.Scan(&persona.ID, &persona.OwnerID, &persona.Name, &persona.Personality, &persona.Backstory, &persona.CreatedAt)
}
