package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Consent actions.
const (
	ConsentGranted   = "granted"
	ConsentWithdrawn = "withdrawn"
)

// ConsentEvent is one append-only consent change. The log is never
// updated or pruned; the current state of an address is its most
// recent event.
type ConsentEvent struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Action    string    `json:"action"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ConsentRepository struct {
	db *DB
}

func NewConsentRepository(db *DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

// Record appends one consent change.
func (r *ConsentRepository) Record(email, action, source string) error {
	_, err := r.db.Exec(`
		INSERT INTO consent_events (id, email, action, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), email, action, source, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record consent event: %w", err)
	}
	return nil
}

// History returns an address's consent changes, newest first.
func (r *ConsentRepository) History(email string) ([]ConsentEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, email, action, source, created_at
		FROM consent_events WHERE email = ? ORDER BY created_at DESC, id`,
		email,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []ConsentEvent{}
	for rows.Next() {
		var e ConsentEvent
		if err := rows.Scan(&e.ID, &e.Email, &e.Action, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, nil
}
