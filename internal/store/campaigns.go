package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type CampaignRepository struct {
	db *DB
}

func NewCampaignRepository(db *DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign in draft status.
func (r *CampaignRepository) Create(c *Campaign) error {
	c.ID = uuid.New().String()
	c.Status = CampaignDraft
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.db.Exec(`
		INSERT INTO campaigns (id, name, subject, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Subject, c.Body, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil when absent.
func (r *CampaignRepository) GetByID(id string) (*Campaign, error) {
	c := &Campaign{}
	err := r.db.QueryRow(`
		SELECT id, name, subject, body, status, created_at, updated_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Subject, &c.Body, &c.Status, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List returns campaigns ordered by last update.
func (r *CampaignRepository) List(limit, offset int) ([]Campaign, int, error) {
	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM campaigns").Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, name, subject, body, status, created_at, updated_at
		FROM campaigns ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []Campaign{}
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Subject, &c.Body, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	return campaigns, total, nil
}

// Update updates a campaign's template fields.
func (r *CampaignRepository) Update(c *Campaign) error {
	c.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE campaigns SET name = ?, subject = ?, body = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Subject, c.Body, c.UpdatedAt, c.ID,
	)
	return err
}

// UpdateStatus transitions a campaign's lifecycle status.
func (r *CampaignRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec("UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now(), id)
	return err
}

// Delete deletes a campaign and, via cascade, its recipients and runs.
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// ReplaceRecipients swaps the campaign's recipient list atomically.
// Duplicate addresses within the new list keep the first occurrence.
func (r *CampaignRepository) ReplaceRecipients(campaignID string, recipients []Recipient) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM recipients WHERE campaign_id = ?", campaignID); err != nil {
		return fmt.Errorf("failed to clear recipients: %w", err)
	}

	now := time.Now()
	for _, rcpt := range recipients {
		data, err := json.Marshal(rcpt.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal recipient data: %w", err)
		}
		_, err = tx.Exec(`
			INSERT OR IGNORE INTO recipients (id, campaign_id, email, data, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), campaignID, rcpt.Email, string(data), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert recipient: %w", err)
		}
	}

	return tx.Commit()
}

// GetRecipients returns the campaign's recipients in insertion order.
func (r *CampaignRepository) GetRecipients(campaignID string) ([]Recipient, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, email, data, created_at
		FROM recipients WHERE campaign_id = ? ORDER BY rowid`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []Recipient{}
	for rows.Next() {
		var rcpt Recipient
		var data string
		if err := rows.Scan(&rcpt.ID, &rcpt.CampaignID, &rcpt.Email, &data, &rcpt.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &rcpt.Data); err != nil {
			rcpt.Data = nil
		}
		recipients = append(recipients, rcpt)
	}

	return recipients, nil
}
