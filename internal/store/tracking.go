package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TrackingRepository struct {
	db *DB
}

func NewTrackingRepository(db *DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// Record stores one engagement event.
func (r *TrackingRepository) Record(campaignID, email, kind, url string) error {
	_, err := r.db.Exec(`
		INSERT INTO tracking_events (id, campaign_id, email, kind, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), campaignID, email, kind, url, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Stats aggregates delivery counters and engagement events for a
// campaign across all of its runs.
func (r *TrackingRepository) Stats(campaignID string) (*CampaignStats, error) {
	stats := &CampaignStats{CampaignID: campaignID}

	err := r.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(sent), 0), COALESCE(SUM(failed), 0), COALESCE(SUM(skipped), 0)
		FROM runs WHERE campaign_id = ?`, campaignID,
	).Scan(&stats.Runs, &stats.Sent, &stats.Failed, &stats.Skipped)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRow(`
		SELECT
			COUNT(CASE WHEN kind = ? THEN 1 END),
			COUNT(DISTINCT CASE WHEN kind = ? THEN email END),
			COUNT(CASE WHEN kind = ? THEN 1 END),
			COUNT(DISTINCT CASE WHEN kind = ? THEN email END)
		FROM tracking_events WHERE campaign_id = ?`,
		EventOpen, EventOpen, EventClick, EventClick, campaignID,
	).Scan(&stats.Opens, &stats.UniqueOpens, &stats.Clicks, &stats.UniqueClicks)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ListByCampaign returns a campaign's events, newest first.
func (r *TrackingRepository) ListByCampaign(campaignID string, limit int) ([]TrackingEvent, error) {
	query := `
		SELECT id, campaign_id, email, kind, url, created_at
		FROM tracking_events WHERE campaign_id = ? ORDER BY created_at DESC`
	args := []any{campaignID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []TrackingEvent{}
	for rows.Next() {
		var e TrackingEvent
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.Email, &e.Kind, &e.URL, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, nil
}
