package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/postwave/postwave/internal/campaign"
)

type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start records a new in-flight run and returns its ID.
func (r *RunRepository) Start(campaignID string) (string, error) {
	id := uuid.New().String()
	_, err := r.db.Exec(`
		INSERT INTO runs (id, campaign_id, started_at) VALUES (?, ?, ?)`,
		id, campaignID, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// Finish persists the run's summary and per-recipient results.
func (r *RunRepository) Finish(runID string, summary *campaign.Summary) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE runs SET total = ?, sent = ?, failed = ?, skipped = ?, finished_at = ?
		WHERE id = ?`,
		summary.Total, summary.Sent, summary.Failed, summary.Skipped, time.Now(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	for i, result := range summary.Results {
		_, err = tx.Exec(`
			INSERT INTO run_results (run_id, position, email, status, error, retry_count)
			VALUES (?, ?, ?, ?, ?, ?)`,
			runID, i, result.Email, string(result.Status), result.Error, result.RetryCount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run result: %w", err)
		}
	}

	return tx.Commit()
}

// GetByID returns a run by ID, or nil when absent.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run := &Run{}
	var finished sql.NullTime
	err := r.db.QueryRow(`
		SELECT id, campaign_id, total, sent, failed, skipped, started_at, finished_at
		FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.CampaignID, &run.Total, &run.Sent, &run.Failed, &run.Skipped, &run.StartedAt, &finished)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

// ListByCampaign returns a campaign's runs, newest first.
func (r *RunRepository) ListByCampaign(campaignID string) ([]Run, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, total, sent, failed, skipped, started_at, finished_at
		FROM runs WHERE campaign_id = ? ORDER BY started_at DESC`, campaignID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.CampaignID, &run.Total, &run.Sent, &run.Failed, &run.Skipped, &run.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// GetResults returns a run's per-recipient results in send order.
func (r *RunRepository) GetResults(runID string) ([]RunResult, error) {
	rows, err := r.db.Query(`
		SELECT run_id, position, email, status, error, retry_count
		FROM run_results WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []RunResult{}
	for rows.Next() {
		var result RunResult
		if err := rows.Scan(&result.RunID, &result.Position, &result.Email, &result.Status, &result.Error, &result.RetryCount); err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}
