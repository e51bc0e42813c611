package store

import "time"

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignSending   = "sending"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

type Campaign struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Recipient struct {
	ID         string            `json:"id"`
	CampaignID string            `json:"campaign_id"`
	Email      string            `json:"email"`
	Data       map[string]string `json:"data,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Run is one completed (or in-flight) campaign invocation.
type Run struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	Total      int        `json:"total"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// RunResult is one recipient's persisted outcome within a run. Position
// preserves the input order.
type RunResult struct {
	RunID      string `json:"run_id"`
	Position   int    `json:"position"`
	Email      string `json:"email"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

// Tracking event kinds.
const (
	EventOpen  = "open"
	EventClick = "click"
)

type TrackingEvent struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	Email      string    `json:"email"`
	Kind       string    `json:"kind"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CampaignStats aggregates delivery and engagement for one campaign.
type CampaignStats struct {
	CampaignID   string `json:"campaign_id"`
	Runs         int    `json:"runs"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	Opens        int    `json:"opens"`
	UniqueOpens  int    `json:"unique_opens"`
	Clicks       int    `json:"clicks"`
	UniqueClicks int    `json:"unique_clicks"`
}
