package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/postwave/postwave/internal/attachment"
	"github.com/postwave/postwave/internal/campaign"
	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/store"
)

// CampaignRequest is the body for campaign create and update
type CampaignRequest struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RecipientsRequest is the body for PUT /campaigns/{id}/recipients
type RecipientsRequest struct {
	Recipients []campaign.Recipient `json:"recipients"`
}

// SendRequest is the body for POST /campaigns/{id}/send. All fields are
// optional; recipients default to the stored list and tuning fields to
// the configured defaults.
type SendRequest struct {
	Recipients  []campaign.Recipient    `json:"recipients,omitempty"`
	Subject     string                  `json:"subject,omitempty"`
	Body        string                  `json:"body,omitempty"`
	Verify      *bool                   `json:"verify,omitempty"`
	DelayMs     int                     `json:"delay_ms,omitempty"`
	MaxRetries  *int                    `json:"max_retries,omitempty"`
	Attachments []attachment.Descriptor `json:"attachments,omitempty"`
}

// SendResponse is the response for POST /campaigns/{id}/send
type SendResponse struct {
	RunID   string            `json:"run_id"`
	Summary *campaign.Summary `json:"summary"`
}

// VerifyRequest is the body for POST /verify
type VerifyRequest struct {
	Emails []string `json:"emails"`
}

// HealthResponse is the response for GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
	})
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := &store.Campaign{Name: req.Name, Subject: req.Subject, Body: req.Body}
	if err := s.campaigns.Create(c); err != nil {
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create campaign")
		return
	}

	s.logger.Info("campaign created", "id", c.ID, "name", c.Name)
	s.sendJSON(w, http.StatusCreated, c)
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	campaigns, total, err := s.campaigns.List(limit, offset)
	if err != nil {
		s.logger.Error("failed to list campaigns", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list campaigns")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"campaigns": campaigns,
		"total":     total,
	})
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /api/v1/campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	var req CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name != "" {
		c.Name = req.Name
	}
	c.Subject = req.Subject
	c.Body = req.Body

	if err := s.campaigns.Update(c); err != nil {
		s.logger.Error("failed to update campaign", "id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to update campaign")
		return
	}

	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	if err := s.campaigns.Delete(c.ID); err != nil {
		s.logger.Error("failed to delete campaign", "id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetRecipients handles PUT /api/v1/campaigns/{id}/recipients
func (s *Server) handleSetRecipients(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	var req RecipientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	recipients := make([]store.Recipient, 0, len(req.Recipients))
	for _, rcpt := range req.Recipients {
		if rcpt.Email == "" {
			s.sendError(w, http.StatusBadRequest, "recipient email is required")
			return
		}
		recipients = append(recipients, store.Recipient{Email: rcpt.Email, Data: rcpt.Data})
	}

	if err := s.campaigns.ReplaceRecipients(c.ID, recipients); err != nil {
		s.logger.Error("failed to set recipients", "id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to set recipients")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]int{"count": len(recipients)})
}

// handleGetRecipients handles GET /api/v1/campaigns/{id}/recipients
func (s *Server) handleGetRecipients(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	recipients, err := s.campaigns.GetRecipients(c.ID)
	if err != nil {
		s.logger.Error("failed to get recipients", "id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get recipients")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"recipients": recipients})
}

// handleSendCampaign handles POST /api/v1/campaigns/{id}/send. The send
// runs synchronously; the response carries the full per-recipient
// summary. A concurrent send for the same campaign is refused.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	var req SendRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	tmpl := campaign.Template{Subject: c.Subject, Body: c.Body}
	if req.Subject != "" || req.Body != "" {
		tmpl = campaign.Template{Subject: req.Subject, Body: req.Body}
	}
	if tmpl.Subject == "" && tmpl.Body == "" {
		s.sendError(w, http.StatusBadRequest, "campaign has no subject or body")
		return
	}

	recipients := req.Recipients
	if len(recipients) == 0 {
		stored, err := s.campaigns.GetRecipients(c.ID)
		if err != nil {
			s.logger.Error("failed to load recipients", "id", c.ID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to load recipients")
			return
		}
		for _, rcpt := range stored {
			recipients = append(recipients, campaign.Recipient{Email: rcpt.Email, Data: rcpt.Data})
		}
	}
	if len(recipients) == 0 {
		s.sendError(w, http.StatusBadRequest, "campaign has no recipients")
		return
	}

	opts := campaign.Options{
		VerifyFirst:  s.config.Campaign.VerifyDefault,
		Delay:        s.config.Campaign.Delay,
		MaxRetries:   s.config.Campaign.MaxRetries,
		RetryBackoff: s.config.Campaign.RetryBackoff,
		SendTimeout:  s.config.Campaign.SendTimeout,
		Attachments:  req.Attachments,
	}
	if req.Verify != nil {
		opts.VerifyFirst = *req.Verify
	}
	if req.DelayMs > 0 {
		opts.Delay = time.Duration(req.DelayMs) * time.Millisecond
	}
	if req.MaxRetries != nil {
		opts.MaxRetries = *req.MaxRetries
	}

	// The run context follows the request so a dropped connection stops
	// the send; the /cancel endpoint shares the same cancel func.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if !s.registerRun(c.ID, cancel) {
		s.sendError(w, http.StatusConflict, "campaign send already in progress")
		return
	}
	defer s.unregisterRun(c.ID)

	runID, err := s.runs.Start(c.ID)
	if err != nil {
		s.logger.Error("failed to start run", "id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to start run")
		return
	}

	s.campaigns.UpdateStatus(c.ID, store.CampaignSending)
	metrics.IncCampaignRuns()

	summary, err := s.runner.Send(ctx, c.ID, recipients, tmpl, opts)
	if err != nil {
		s.campaigns.UpdateStatus(c.ID, store.CampaignDraft)
		s.logger.Error("campaign send failed", "id", c.ID, "error", err)
		if errors.Is(err, campaign.ErrVerification) || errors.Is(err, campaign.ErrAttachments) || errors.Is(err, campaign.ErrEmptyTemplate) {
			s.sendError(w, http.StatusUnprocessableEntity, err.Error())
		} else {
			s.sendError(w, http.StatusInternalServerError, "Failed to send campaign")
		}
		return
	}

	if err := s.runs.Finish(runID, summary); err != nil {
		s.logger.Error("failed to persist run", "run_id", runID, "error", err)
	}

	status := store.CampaignCompleted
	if ctx.Err() != nil {
		status = store.CampaignCancelled
	}
	s.campaigns.UpdateStatus(c.ID, status)

	for _, result := range summary.Results {
		switch result.Status {
		case campaign.StatusSuccess:
			metrics.IncRecipientsSent(c.ID)
		case campaign.StatusError:
			metrics.IncRecipientsFailed(c.ID)
		case campaign.StatusSkipped:
			metrics.IncRecipientsSkipped(c.ID, result.Error)
		}
		metrics.AddSendRetries(result.RetryCount)
	}

	s.sendJSON(w, http.StatusOK, SendResponse{RunID: runID, Summary: summary})
}

// handleCancelCampaign handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.cancelRun(id) {
		s.sendError(w, http.StatusNotFound, "no send in progress for campaign")
		return
	}

	s.logger.Info("campaign send cancelled", "id", id)
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

// handleListRuns handles GET /api/v1/campaigns/{id}/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	runs, err := s.runs.ListByCampaign(c.ID)
	if err != nil {
		s.logger.Error("failed to list runs", "id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun handles GET /api/v1/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.runs.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get run", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run == nil {
		s.sendError(w, http.StatusNotFound, "Run not found")
		return
	}

	results, err := s.runs.GetResults(id)
	if err != nil {
		s.logger.Error("failed to get run results", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get run results")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"run":     run,
		"results": results,
	})
}

// handleCampaignStats handles GET /api/v1/campaigns/{id}/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	c := s.loadCampaign(w, r)
	if c == nil {
		return
	}

	stats, err := s.tracking.Stats(c.ID)
	if err != nil {
		s.logger.Error("failed to get stats", "id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}

	s.sendJSON(w, http.StatusOK, stats)
}

// handleVerify handles POST /api/v1/verify
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Emails) == 0 {
		s.sendError(w, http.StatusBadRequest, "emails is required")
		return
	}
	if s.verifier == nil {
		s.sendError(w, http.StatusServiceUnavailable, "verification is not configured")
		return
	}

	results, err := s.verifier.VerifyBatch(r.Context(), req.Emails)
	if err != nil {
		s.logger.Error("verification failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Verification failed")
		return
	}

	for _, result := range results {
		if result.Valid {
			metrics.IncVerifications("valid")
		} else {
			metrics.IncVerifications("invalid")
		}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"results": results})
}

// loadCampaign fetches the campaign in the id URL param, writing the
// error response itself when it cannot.
func (s *Server) loadCampaign(w http.ResponseWriter, r *http.Request) *store.Campaign {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return nil
	}

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return nil
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return nil
	}
	return c
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
