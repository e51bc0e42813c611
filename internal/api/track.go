package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/postwave/postwave/internal/metrics"
	"github.com/postwave/postwave/internal/store"
)

// trackingPixel is a transparent 1x1 GIF
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// decodeRecipientToken reverses the encoding used when tracking links
// are injected into outgoing mail.
func decodeRecipientToken(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	email := strings.TrimSpace(string(raw))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("invalid token payload")
	}
	return email, nil
}

// handleTrackOpen handles GET /t/o/{campaignID}/{token}. It always
// answers with the pixel; recording failures only get logged so mail
// clients never see an error image.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	if email, err := decodeRecipientToken(chi.URLParam(r, "token")); err == nil {
		if err := s.tracking.Record(campaignID, email, store.EventOpen, ""); err != nil {
			s.logger.Error("failed to record open", "campaign", campaignID, "error", err)
		} else {
			metrics.IncTrackingEvents(store.EventOpen)
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, max-age=0")
	w.Header().Set("Content-Length", strconv.Itoa(len(trackingPixel)))
	w.Write(trackingPixel)
}

// handleTrackClick handles GET /t/c/{campaignID}/{token}?u=<target>.
// The recipient is redirected to the original target URL.
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	target := r.URL.Query().Get("url")
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		http.Error(w, "invalid target URL", http.StatusBadRequest)
		return
	}

	if email, err := decodeRecipientToken(chi.URLParam(r, "token")); err == nil {
		if err := s.tracking.Record(campaignID, email, store.EventClick, target); err != nil {
			s.logger.Error("failed to record click", "campaign", campaignID, "error", err)
		} else {
			metrics.IncTrackingEvents(store.EventClick)
		}
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// handleUnsubscribe handles GET and POST /unsubscribe/{token}
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	email, err := decodeRecipientToken(chi.URLParam(r, "token"))
	if err != nil {
		http.Error(w, "invalid unsubscribe link", http.StatusBadRequest)
		return
	}

	if err := s.suppress.Unsubscribe(email, "link"); err != nil {
		s.logger.Error("failed to record unsubscribe", "error", err)
		http.Error(w, "something went wrong, please try again later", http.StatusInternalServerError)
		return
	}
	if err := s.consent.Record(email, store.ConsentWithdrawn, "link"); err != nil {
		s.logger.Error("failed to record consent withdrawal", "error", err)
	}

	metrics.IncUnsubscribes()
	s.logger.Info("recipient unsubscribed", "email", email)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Unsubscribed</title></head>
<body>
<h1>You have been unsubscribed</h1>
<p>%s will no longer receive emails from us.</p>
</body>
</html>
`, email)
}

// handleListUnsubscribes handles GET /api/v1/unsubscribes
func (s *Server) handleListUnsubscribes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	unsubs, err := s.suppress.ListUnsubscribes(limit, offset)
	if err != nil {
		s.logger.Error("failed to list unsubscribes", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list unsubscribes")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"unsubscribes": unsubs})
}

// handleResubscribe handles DELETE /api/v1/unsubscribes/{email}
func (s *Server) handleResubscribe(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if email == "" {
		s.sendError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := s.suppress.Resubscribe(email); err != nil {
		s.logger.Error("failed to resubscribe", "email", email, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to resubscribe")
		return
	}
	if err := s.consent.Record(email, store.ConsentGranted, "operator"); err != nil {
		s.logger.Error("failed to record consent grant", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleConsentHistory handles GET /api/v1/consent/{email}
func (s *Server) handleConsentHistory(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if email == "" {
		s.sendError(w, http.StatusBadRequest, "email is required")
		return
	}

	events, err := s.consent.History(email)
	if err != nil {
		s.logger.Error("failed to load consent history", "email", email, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load consent history")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"events": events})
}
