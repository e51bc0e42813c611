package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Postwave
type Metrics struct {
	// Campaign delivery counters
	RecipientsSentTotal    *prometheus.CounterVec
	RecipientsFailedTotal  *prometheus.CounterVec
	RecipientsSkippedTotal *prometheus.CounterVec
	CampaignRunsTotal      prometheus.Counter
	SendRetriesTotal       prometheus.Counter
	SendDurationSeconds    prometheus.Histogram

	// Verification counters
	VerificationsTotal        *prometheus.CounterVec
	VerificationLookupsFailed prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// Rate limiting
	RateLimitExceededTotal *prometheus.CounterVec

	// Engagement counters
	TrackingEventsTotal *prometheus.CounterVec
	UnsubscribesTotal   prometheus.Counter

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RecipientsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_recipients_sent_total",
				Help: "Total number of successfully delivered recipients",
			},
			[]string{"campaign"},
		),
		RecipientsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_recipients_failed_total",
				Help: "Total number of permanently failed recipients",
			},
			[]string{"campaign"},
		),
		RecipientsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_recipients_skipped_total",
				Help: "Total number of skipped recipients",
			},
			[]string{"campaign", "reason"},
		),
		CampaignRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postwave_campaign_runs_total",
				Help: "Total number of campaign send invocations",
			},
		),
		SendRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postwave_send_retries_total",
				Help: "Total number of send retry attempts",
			},
		),
		SendDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "postwave_send_duration_seconds",
				Help:    "Duration of individual send calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_verifications_total",
				Help: "Total number of address verifications by verdict",
			},
			[]string{"verdict"},
		),
		VerificationLookupsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postwave_verification_lookups_failed_total",
				Help: "Total number of failed MX lookups during verification",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "postwave_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_ratelimit_exceeded_total",
				Help: "Total number of rate limit exceeded events",
			},
			[]string{"scope"},
		),

		TrackingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "postwave_tracking_events_total",
				Help: "Total number of recorded engagement events",
			},
			[]string{"kind"},
		),
		UnsubscribesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "postwave_unsubscribes_total",
				Help: "Total number of unsubscribe requests",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.RecipientsSentTotal,
		m.RecipientsFailedTotal,
		m.RecipientsSkippedTotal,
		m.CampaignRunsTotal,
		m.SendRetriesTotal,
		m.SendDurationSeconds,
		m.VerificationsTotal,
		m.VerificationLookupsFailed,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.RateLimitExceededTotal,
		m.TrackingEventsTotal,
		m.UnsubscribesTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncRecipientsSent increments the sent counter
func IncRecipientsSent(campaign string) {
	m := Global()
	if m != nil {
		m.RecipientsSentTotal.WithLabelValues(campaign).Inc()
	}
}

// IncRecipientsFailed increments the failed counter
func IncRecipientsFailed(campaign string) {
	m := Global()
	if m != nil {
		m.RecipientsFailedTotal.WithLabelValues(campaign).Inc()
	}
}

// IncRecipientsSkipped increments the skipped counter
func IncRecipientsSkipped(campaign, reason string) {
	m := Global()
	if m != nil {
		m.RecipientsSkippedTotal.WithLabelValues(campaign, reason).Inc()
	}
}

// IncCampaignRuns increments the run counter
func IncCampaignRuns() {
	m := Global()
	if m != nil {
		m.CampaignRunsTotal.Inc()
	}
}

// AddSendRetries adds to the retry counter
func AddSendRetries(n int) {
	m := Global()
	if m != nil && n > 0 {
		m.SendRetriesTotal.Add(float64(n))
	}
}

// IncVerifications increments the verification counter
func IncVerifications(verdict string) {
	m := Global()
	if m != nil {
		m.VerificationsTotal.WithLabelValues(verdict).Inc()
	}
}

// IncVerificationLookupsFailed increments the failed lookup counter
func IncVerificationLookupsFailed() {
	m := Global()
	if m != nil {
		m.VerificationLookupsFailed.Inc()
	}
}

// IncRateLimitExceeded increments rate limit exceeded counter
func IncRateLimitExceeded(scope string) {
	m := Global()
	if m != nil {
		m.RateLimitExceededTotal.WithLabelValues(scope).Inc()
	}
}

// IncAPIErrors increments API error counter
func IncAPIErrors(errorType string) {
	m := Global()
	if m != nil {
		m.APIErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// IncTrackingEvents increments the engagement event counter
func IncTrackingEvents(kind string) {
	m := Global()
	if m != nil {
		m.TrackingEventsTotal.WithLabelValues(kind).Inc()
	}
}

// IncUnsubscribes increments the unsubscribe counter
func IncUnsubscribes() {
	m := Global()
	if m != nil {
		m.UnsubscribesTotal.Inc()
	}
}
