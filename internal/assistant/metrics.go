package assistant

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"persona-chat/internal/provider"
)

var (
	// requestsTotal counts completed calls by provider and outcome
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_chat_ai_requests_total",
		Help: "Total AI calls by provider and outcome",
	}, []string{"provider", "outcome"})

	// requestDuration tracks end-to-end call latency
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "persona_chat_ai_request_duration_seconds",
		Help:    "AI call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"provider"})

	// tokensTotal counts token callbacks delivered to callers
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_chat_ai_tokens_total",
		Help: "Total streamed token callbacks by provider",
	}, []string{"provider"})

	// retriesTotal counts transport retries
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "persona_chat_ai_retries_total",
		Help: "Total transport retries by provider",
	}, []string{"provider"})

	// inFlightCalls is the number of calls holding an accumulator entry
	inFlightCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "persona_chat_ai_in_flight_calls",
		Help: "AI calls currently in flight",
	})
)

// outcome labels
const (
	outcomeSuccess           = "success"
	outcomeCancelled         = "cancelled"
	outcomeMissingCredential = "missing_credential"
	outcomeInvalidURL        = "invalid_url"
	outcomeTransport         = "transport_error"
	outcomeHTTPStatus        = "http_status_error"
	outcomeAPI               = "api_error"
	outcomeMalformed         = "malformed_response"
	outcomeOther             = "error"
)

func outcomeOf(err error) string {
	var (
		statusErr    *HTTPStatusError
		apiErr       *APIError
		transportErr *TransportError
		malformedErr *MalformedResponseError
	)

	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrCancelled):
		return outcomeCancelled
	case errors.Is(err, ErrMissingCredential):
		return outcomeMissingCredential
	case errors.Is(err, ErrInvalidURL):
		return outcomeInvalidURL
	case errors.As(err, &transportErr):
		return outcomeTransport
	case errors.As(err, &statusErr):
		return outcomeHTTPStatus
	case errors.As(err, &apiErr):
		return outcomeAPI
	case errors.As(err, &malformedErr):
		return outcomeMalformed
	default:
		return outcomeOther
	}
}

func observeCall(p provider.Provider, start time.Time, err error) {
	requestsTotal.WithLabelValues(string(p), outcomeOf(err)).Inc()
	requestDuration.WithLabelValues(string(p)).Observe(time.Since(start).Seconds())
}
