package booking

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/BookMeBot/book-me-bot/internal/metrics"
	"github.com/BookMeBot/book-me-bot/internal/model/chat"
	"github.com/BookMeBot/book-me-bot/internal/service/retry"
)

// ErrDownstreamUnavailable marks a degraded result after all retries failed.
var ErrDownstreamUnavailable = errors.New("downstream service unavailable")

// Result is the outcome of an extraction. Available is false when the
// service could not be reached; CompletedData is then always false.
type Result struct {
	Extraction
	Available bool  `json:"available"`
	Err       error `json:"-"`
}

// Agent calls an Extractor as a best-effort downstream service.
type Agent struct {
	extractor Extractor
	policy    retry.Policy
	metrics   *metrics.Metrics
}

// NewAgent wraps extractor with policy; a zero policy means retry.DefaultPolicy.
func NewAgent(extractor Extractor, policy retry.Policy, m *metrics.Metrics) *Agent {
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &Agent{extractor: extractor, policy: policy, metrics: m}
}

// Extract never fails: exhausted retries produce a degraded Result.
func (a *Agent) Extract(ctx context.Context, chatID string, history []chat.Message) Result {
	if a == nil || a.extractor == nil {
		return degraded(fmt.Errorf("%w: no extractor configured", ErrDownstreamUnavailable))
	}

	policy := a.policy
	observe := policy.OnAttempt
	policy.OnAttempt = func(attempt int, err error) {
		a.countAttempt(err)
		if observe != nil {
			observe(attempt, err)
		}
	}

	out, err := retry.Value(ctx, policy, "booking-extractor", func(ctx context.Context) (Extraction, error) {
		return a.extractor.Extract(ctx, history)
	})
	if err != nil {
		log.Printf("[booking] extraction for chat %s unavailable: %v", chatID, err)
		return degraded(fmt.Errorf("%w: %w", ErrDownstreamUnavailable, err))
	}
	return Result{Extraction: out, Available: true}
}

func degraded(err error) Result {
	return Result{Extraction: Extraction{CompletedData: false}, Available: false, Err: err}
}

func (a *Agent) countAttempt(err error) {
	if a.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	a.metrics.DownstreamCalls.WithLabelValues("booking-extractor", result).Inc()
}
