package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"bookshelf/catalogservice/internal/metrics"
)

const (
	providerFailureThreshold = 3
	providerBlockBase        = 2 * time.Minute
	providerBlockMax         = 15 * time.Minute
)

// providerHealth tracks one provider's recent behavior. A provider that
// fails providerFailureThreshold times in a row is blocked for an
// exponentially growing window; any success resets the streak.
type providerHealth struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastQuery           string
	lastLatency         time.Duration
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

func (h *providerHealth) markSuccess() {
	h.consecutiveFailures = 0
	h.blockedUntil = time.Time{}
	h.lastError = ""
}

func (h *providerHealth) markFailure(err error, now time.Time) {
	h.consecutiveFailures++
	h.totalFailures++
	h.lastError = err.Error()
	if h.consecutiveFailures >= providerFailureThreshold {
		h.blockedUntil = now.Add(exponentialBlockDuration(h.consecutiveFailures))
	}
}

func normalizeProviderName(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (s *Service) isProviderBlocked(providerName string, now time.Time) (bool, time.Time, string) {
	name := normalizeProviderName(providerName)
	if name == "" {
		return false, time.Time{}, ""
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state, ok := s.health[name]
	if !ok || state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

func (s *Service) recordProviderResult(providerName, query string, err error, latency time.Duration, now time.Time) {
	name := normalizeProviderName(providerName)
	if name == "" {
		return
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state, ok := s.health[name]
	if !ok {
		state = &providerHealth{}
		s.health[name] = state
	}
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.ProviderRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}

	if err == nil {
		state.markSuccess()
		metrics.ProviderRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.ProviderAvailable.WithLabelValues(name).Set(1)
		return
	}

	status := "error"
	if isTimeoutLikeError(err) {
		status = "timeout"
		state.timeoutCount++
	}
	state.markFailure(err, now)
	metrics.ProviderRequestsTotal.WithLabelValues(name, status).Inc()
	if !state.blockedUntil.IsZero() {
		metrics.ProviderAvailable.WithLabelValues(name).Set(0)
	}
}

// exponentialBlockDuration doubles the base window for every failure past
// the threshold, capped at providerBlockMax.
func exponentialBlockDuration(consecutiveFailures int) time.Duration {
	over := consecutiveFailures - providerFailureThreshold
	if over < 0 {
		over = 0
	}
	if over > 3 {
		// 2min << 3 already exceeds the cap.
		return providerBlockMax
	}
	d := providerBlockBase << over
	if d > providerBlockMax {
		return providerBlockMax
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "timeout") || strings.Contains(text, "deadline exceeded")
}
