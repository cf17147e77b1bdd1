package domain

import "time"

// Rate-limit dimensions. Each one keeps an independent counter, violation
// tally and ban flag per identifier.
const (
	RateLimitDimensionIP     = "ip"
	RateLimitDimensionUser   = "user"
	RateLimitDimensionAPIKey = "api_key"
)

// RateLimitResult is the outcome of one dimension check.
type RateLimitResult struct {
	Dimension  string    `json:"dimension"`
	Identifier string    `json:"identifier"`
	Allowed    bool      `json:"allowed"`
	Banned     bool      `json:"banned"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetTime  time.Time `json:"reset_time"`
}

// RateLimitDecision aggregates the per-dimension results for a request. The
// request is allowed only when every checked dimension allowed it.
type RateLimitDecision struct {
	Allowed bool
	Results []RateLimitResult
}

// ExceededDimensions lists the dimensions that rejected the request.
func (d *RateLimitDecision) ExceededDimensions() []string {
	var exceeded []string
	for _, r := range d.Results {
		if !r.Allowed {
			exceeded = append(exceeded, r.Dimension)
		}
	}
	return exceeded
}

// RetryAfter returns the longest wait among rejecting dimensions.
func (d *RateLimitDecision) RetryAfter(now time.Time) time.Duration {
	var retry time.Duration
	for _, r := range d.Results {
		if r.Allowed {
			continue
		}
		if wait := r.ResetTime.Sub(now); wait > retry {
			retry = wait
		}
	}
	if retry < 0 {
		retry = 0
	}
	return retry
}
