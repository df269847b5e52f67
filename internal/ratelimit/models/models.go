package models

import (
	"time"

	id "corebank/pkg/domain"
)

// Result is the outcome of one fixed-window check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// UserKey scopes a bucket to an authenticated user within a tenant.
func UserKey(tenantID id.TenantID, userID id.UserID) string {
	return "user:" + tenantID.String() + ":" + userID.String()
}

// IPKey scopes a bucket to an anonymous caller.
func IPKey(ip string) string {
	return "ip:" + SanitizeKeySegment(ip)
}

// WindowStart truncates now to the start of its fixed window.
func WindowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

// NewResult derives the result for the count-th request in the window
// starting at start.
func NewResult(count, limit int, start time.Time, window time.Duration, now time.Time) *Result {
	resetAt := start.Add(window)
	if count <= limit {
		return &Result{Allowed: true, Limit: limit, Remaining: limit - count, ResetAt: resetAt}
	}
	retry := int((resetAt.Sub(now) + time.Second - 1) / time.Second)
	if retry < 1 {
		retry = 1
	}
	return &Result{Allowed: false, Limit: limit, ResetAt: resetAt, RetryAfter: retry}
}
