package models

import (
	"time"

	"github.com/holiman/uint256"
)

// SessionKey is a subordinate key with narrowed constraints: a target
// contract allowlist, per-tx/daily value caps, and an expiry window.
// Private key material is held only until revocation/expiry, then
// zeroed — never serialized here.
type SessionKey struct {
	ID                      string       `json:"id"`
	PublicAddress           string       `json:"publicAddress"`
	AllowedContracts        []string     `json:"allowedContracts"`
	MaxValuePerTx           *uint256.Int `json:"maxValuePerTx"`
	MaxDailyVolume          *uint256.Int `json:"maxDailyVolume"`
	Start                   time.Time    `json:"start"`
	DurationSeconds         int64        `json:"durationSeconds"`
	DailyUsed               *uint256.Int `json:"dailyUsed"`
	DailyUsedDay            string       `json:"dailyUsedDay"` // YYYY-MM-DD, UTC, for rollover
	Revoked                 bool         `json:"revoked"`
	ForbidInfiniteApprovals bool         `json:"forbidInfiniteApprovals"`
}

// Expired reports whether the session's duration has elapsed as of now.
func (s SessionKey) Expired(now time.Time) bool {
	return !now.Before(s.Start.Add(time.Duration(s.DurationSeconds) * time.Second))
}

// ValidationResult is the outcome of validateTransaction.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}
