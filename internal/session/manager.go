// Package session implements subordinate session keys: narrower-scoped
// delegated signing authority with a target allowlist, per-tx and
// daily value caps, an expiry window, and an optional ban on
// unlimited-approval calldata.
package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/Kweiss/Wardex/internal/stages"
	"github.com/Kweiss/Wardex/pkg/models"
)

// infiniteApprovalThreshold mirrors the Transaction Decoder stage's
// bound (spec.md §4.2 stage 2 / §4.6): amounts above 2^128 count
// as an unlimited approval.
var infiniteApprovalThreshold = func() *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), 128)
}()

// Manager tracks many session keys by identifier. Grounded on
// internal/heuristics/address_watchlist.go's AddressWatchlist shape —
// a map guarded by sync.RWMutex with reads (the hot path: validating a
// proposed transaction) cheap and concurrent, writes (create, revoke,
// rotate) serialized — repurposed from address labels to session
// delegation constraints.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*models.SessionKey
	secrets  map[string][]byte // raw session private key bytes; never serialized
}

// NewManager returns an empty session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*models.SessionKey),
		secrets:  make(map[string][]byte),
	}
}

// Create registers a new session key with its raw private key
// material. The manager takes ownership of rawKey and zeroes it on
// Revoke or Rotate.
func (m *Manager) Create(key models.SessionKey, rawKey []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key.ID == "" {
		return fmt.Errorf("session id is required")
	}
	if _, exists := m.sessions[key.ID]; exists {
		return fmt.Errorf("session %q already exists", key.ID)
	}

	stored := key
	m.sessions[key.ID] = &stored
	m.secrets[key.ID] = rawKey
	return nil
}

// Get returns a defensive copy of a session key's public metadata.
func (m *Manager) Get(id string) (models.SessionKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return models.SessionKey{}, false
	}
	return *sess, true
}

// ValidateTransaction enforces, in order: the session exists and is
// not revoked; has not expired; the target is in the session's
// allowlist; the value is within the per-transaction cap; the running
// daily total (after UTC-day rollover) stays within the daily cap; and,
// when ForbidInfiniteApprovals is set, the calldata isn't an unlimited
// ERC-20 approve or a blanket setApprovalForAll. It does not mutate
// daily usage — callers record actual spend with RecordUsage after the
// transaction is signed, mirroring the Shield's own "decide, then
// account" split for daily volume.
func (m *Manager) ValidateTransaction(sessionID string, tx models.TransactionRequest, now time.Time) models.ValidationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return invalid("session does not exist")
	}
	if sess.Revoked {
		return invalid("session has been revoked")
	}
	if sess.Expired(now) {
		return invalid("session has expired")
	}
	if !targetAllowed(sess.AllowedContracts, tx.To) {
		return invalid("target address is not in the session's allowlist")
	}

	value := tx.ValueOrZero()
	if sess.MaxValuePerTx != nil && value.Cmp(sess.MaxValuePerTx) > 0 {
		return invalid("value exceeds the session's per-transaction cap")
	}

	if sess.MaxDailyVolume != nil {
		used := effectiveDailyUsed(sess, now)
		projected := new(uint256.Int).Add(used, value)
		if projected.Cmp(sess.MaxDailyVolume) > 0 {
			return invalid("value would exceed the session's daily volume cap")
		}
	}

	if sess.ForbidInfiniteApprovals && isInfiniteApproval(tx) {
		return invalid("session forbids unlimited token approvals")
	}

	return models.ValidationResult{Valid: true}
}

// RecordUsage adds value to a session's daily total, rolling the
// bucket over first if the UTC day has changed. Call only after a
// transaction validated by ValidateTransaction was actually signed.
func (m *Manager) RecordUsage(sessionID string, value *uint256.Int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %q does not exist", sessionID)
	}

	today := utcDay(now)
	if sess.DailyUsedDay != today {
		sess.DailyUsedDay = today
		sess.DailyUsed = uint256.NewInt(0)
	}
	if sess.DailyUsed == nil {
		sess.DailyUsed = uint256.NewInt(0)
	}
	sess.DailyUsed = new(uint256.Int).Add(sess.DailyUsed, value)
	return nil
}

// Revoke marks a session revoked and zeroes its private key buffer.
func (m *Manager) Revoke(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %q does not exist", sessionID)
	}
	sess.Revoked = true
	if secret, ok := m.secrets[sessionID]; ok {
		zero(secret)
		delete(m.secrets, sessionID)
	}
	return nil
}

// Rotate revokes sessionID and creates a fresh session under newID
// inheriting the same constraints (allowlist, caps, duration measured
// from now) with a new key.
func (m *Manager) Rotate(sessionID, newID string, newPublicAddress string, newRawKey []byte, now time.Time) (models.SessionKey, error) {
	m.mu.Lock()

	prior, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return models.SessionKey{}, fmt.Errorf("session %q does not exist", sessionID)
	}

	next := models.SessionKey{
		ID:                      newID,
		PublicAddress:           newPublicAddress,
		AllowedContracts:        append([]string(nil), prior.AllowedContracts...),
		MaxValuePerTx:           prior.MaxValuePerTx,
		MaxDailyVolume:          prior.MaxDailyVolume,
		Start:                   now,
		DurationSeconds:         prior.DurationSeconds,
		DailyUsed:               uint256.NewInt(0),
		DailyUsedDay:            utcDay(now),
		ForbidInfiniteApprovals: prior.ForbidInfiniteApprovals,
	}

	prior.Revoked = true
	if secret, ok := m.secrets[sessionID]; ok {
		zero(secret)
		delete(m.secrets, sessionID)
	}
	m.sessions[newID] = &next
	m.secrets[newID] = newRawKey

	m.mu.Unlock()
	return next, nil
}

func invalid(reason string) models.ValidationResult {
	return models.ValidationResult{Valid: false, Reason: reason}
}

func targetAllowed(allowlist []string, to string) bool {
	if len(allowlist) == 0 {
		return false
	}
	for _, addr := range allowlist {
		if strings.EqualFold(addr, to) {
			return true
		}
	}
	return false
}

func effectiveDailyUsed(sess *models.SessionKey, now time.Time) *uint256.Int {
	if sess.DailyUsedDay != utcDay(now) || sess.DailyUsed == nil {
		return uint256.NewInt(0)
	}
	return sess.DailyUsed
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// isInfiniteApproval reuses the pipeline's own selector decoder so the
// session manager's notion of "unlimited approval" never drifts from
// the Transaction Decoder stage's.
func isInfiniteApproval(tx models.TransactionRequest) bool {
	decoded := stages.DecodeCalldata(tx)
	if decoded.Selector == "approve" {
		if amt, ok := decoded.Params["amount"].(*uint256.Int); ok && amt.Cmp(infiniteApprovalThreshold) > 0 {
			return true
		}
	}
	if decoded.Selector == "setApprovalForAll" {
		if approved, ok := decoded.Params["approved"].(bool); ok && approved {
			return true
		}
	}
	return false
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
