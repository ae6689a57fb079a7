package session

import (
	"strings"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/Kweiss/Wardex/pkg/models"
)

func testSession(now time.Time) models.SessionKey {
	return models.SessionKey{
		ID:                      "sess-1",
		PublicAddress:           "0xaaaa000000000000000000000000000000000a",
		AllowedContracts:        []string{"0x1111111111111111111111111111111111111111"},
		MaxValuePerTx:           uint256.NewInt(1_000_000_000_000_000_000),
		MaxDailyVolume:          uint256.NewInt(5_000_000_000_000_000_000),
		Start:                   now,
		DurationSeconds:         3600,
		DailyUsed:               uint256.NewInt(0),
		DailyUsedDay:            utcDay(now),
		ForbidInfiniteApprovals: true,
	}
}

func txTo(to string, value *uint256.Int) models.TransactionRequest {
	return models.TransactionRequest{To: to, Value: value, ChainID: 1}
}

func TestValidateTransactionApprovesWithinConstraints(t *testing.T) {
	now := time.Now()
	m := NewManager()
	if err := m.Create(testSession(now), []byte("raw-key")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := m.ValidateTransaction("sess-1", txTo("0x1111111111111111111111111111111111111111", uint256.NewInt(1)), now)
	if !result.Valid {
		t.Fatalf("expected a valid transaction, got reason %q", result.Reason)
	}
}

func TestValidateTransactionRejectsUnknownSession(t *testing.T) {
	m := NewManager()
	result := m.ValidateTransaction("nope", txTo("0x1", uint256.NewInt(0)), time.Now())
	if result.Valid {
		t.Fatal("expected an unknown session to be invalid")
	}
}

func TestValidateTransactionRejectsRevoked(t *testing.T) {
	now := time.Now()
	m := NewManager()
	m.Create(testSession(now), []byte("raw-key"))
	m.Revoke("sess-1")

	result := m.ValidateTransaction("sess-1", txTo("0x1111111111111111111111111111111111111111", uint256.NewInt(1)), now)
	if result.Valid {
		t.Fatal("expected a revoked session to be invalid")
	}
}

func TestValidateTransactionRejectsExpired(t *testing.T) {
	now := time.Now()
	m := NewManager()
	sess := testSession(now)
	sess.DurationSeconds = 1
	m.Create(sess, []byte("raw-key"))

	later := now.Add(time.Hour)
	result := m.ValidateTransaction("sess-1", txTo("0x1111111111111111111111111111111111111111", uint256.NewInt(1)), later)
	if result.Valid {
		t.Fatal("expected an expired session to be invalid")
	}
}

func TestValidateTransactionRejectsOffAllowlistTarget(t *testing.T) {
	now := time.Now()
	m := NewManager()
	m.Create(testSession(now), []byte("raw-key"))

	result := m.ValidateTransaction("sess-1", txTo("0x2222222222222222222222222222222222222222", uint256.NewInt(1)), now)
	if result.Valid {
		t.Fatal("expected a non-allowlisted target to be invalid")
	}
	if !strings.Contains(result.Reason, "allowlist") {
		t.Fatalf("expected an allowlist rejection reason, got %q", result.Reason)
	}
}

func TestValidateTransactionRejectsOverPerTxCap(t *testing.T) {
	now := time.Now()
	m := NewManager()
	m.Create(testSession(now), []byte("raw-key"))

	over := new(uint256.Int).AddUint64(uint256.NewInt(1_000_000_000_000_000_000), 1)
	result := m.ValidateTransaction("sess-1", txTo("0x1111111111111111111111111111111111111111", over), now)
	if result.Valid {
		t.Fatal("expected a value over the per-tx cap to be invalid")
	}
}

func TestValidateTransactionRejectsOverDailyCap(t *testing.T) {
	now := time.Now()
	m := NewManager()
	sess := testSession(now)
	sess.MaxValuePerTx = uint256.NewInt(5_000_000_000_000_000_000)
	m.Create(sess, []byte("raw-key"))

	if err := m.RecordUsage("sess-1", uint256.NewInt(4_900_000_000_000_000_000), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := m.ValidateTransaction("sess-1", txTo("0x1111111111111111111111111111111111111111", uint256.NewInt(200_000_000_000_000_000)), now)
	if result.Valid {
		t.Fatal("expected a transaction pushing daily usage over the cap to be invalid")
	}
}

func TestValidateTransactionDailyCapRollsOverAtUTCDayBoundary(t *testing.T) {
	now := time.Now().UTC()
	m := NewManager()
	sess := testSession(now)
	sess.MaxValuePerTx = uint256.NewInt(5_000_000_000_000_000_000)
	m.Create(sess, []byte("raw-key"))
	m.RecordUsage("sess-1", uint256.NewInt(4_900_000_000_000_000_000), now)

	tomorrow := now.Add(25 * time.Hour)
	result := m.ValidateTransaction("sess-1", txTo("0x1111111111111111111111111111111111111111", uint256.NewInt(200_000_000_000_000_000)), tomorrow)
	if !result.Valid {
		t.Fatalf("expected usage to roll over on a new UTC day, got reason %q", result.Reason)
	}
}

func TestValidateTransactionRejectsInfiniteApproval(t *testing.T) {
	now := time.Now()
	m := NewManager()
	m.Create(testSession(now), []byte("raw-key"))

	// approve(address,uint256) selector 0x095ea7b3, spender word, amount = max uint256 (infinite).
	selector := "095ea7b3"
	spender := strings.Repeat("0", 24) + "1111111111111111111111111111111111111111"
	amount := strings.Repeat("f", 64)
	data := "0x" + selector + spender + amount

	tx := models.TransactionRequest{
		To:      "0x1111111111111111111111111111111111111111",
		Value:   uint256.NewInt(0),
		Data:    data,
		ChainID: 1,
	}

	result := m.ValidateTransaction("sess-1", tx, now)
	if result.Valid {
		t.Fatal("expected an infinite approval to be rejected by a session with ForbidInfiniteApprovals set")
	}
}

func TestRotateInheritsConstraintsAndRevokesPrior(t *testing.T) {
	now := time.Now()
	m := NewManager()
	m.Create(testSession(now), []byte("raw-key"))

	next, err := m.Rotate("sess-1", "sess-2", "0xbbbb000000000000000000000000000000000b", []byte("new-raw-key"), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ID != "sess-2" {
		t.Fatalf("expected rotated session id sess-2, got %s", next.ID)
	}

	prior, ok := m.Get("sess-1")
	if !ok || !prior.Revoked {
		t.Fatal("expected the prior session to be revoked after rotation")
	}

	result := m.ValidateTransaction("sess-2", txTo("0x1111111111111111111111111111111111111111", uint256.NewInt(1)), now)
	if !result.Valid {
		t.Fatalf("expected the rotated session to inherit valid constraints, got reason %q", result.Reason)
	}
}
