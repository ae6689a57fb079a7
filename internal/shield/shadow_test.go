package shield

import (
	"context"
	"testing"

	"github.com/Kweiss/Wardex/pkg/models"
)

func TestShadowRunnerFlagsDivergenceWithoutPersisting(t *testing.T) {
	live := New(Config{Policy: basicPolicy(), AuditCapacity: 100})

	tx := models.TransactionRequest{To: "0x4444444444444444444444444444444444444444", ChainID: 1}
	liveVerdict, err := live.Evaluate(tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stricter := basicPolicy()
	stricter.Tiers[0].BlockThreshold = 0 // candidate blocks almost everything

	runner := NewShadowRunner(nil, stricter, 1)
	result, err := runner.RunShadowEvaluation(context.Background(), tx, nil, liveVerdict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.LiveDecision == result.CandidateDecision {
		t.Fatalf("expected the stricter candidate policy to diverge from the live decision, got %q for both", result.LiveDecision)
	}
}

func TestShadowRunnerAgreesWithIdenticalPolicy(t *testing.T) {
	live := New(Config{Policy: basicPolicy(), AuditCapacity: 100})

	tx := models.TransactionRequest{To: "0x5555555555555555555555555555555555555555", ChainID: 1}
	liveVerdict, err := live.Evaluate(tx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runner := NewShadowRunner(nil, basicPolicy(), 1)
	result, err := runner.RunShadowEvaluation(context.Background(), tx, nil, liveVerdict)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.LiveDecision != result.CandidateDecision {
		t.Fatalf("expected an identical candidate policy to agree, got live=%s candidate=%s", result.LiveDecision, result.CandidateDecision)
	}
}
