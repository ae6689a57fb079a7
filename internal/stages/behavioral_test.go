package stages

import (
	"testing"
	"time"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

func freshBehavioralBaseline() {
	globalBehavioralBaseline = &behavioralBaseline{profiles: make(map[string]*behavioralProfile)}
}

func behavioralPolicy() models.SecurityPolicy {
	return models.SecurityPolicy{
		Behavioral: models.BehavioralConfig{Enabled: true, Sensitivity: models.SensitivityMedium, LearningWindowDays: 30},
	}
}

func newBehavioralContext(sourceID string, usd float64) *pipeline.EvaluationContext {
	tx := models.TransactionRequest{To: "0x1111111111111111111111111111111111111111", ChainID: 1}
	conv := &models.ConversationContext{Source: models.Source{Identifier: sourceID, Type: models.SourceUser}}
	ctx := pipeline.NewContext(tx, conv, behavioralPolicy())
	ctx.Decoded = &models.DecodedTransaction{EstimatedValueUsd: usd}
	return ctx
}

func TestBehavioralComparatorInsufficientBaselineIsSilent(t *testing.T) {
	freshBehavioralBaseline()
	stage := NewBehavioralComparator()
	ctx := newBehavioralContext("alice", 50000)

	stage.Run(ctx, func() {})

	if ctx.HasReason("BEHAVIORAL_ANOMALY") {
		t.Fatal("expected no anomaly finding before a baseline exists")
	}
}

func TestBehavioralComparatorFlagsDeviation(t *testing.T) {
	freshBehavioralBaseline()
	for i := 0; i < 10; i++ {
		RecordBehavioralObservation("bob", 100, "0x1111111111111111111111111111111111111111", true, 30)
	}

	stage := NewBehavioralComparator()
	ctx := newBehavioralContext("bob", 50000)
	stage.Run(ctx, func() {})

	if !ctx.HasReason("BEHAVIORAL_ANOMALY") {
		t.Fatal("expected a behavioral anomaly for a huge deviation from baseline")
	}
}

func TestBehavioralComparatorFlagsNewContract(t *testing.T) {
	freshBehavioralBaseline()
	for i := 0; i < 10; i++ {
		RecordBehavioralObservation("dave", 100, "0x2222222222222222222222222222222222222222", true, 30)
	}

	stage := NewBehavioralComparator()
	// newBehavioralContext targets 0x1111... which dave's baseline has
	// never seen.
	ctx := newBehavioralContext("dave", 100)
	stage.Run(ctx, func() {})

	if !ctx.HasReason("NEW_CONTRACT") {
		t.Fatal("expected a new-contract finding for a target outside the known set")
	}
}

func TestBehavioralComparatorSilentOnKnownContract(t *testing.T) {
	freshBehavioralBaseline()
	for i := 0; i < 10; i++ {
		RecordBehavioralObservation("erin", 100, "0x1111111111111111111111111111111111111111", true, 30)
	}

	stage := NewBehavioralComparator()
	ctx := newBehavioralContext("erin", 100)
	stage.Run(ctx, func() {})

	if ctx.HasReason("NEW_CONTRACT") {
		t.Fatal("expected no new-contract finding for a previously seen target")
	}
}

func TestBehavioralComparatorFlagsTimingAnomaly(t *testing.T) {
	freshBehavioralBaseline()
	now := time.Now()
	p := &behavioralProfile{}
	for i := 0; i < 10; i++ {
		// All ten prior observations happened at the same hour, twelve
		// hours away from the hour this evaluation runs in.
		p.update(100, now.Add(-12*time.Hour-time.Duration(i)*time.Hour*24), "0x1111111111111111111111111111111111111111")
	}
	globalBehavioralBaseline.profiles["frank"] = p

	stage := NewBehavioralComparator()
	ctx := newBehavioralContext("frank", 100)
	stage.Run(ctx, func() {})

	if !ctx.HasReason("TIMING_ANOMALY") {
		t.Fatal("expected a timing anomaly for an hour outside the baseline's active hours")
	}
}

func TestBehavioralComparatorFlagsFrequencyAnomaly(t *testing.T) {
	freshBehavioralBaseline()
	now := time.Now()
	p := &behavioralProfile{}
	// Ten observations spread over ten hours establishes a baseline rate
	// of roughly one transaction per hour.
	for i := 9; i >= 0; i-- {
		p.update(100, now.Add(-time.Duration(i)*time.Hour), "0x1111111111111111111111111111111111111111")
	}
	globalBehavioralBaseline.profiles["grace"] = p

	// Flood the most recent window with far more than the historical
	// per-window average.
	for i := 0; i < 10; i++ {
		p.update(100, now, "0x1111111111111111111111111111111111111111")
	}

	stage := NewBehavioralComparator()
	ctx := newBehavioralContext("grace", 100)
	stage.Run(ctx, func() {})

	if !ctx.HasReason("FREQUENCY_ANOMALY") {
		t.Fatal("expected a frequency anomaly for a burst far above the historical rate")
	}
}

func TestBehavioralBaselineIgnoresUnapprovedAfterMaturity(t *testing.T) {
	freshBehavioralBaseline()
	now := time.Now()
	p := &behavioralProfile{}
	for i := 0; i < 10; i++ {
		p.update(100, now.Add(-40*24*time.Hour), "0x1111111111111111111111111111111111111111")
	}
	globalBehavioralBaseline.profiles["carol"] = p

	before, _, _, _ := globalBehavioralBaseline.compare("carol")
	globalBehavioralBaseline.record("carol", 999999, "0x1111111111111111111111111111111111111111", time.Now(), false, 30)
	after, _, _, _ := globalBehavioralBaseline.compare("carol")

	if before != after {
		t.Fatalf("expected mature baseline to ignore an unapproved observation, mean moved from %v to %v", before, after)
	}
}
