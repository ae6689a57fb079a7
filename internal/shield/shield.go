// Package shield implements the Wardex orchestrator (spec.md §5): it
// owns the live SecurityPolicy, runs every evaluation through the
// pipeline, tracks rolling decision history for auto-freeze, enforces
// the daily volume ceiling, and keeps the bounded audit log.
package shield

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/internal/providers"
	"github.com/Kweiss/Wardex/internal/stages"
	"github.com/Kweiss/Wardex/pkg/models"
)

// autoFreezeWindow and autoFreezeThreshold implement spec.md §5's
// auto-freeze rule: 5 of the most recent 10 evaluations resolving to
// block or freeze trips the shield into a hard-frozen state.
const (
	autoFreezeWindow    = 10
	autoFreezeThreshold = 5
)

// Shield is the mutex-guarded orchestrator, grounded on the teacher's
// AlertManager (internal/heuristics/alert_system.go): shared state
// behind a single lock, a bounded in-memory history, and a best-effort
// callback for external delivery, generalized here from alert
// broadcast to full evaluation orchestration.
type Shield struct {
	mu           sync.RWMutex
	policy       models.SecurityPolicy
	frozen       bool
	freezeReason string
	pipeline     *pipeline.Pipeline
	ring         *auditRing

	recentDecisions []models.Decision

	evaluationCount int
	blockCount      int
	advisoryCount   int

	dailyVolumeDay string
	dailyVolumeWei *uint256.Int

	// onVerdict is an optional callback invoked after every evaluation,
	// e.g. to broadcast over a websocket feed or persist asynchronously.
	onVerdict func(models.AuditEntry)
}

// Config bundles the collaborators Evaluate needs beyond the policy
// itself.
type Config struct {
	Policy           models.SecurityPolicy
	AddressProvider  providers.AddressReputationProvider
	ContractProvider providers.ContractAnalysisProvider
	CustomMiddleware []stages.CustomMiddlewareFunc
	AuditCapacity    int
	OnVerdict        func(models.AuditEntry)
}

// New builds a Shield with the nine-stage pipeline wired in fixed
// spec.md §4.2 order.
func New(cfg Config) *Shield {
	p := pipeline.New(
		stages.NewContextAnalyzer(),
		stages.NewTransactionDecoder(),
		stages.NewValueAssessor(),
		stages.NewAddressChecker(cfg.AddressProvider),
		stages.NewContractChecker(cfg.ContractProvider),
		stages.NewBehavioralComparator(),
		stages.NewCustomMiddlewareStage(cfg.CustomMiddleware),
		stages.NewRiskAggregator(),
		stages.NewPolicyEngine(),
	)

	return &Shield{
		policy:         cfg.Policy,
		pipeline:       p,
		ring:           newAuditRing(cfg.AuditCapacity),
		dailyVolumeWei: uint256.NewInt(0),
		onVerdict:      cfg.OnVerdict,
	}
}

// Evaluate runs one transaction/conversation pair through the pipeline
// and returns the terminal verdict. A transaction that fails Validate
// is returned as an error: no verdict is produced and no audit entry is
// recorded for it. A stage fault or pipeline error does not produce an
// error; it degrades to a blocking PIPELINE_ERROR verdict.
func (s *Shield) Evaluate(tx models.TransactionRequest, conv *models.ConversationContext) (*models.SecurityVerdict, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	s.mu.RLock()
	frozen := s.frozen
	policy := s.policy
	s.mu.RUnlock()

	var verdict *models.SecurityVerdict
	var estimatedUsd float64
	if frozen {
		verdict = s.frozenVerdict(policy)
	} else {
		verdict, estimatedUsd = s.runPipeline(tx, conv, policy)
	}

	// Daily volume only accrues for transactions that were actually
	// approved; promoting to block retroactively exceeds the ceiling,
	// per spec.md §4.3.
	if verdict.Decision == models.DecisionApprove {
		s.applyDailyVolume(tx, verdict)
	}
	s.recordDecision(verdict.Decision)
	s.updateCounters(verdict.Decision)
	s.maybeAutoFreeze()

	entry := models.AuditEntry{
		EvaluationID: verdict.EvaluationID,
		Timestamp:    verdict.Timestamp,
		Transaction:  tx,
		Verdict:      *verdict,
		Context:      summarizeContext(conv),
		Executed:     verdict.Decision == models.DecisionApprove,
	}
	s.mu.Lock()
	s.ring.push(entry)
	s.mu.Unlock()
	if s.onVerdict != nil {
		s.onVerdict(entry)
	}

	if conv != nil {
		sourceID := conv.Source.Identifier
		if sourceID == "" {
			sourceID = string(conv.Source.Type)
		}
		stages.RecordBehavioralObservation(sourceID, estimatedUsd, tx.To, verdict.Decision == models.DecisionApprove, policy.Behavioral.LearningWindowDays)
	}

	return verdict, nil
}

// runPipeline drives the nine-stage chain and also returns the
// Transaction Decoder/Value Assessor's estimated USD value so the
// caller can feed it back into the behavioral baseline once the
// verdict is known — the Behavioral Comparator stage itself only reads
// the baseline; only the Shield, which knows the final decision, is
// allowed to write to it.
func (s *Shield) runPipeline(tx models.TransactionRequest, conv *models.ConversationContext, policy models.SecurityPolicy) (verdict *models.SecurityVerdict, estimatedUsd float64) {
	ctx := pipeline.NewContext(tx, conv, policy)

	defer func() {
		if r := recover(); r != nil {
			verdict = pipelineErrorVerdict(policy, fmt.Sprintf("%v", r))
		}
	}()

	if err := s.pipeline.Run(ctx); err != nil {
		return pipelineErrorVerdict(policy, err.Error()), 0
	}
	if ctx.Decoded != nil {
		estimatedUsd = ctx.Decoded.EstimatedValueUsd
	}
	return ctx.Verdict(), estimatedUsd
}

func pipelineErrorVerdict(policy models.SecurityPolicy, detail string) *models.SecurityVerdict {
	return &models.SecurityVerdict{
		Decision: models.DecisionBlock,
		Reasons: []models.SecurityReason{{
			Code:     "PIPELINE_ERROR",
			Message:  "evaluation pipeline faulted: " + detail,
			Severity: models.SeverityCritical,
			Source:   models.SourcePolicy,
		}},
		RequiredAction: models.ActionHumanApproval,
		Timestamp:      time.Now(),
		PolicyVersion:  policy.Version,
	}
}

func (s *Shield) frozenVerdict(policy models.SecurityPolicy) *models.SecurityVerdict {
	s.mu.RLock()
	reason := s.freezeReason
	s.mu.RUnlock()
	if reason == "" {
		reason = "the shield is frozen; no transactions are evaluated until an operator unfreezes it"
	}
	return &models.SecurityVerdict{
		Decision: models.DecisionFreeze,
		Reasons: []models.SecurityReason{{
			Code:     "SHIELD_FROZEN",
			Message:  reason,
			Severity: models.SeverityCritical,
			Source:   models.SourcePolicy,
		}},
		RequiredAction: models.ActionHumanApproval,
		Timestamp:      time.Now(),
		PolicyVersion:  policy.Version,
	}
}

// applyDailyVolume rolls the tracked volume over at UTC midnight and
// retroactively promotes an approved decision to block once the
// configured daily ceiling is exceeded (spec.md §4.3). It is only
// called for decisions that were already approve, so the promotion
// always reads as "this would have gone through, but volume today is
// too high" rather than double-counting an already-blocked transfer.
func (s *Shield) applyDailyVolume(tx models.TransactionRequest, verdict *models.SecurityVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := time.Now().UTC().Format("2006-01-02")
	if s.dailyVolumeDay != today {
		s.dailyVolumeDay = today
		s.dailyVolumeWei = uint256.NewInt(0)
	}
	s.dailyVolumeWei = new(uint256.Int).Add(s.dailyVolumeWei, tx.ValueOrZero())

	limit := s.policy.Limits.MaxDailyVolumeWei
	if limit != nil && limit.Sign() > 0 && s.dailyVolumeWei.Cmp(limit) > 0 {
		verdict.Decision = models.DecisionBlock
		verdict.RequiredAction = models.ActionHumanApproval
		verdict.Reasons = append(verdict.Reasons, models.SecurityReason{
			Code:     "DAILY_VOLUME_EXCEEDED",
			Message:  "cumulative daily transaction volume exceeds the configured ceiling",
			Severity: models.SeverityCritical,
			Source:   models.SourcePolicy,
		})
	}
}

func (s *Shield) recordDecision(d models.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentDecisions = append(s.recentDecisions, d)
	if len(s.recentDecisions) > autoFreezeWindow {
		s.recentDecisions = s.recentDecisions[len(s.recentDecisions)-autoFreezeWindow:]
	}
}

// updateCounters tracks the running evaluation/block/advisory totals
// spec.md §4.3 lists alongside the policy and audit ring.
func (s *Shield) updateCounters(d models.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluationCount++
	switch d {
	case models.DecisionBlock, models.DecisionFreeze:
		s.blockCount++
	case models.DecisionAdvise:
		s.advisoryCount++
	}
}

// Counters returns the running evaluation/block/advisory totals.
func (s *Shield) Counters() (evaluations, blocks, advisories int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evaluationCount, s.blockCount, s.advisoryCount
}

// maybeAutoFreeze trips the shield into a frozen state once the recent
// decision history shows the autoFreezeThreshold-of-autoFreezeWindow
// block/freeze ratio spec.md §5 requires. It never auto-unfreezes — an
// operator must call Unfreeze explicitly.
func (s *Shield) maybeAutoFreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen || len(s.recentDecisions) < autoFreezeWindow {
		return
	}
	bad := 0
	for _, d := range s.recentDecisions {
		if d == models.DecisionBlock || d == models.DecisionFreeze {
			bad++
		}
	}
	if bad >= autoFreezeThreshold {
		s.frozen = true
		s.freezeReason = fmt.Sprintf("auto-freeze: %d of the last %d evaluations were block/freeze", bad, autoFreezeWindow)
	}
}

// Freeze manually forces the shield into a frozen state.
func (s *Shield) Freeze(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	s.freezeReason = reason
}

// Unfreeze lifts a freeze, manual or automatic.
func (s *Shield) Unfreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = false
	s.freezeReason = ""
	s.recentDecisions = nil
}

// FreezeReason returns the reason the shield was last frozen, or "" if
// it isn't currently frozen.
func (s *Shield) FreezeReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freezeReason
}

// IsFrozen reports the current frozen state.
func (s *Shield) IsFrozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Policy returns a deep-copied snapshot of the live policy.
func (s *Shield) Policy() models.SecurityPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.Clone()
}

// guardrailError is returned by UpdatePolicy when a proposed policy
// fails a basic sanity check — never an internal error, always a
// caller-fixable one.
type guardrailError struct {
	reason string
}

func (e *guardrailError) Error() string { return "policy guardrail violation: " + e.reason }

// UpdatePolicy validates and atomically swaps in a new policy, bumping
// its version. spec.md §5 requires every update to pass basic
// guardrails before taking effect — a malformed policy must never
// silently degrade enforcement.
func (s *Shield) UpdatePolicy(next models.SecurityPolicy) error {
	if err := validatePolicyGuardrails(next); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next.Version = s.policy.Version + 1
	s.policy = next
	return nil
}

// validatePolicyGuardrails enforces spec.md §4.3's updatePolicy
// guardrails: at least one tier, and at least one tier running in
// guardian or fortress mode — a policy built entirely from audit/
// copilot tiers would never actually block anything, which defeats the
// point of having tiers at all.
func validatePolicyGuardrails(p models.SecurityPolicy) error {
	if len(p.Tiers) == 0 {
		return &guardrailError{reason: "policy must define at least one security tier"}
	}
	seen := make(map[string]bool, len(p.Tiers))
	hasEnforcingTier := false
	for _, t := range p.Tiers {
		if strings.TrimSpace(t.ID) == "" {
			return &guardrailError{reason: "every tier must have a non-empty id"}
		}
		if seen[t.ID] {
			return &guardrailError{reason: fmt.Sprintf("duplicate tier id %q", t.ID)}
		}
		seen[t.ID] = true
		if t.BlockThreshold < 0 || t.BlockThreshold > 100 {
			return &guardrailError{reason: fmt.Sprintf("tier %q blockThreshold must be in [0,100]", t.ID)}
		}
		if t.Mode == models.ModeGuardian || t.Mode == models.ModeFortress {
			hasEnforcingTier = true
		}
	}
	if !hasEnforcingTier {
		return &guardrailError{reason: "policy must define at least one tier in guardian or fortress mode"}
	}
	return nil
}

// AuditHistory returns the n most recent audit entries, newest first.
func (s *Shield) AuditHistory(n int) []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.recent(n)
}

func summarizeContext(conv *models.ConversationContext) models.ContextSummary {
	if conv == nil {
		return models.ContextSummary{}
	}
	return models.ContextSummary{
		MessageCount: len(conv.Messages),
		SourceID:     conv.Source.Identifier,
	}
}
