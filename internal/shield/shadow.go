package shield

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kweiss/Wardex/pkg/models"
)

// ShadowRunner evaluates a candidate policy against the same
// transaction/conversation pair the live Shield already evaluated,
// without ever enforcing the candidate's decision. It exists so an
// operator can validate a policy change against real traffic for days
// before promoting it with UpdatePolicy. Adapted from the teacher's
// internal/shadow/shadow_runner.go, which ran an experimental heuristic
// alongside production clustering and diffed the two non-destructively;
// here the two things being diffed are live vs. candidate verdicts
// instead of production vs. experimental cluster flags.
type ShadowRunner struct {
	pool       *pgxpool.Pool
	candidate  *Shield
	snapshotID int64
}

// ShadowResult captures one live-vs-candidate divergence.
type ShadowResult struct {
	EvaluationID      string    `json:"evaluationId"`
	LiveDecision      string    `json:"liveDecision"`
	CandidateDecision string    `json:"candidateDecision"`
	DeltaComposite    int       `json:"deltaComposite"`
	SnapshotID        int64     `json:"snapshotId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// NewShadowRunner builds a runner that compares a live Shield's verdict
// against a throwaway Shield running the candidate policy. pool may be
// nil, in which case results are computed but not persisted.
func NewShadowRunner(pool *pgxpool.Pool, candidatePolicy models.SecurityPolicy, snapshotID int64) *ShadowRunner {
	return &ShadowRunner{
		pool:       pool,
		candidate:  New(Config{Policy: candidatePolicy, AuditCapacity: auditRingCapacity}),
		snapshotID: snapshotID,
	}
}

// RunShadowEvaluation evaluates tx/conv against the candidate policy
// and diffs the result against the verdict the live Shield already
// produced, persisting the comparison if a pool was supplied.
func (sr *ShadowRunner) RunShadowEvaluation(ctx context.Context, tx models.TransactionRequest, conv *models.ConversationContext, liveVerdict *models.SecurityVerdict) (*ShadowResult, error) {
	candidateVerdict, err := sr.candidate.Evaluate(tx, conv)
	if err != nil {
		return nil, err
	}

	result := &ShadowResult{
		EvaluationID:      liveVerdict.EvaluationID,
		LiveDecision:      string(liveVerdict.Decision),
		CandidateDecision: string(candidateVerdict.Decision),
		DeltaComposite:    candidateVerdict.Scores.Composite - liveVerdict.Scores.Composite,
		SnapshotID:        sr.snapshotID,
		CreatedAt:         time.Now(),
	}

	if result.LiveDecision != result.CandidateDecision {
		log.Printf("[shadow] DIVERGENCE eval=%s live=%s candidate=%s delta_composite=%d",
			result.EvaluationID, result.LiveDecision, result.CandidateDecision, result.DeltaComposite)
	}

	if sr.pool != nil {
		if err := sr.persist(ctx, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

func (sr *ShadowRunner) persist(ctx context.Context, result *ShadowResult) error {
	const sql = `INSERT INTO shadow_results
		(evaluation_id, live_decision, candidate_decision, delta_composite, snapshot_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := sr.pool.Exec(ctx, sql,
		result.EvaluationID,
		result.LiveDecision,
		result.CandidateDecision,
		result.DeltaComposite,
		result.SnapshotID,
		result.CreatedAt,
	)
	return err
}

// DriftReport summarizes divergence between the candidate policy and
// live decisions for one snapshot.
func (sr *ShadowRunner) DriftReport(ctx context.Context) (totalRuns int, divergences int, avgDeltaComposite float64, err error) {
	const sql = `SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE live_decision != candidate_decision) AS divergences,
		COALESCE(AVG(delta_composite), 0) AS avg_delta
		FROM shadow_results WHERE snapshot_id = $1`

	row := sr.pool.QueryRow(ctx, sql, sr.snapshotID)
	err = row.Scan(&totalRuns, &divergences, &avgDeltaComposite)
	return
}
