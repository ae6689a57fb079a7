package stages

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Kweiss/Wardex/internal/pipeline"
	"github.com/Kweiss/Wardex/pkg/models"
)

// minBehavioralSamples is the smallest baseline size the comparator will
// trust; below it every transaction is "normal" by default, mirroring
// the teacher's own len(txTimes) < 3 bail-out in
// internal/heuristics/behavioral_analysis.go's AnalyzeBehavioralPattern.
const minBehavioralSamples = 5

// behavioralFrequencyWindow is the rolling window the frequency-anomaly
// detector counts transactions within, generalizing the teacher's
// TxFrequency ("transactions per day") to a shorter window more useful
// for catching a burst in flight rather than after a day has elapsed.
const behavioralFrequencyWindow = time.Hour

// behavioralFrequencyHistory bounds how many windows of timestamp
// history a profile retains for the frequency comparison, so a
// long-lived source's memory footprint doesn't grow without bound.
const behavioralFrequencyHistory = 24 * behavioralFrequencyWindow

// behavioralProfile is a running (count, mean, M2) Welford accumulator
// per conversation source, generalizing the teacher's batch
// mean/stddev-of-intervals computation (computeRegularity) to an
// online update suitable for a long-lived per-source baseline instead
// of a single fixed transaction set. hourCounts and contracts extend
// the same baseline to the other signals spec.md §4.2 stage 6 names:
// an active-hours histogram and a known-contract set, generalizing the
// teacher's hourCounts[24] peak-hour histogram
// (behavioral_analysis.go's AnalyzeBehavioralPattern) from a one-shot
// batch computation to an online one.
type behavioralProfile struct {
	count     int
	mean      float64
	m2        float64
	firstSeen time.Time

	hourCounts  [24]int
	contracts   map[string]struct{}
	recentTimes []time.Time
}

func (p *behavioralProfile) stddev() float64 {
	if p.count < 2 {
		return 0
	}
	return math.Sqrt(p.m2 / float64(p.count-1))
}

func (p *behavioralProfile) update(value float64, now time.Time, target string) {
	if p.count == 0 {
		p.firstSeen = now
	}
	p.count++
	delta := value - p.mean
	p.mean += delta / float64(p.count)
	delta2 := value - p.mean
	p.m2 += delta * delta2

	p.hourCounts[now.UTC().Hour()]++

	if target != "" {
		if p.contracts == nil {
			p.contracts = make(map[string]struct{})
		}
		p.contracts[target] = struct{}{}
	}

	p.recentTimes = append(p.recentTimes, now)
	cutoff := now.Add(-behavioralFrequencyHistory)
	kept := p.recentTimes[:0]
	for _, t := range p.recentTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.recentTimes = kept
}

// behavioralBaseline tracks one profile per conversation source,
// process-global the same way internal/stages/context_analyzer.go's
// globalEscalationTracker persists across evaluations.
type behavioralBaseline struct {
	mu       sync.Mutex
	profiles map[string]*behavioralProfile
}

var globalBehavioralBaseline = &behavioralBaseline{profiles: make(map[string]*behavioralProfile)}

// behavioralSnapshot is a defensive copy of a profile's read side, so
// the comparator can run its (possibly expensive) anomaly checks
// without holding the baseline's lock.
type behavioralSnapshot struct {
	mean, stddev float64
	count        int
	firstSeen    time.Time
	hourCounts   [24]int
	contracts    map[string]struct{}
	recentTimes  []time.Time
}

// compare reports the value-anomaly-relevant subset of a profile
// snapshot, kept for callers (and existing tests) that only need the
// Welford accumulator.
func (b *behavioralBaseline) compare(sourceID string) (mean, stddev float64, count int, ok bool) {
	snap, ok := b.snapshot(sourceID)
	if !ok {
		return 0, 0, 0, false
	}
	return snap.mean, snap.stddev, snap.count, true
}

// snapshot reports the full profile snapshot for sourceID (before any
// update), or ok=false if no profile exists yet.
func (b *behavioralBaseline) snapshot(sourceID string) (behavioralSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, found := b.profiles[sourceID]
	if !found {
		return behavioralSnapshot{}, false
	}
	contracts := make(map[string]struct{}, len(p.contracts))
	for k := range p.contracts {
		contracts[k] = struct{}{}
	}
	return behavioralSnapshot{
		mean:        p.mean,
		stddev:      p.stddev(),
		count:       p.count,
		firstSeen:   p.firstSeen,
		hourCounts:  p.hourCounts,
		contracts:   contracts,
		recentTimes: append([]time.Time(nil), p.recentTimes...),
	}, true
}

// record folds a new observation into sourceID's baseline. Per spec.md
// §4.2 stage 6's poisoning-resistance rule, once a profile has matured
// past the learning window it only accepts observations from
// transactions the Policy Engine actually approved — an attacker cannot
// drag a mature baseline toward their own fraudulent value by flooding
// it with transactions that get blocked anyway. During the learning
// window every observation counts, approved or not, so the baseline has
// something to start from.
func (b *behavioralBaseline) record(sourceID string, usdValue float64, target string, now time.Time, approved bool, learningWindowDays int) {
	if sourceID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	p, found := b.profiles[sourceID]
	if !found {
		p = &behavioralProfile{}
		b.profiles[sourceID] = p
	}
	matured := found && learningWindowDays > 0 && now.Sub(p.firstSeen) > time.Duration(learningWindowDays)*24*time.Hour
	if matured && !approved {
		return
	}
	p.update(usdValue, now, target)
}

// RecordBehavioralObservation is called by the shield once a verdict is
// known (internal/shield/shield.go), after the full pipeline — including
// this stage's own read-only comparison — has already run.
func RecordBehavioralObservation(sourceID string, usdValue float64, targetAddress string, approved bool, learningWindowDays int) {
	globalBehavioralBaseline.record(sourceID, usdValue, strings.ToLower(targetAddress), time.Now(), approved, learningWindowDays)
}

// NewBehavioralComparator builds the Behavioral Comparator stage
// (spec.md §4.2 stage 6): compares the transaction against the
// source's historical baseline along four axes — value, target
// contract, transaction frequency, and time-of-day — and flags a
// deviation beyond the policy's configured sensitivity.
func NewBehavioralComparator() pipeline.Stage {
	return pipeline.StageFunc{StageName: "behavioral_comparator", Fn: func(ctx *pipeline.EvaluationContext, next func()) {
		cfg := ctx.Policy.Behavioral
		if !cfg.Enabled || ctx.Conversation == nil || ctx.Decoded == nil {
			next()
			return
		}

		sourceID := ctx.Conversation.Source.Identifier
		if sourceID == "" {
			sourceID = string(ctx.Conversation.Source.Type)
		}

		snap, ok := globalBehavioralBaseline.snapshot(sourceID)
		matured := ok && snap.count >= minBehavioralSamples
		multiplier := cfg.Sensitivity.StdDevMultiplier()
		now := time.Now()

		if matured && snap.stddev > 0 {
			checkValueAnomaly(ctx, snap, multiplier)
		}
		if matured {
			checkNewContract(ctx, snap)
			checkTimingAnomaly(ctx, snap, now)
			checkFrequencyAnomaly(ctx, snap, multiplier, now)
		}

		ctx.Scores.Behavioral = clampScore(weightedSeveritySum(ctx.Reasons, models.SourceBehavioral))
		next()
	}}
}

func checkValueAnomaly(ctx *pipeline.EvaluationContext, snap behavioralSnapshot, multiplier float64) {
	value := ctx.Decoded.EstimatedValueUsd
	zscore := math.Abs(value-snap.mean) / snap.stddev
	if zscore < multiplier {
		return
	}
	severity := models.SeverityMedium
	if zscore >= multiplier*2 {
		severity = models.SeverityHigh
	}
	ctx.AddReason(models.SecurityReason{
		Code:     "BEHAVIORAL_ANOMALY",
		Message:  fmt.Sprintf("transaction value deviates %.1f standard deviations from the source's historical baseline", zscore),
		Severity: severity,
		Source:   models.SourceBehavioral,
	})
}

// checkNewContract flags a target the source's baseline has never
// interacted with, generalizing the Address Checker's NEW_ADDRESS
// finding (single-evaluation provider data) to the source's own
// transaction history instead.
func checkNewContract(ctx *pipeline.EvaluationContext, snap behavioralSnapshot) {
	if len(snap.contracts) == 0 {
		return
	}
	to := strings.ToLower(ctx.Transaction.To)
	if _, seen := snap.contracts[to]; seen {
		return
	}
	ctx.AddReason(models.SecurityReason{
		Code:     "NEW_CONTRACT",
		Message:  fmt.Sprintf("%s has never received a transaction from this source before", to),
		Severity: models.SeverityMedium,
		Source:   models.SourceBehavioral,
	})
}

// checkTimingAnomaly flags a transaction proposed at an hour the
// source's active-hours histogram has never recorded activity in,
// generalizing the teacher's peak-hour histogram
// (behavioral_analysis.go's hourCounts) from an offline timezone
// inference to an online outside-the-pattern check.
func checkTimingAnomaly(ctx *pipeline.EvaluationContext, snap behavioralSnapshot, now time.Time) {
	total := 0
	for _, c := range snap.hourCounts {
		total += c
	}
	if total < minBehavioralSamples {
		return
	}
	hour := now.UTC().Hour()
	if snap.hourCounts[hour] > 0 {
		return
	}
	ctx.AddReason(models.SecurityReason{
		Code:     "TIMING_ANOMALY",
		Message:  fmt.Sprintf("source has never transacted at hour %02d:00 UTC before", hour),
		Severity: models.SeverityLow,
		Source:   models.SourceBehavioral,
	})
}

// checkFrequencyAnomaly flags a burst of transactions within
// behavioralFrequencyWindow well above the source's historical average
// rate, generalizing the teacher's TxFrequency computation
// (count / elapsed-days) to a shorter rolling window evaluated online.
func checkFrequencyAnomaly(ctx *pipeline.EvaluationContext, snap behavioralSnapshot, multiplier float64, now time.Time) {
	if len(snap.recentTimes) < minBehavioralSamples {
		return
	}
	span := now.Sub(snap.recentTimes[0])
	windows := span.Seconds() / behavioralFrequencyWindow.Seconds()
	if windows < 1 {
		return
	}
	avgPerWindow := float64(len(snap.recentTimes)) / windows
	if avgPerWindow <= 0 {
		return
	}

	cutoff := now.Add(-behavioralFrequencyWindow)
	current := 0
	for _, t := range snap.recentTimes {
		if t.After(cutoff) {
			current++
		}
	}
	// This evaluation's own transaction would join the window too.
	current++

	ratio := float64(current) / avgPerWindow
	if ratio < multiplier {
		return
	}
	severity := models.SeverityMedium
	if ratio >= multiplier*2 {
		severity = models.SeverityHigh
	}
	ctx.AddReason(models.SecurityReason{
		Code:     "FREQUENCY_ANOMALY",
		Message:  fmt.Sprintf("%d transactions in the last %s is %.1fx the source's historical average", current, behavioralFrequencyWindow, ratio),
		Severity: severity,
		Source:   models.SourceBehavioral,
	})
}
