package models

import "github.com/holiman/uint256"

// EnforcementMode selects how strictly a tier enforces its verdicts.
type EnforcementMode string

const (
	ModeAudit    EnforcementMode = "audit"
	ModeCopilot  EnforcementMode = "copilot"
	ModeGuardian EnforcementMode = "guardian"
	ModeFortress EnforcementMode = "fortress"
)

// TierTriggers lets a tier match a transaction directly, bypassing the
// value-at-risk bracket.
type TierTriggers struct {
	MinValueAtRiskUsd float64  `json:"minValueAtRiskUsd"`
	MaxValueAtRiskUsd float64  `json:"maxValueAtRiskUsd"`
	TargetAddresses   []string `json:"targetAddresses,omitempty"`
	FunctionSignatures []string `json:"functionSignatures,omitempty"`
}

// SecurityTierConfig bundles a named enforcement posture.
type SecurityTierConfig struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	Triggers               TierTriggers    `json:"triggers"`
	Mode                   EnforcementMode `json:"mode"`
	BlockThreshold         int             `json:"blockThreshold"`
	HumanApprovalRequired  bool            `json:"humanApprovalRequired"`
	OperatorNotification   bool            `json:"operatorNotification"`
	TimeLockSeconds        int             `json:"timeLockSeconds,omitempty"`
	OnChainProofRequired   bool            `json:"onChainProofRequired"`
}

// Allowlist holds the addresses, contracts, and protocols policy trusts.
// Only Addresses is consulted (by the Address Checker); Contracts and
// Protocols are carried and cloned but no stage reads them.
type Allowlist struct {
	Addresses []string `json:"addresses,omitempty"`
	Contracts []string `json:"contracts,omitempty"`
	Protocols []string `json:"protocols,omitempty"`
}

// Denylist holds addresses and calldata patterns. Only Addresses is
// enforced (by the Address Checker); no stage matches calldata against
// Patterns.
type Denylist struct {
	Addresses []string `json:"addresses,omitempty"`
	Patterns  []string `json:"patterns,omitempty"`
}

// GlobalLimits bound every transaction regardless of matched tier.
type GlobalLimits struct {
	MaxTransactionValueWei *uint256.Int `json:"maxTransactionValueWei"`
	MaxDailyVolumeWei      *uint256.Int `json:"maxDailyVolumeWei"`
	MaxApprovalWei         *uint256.Int `json:"maxApprovalWei"`
	MaxGasPriceGwei        *uint256.Int `json:"maxGasPriceGwei,omitempty"`
}

// BehavioralSensitivity selects how many standard deviations of
// deviation from baseline count as anomalous (spec.md §4.2 stage 6).
type BehavioralSensitivity string

const (
	SensitivityLow    BehavioralSensitivity = "low"
	SensitivityMedium BehavioralSensitivity = "medium"
	SensitivityHigh   BehavioralSensitivity = "high"
)

// StdDevMultiplier maps sensitivity to its threshold multiplier.
func (s BehavioralSensitivity) StdDevMultiplier() float64 {
	switch s {
	case SensitivityLow:
		return 4.0
	case SensitivityHigh:
		return 1.5
	default: // medium, and any unrecognized value
		return 2.5
	}
}

// BehavioralConfig toggles and tunes the Behavioral Comparator stage.
type BehavioralConfig struct {
	Enabled           bool                  `json:"enabled"`
	LearningWindowDays int                  `json:"learningWindowDays"`
	Sensitivity       BehavioralSensitivity `json:"sensitivity"`
}

// ContextAnalysisConfig toggles and tunes the Context Analyzer stage.
type ContextAnalysisConfig struct {
	Enabled                  bool     `json:"enabled"`
	CheckCoherence           bool     `json:"checkCoherence"`
	CheckEscalation          bool     `json:"checkEscalation"`
	CoherenceKeywords        []string `json:"coherenceKeywords,omitempty"`
	CustomSuspiciousPatterns []string `json:"customSuspiciousPatterns,omitempty"`
}

// ValueAssessorConfig tunes §4.2 stage 3 and carries the configurable
// infinite-approval USD clamp (spec.md §9 open question).
type ValueAssessorConfig struct {
	NativeUsdPrice            float64            `json:"nativeUsdPrice"`
	TokenUsdPrices            map[string]float64 `json:"tokenUsdPrices,omitempty"`
	InfiniteApprovalClampUsd  float64            `json:"infiniteApprovalClampUsd"`
}

// SecurityPolicy is the ordered set of tiers plus allow/deny lists,
// global limits, and per-stage configuration. Mutated only through
// updatePolicy, which atomically replaces it after validating guardrails.
type SecurityPolicy struct {
	Version     int                   `json:"version"`
	Tiers       []SecurityTierConfig  `json:"tiers"`
	Allowlist   Allowlist             `json:"allowlist"`
	Denylist    Denylist              `json:"denylist"`
	Limits      GlobalLimits          `json:"limits"`
	Behavioral  BehavioralConfig      `json:"behavioral"`
	ContextCfg  ContextAnalysisConfig `json:"contextAnalysis"`
	ValueCfg    ValueAssessorConfig   `json:"valueAssessor"`
}

// Clone returns a deep copy suitable for presenting to custom middleware
// as an immutable snapshot (spec.md §4.2 stage 7 / §9 sandboxing note).
func (p SecurityPolicy) Clone() SecurityPolicy {
	out := p
	out.Tiers = append([]SecurityTierConfig(nil), p.Tiers...)
	for i := range out.Tiers {
		out.Tiers[i].Triggers.TargetAddresses = append([]string(nil), p.Tiers[i].Triggers.TargetAddresses...)
		out.Tiers[i].Triggers.FunctionSignatures = append([]string(nil), p.Tiers[i].Triggers.FunctionSignatures...)
	}
	out.Allowlist.Addresses = append([]string(nil), p.Allowlist.Addresses...)
	out.Allowlist.Contracts = append([]string(nil), p.Allowlist.Contracts...)
	out.Allowlist.Protocols = append([]string(nil), p.Allowlist.Protocols...)
	out.Denylist.Addresses = append([]string(nil), p.Denylist.Addresses...)
	out.Denylist.Patterns = append([]string(nil), p.Denylist.Patterns...)
	out.ContextCfg.CoherenceKeywords = append([]string(nil), p.ContextCfg.CoherenceKeywords...)
	out.ContextCfg.CustomSuspiciousPatterns = append([]string(nil), p.ContextCfg.CustomSuspiciousPatterns...)
	if p.ValueCfg.TokenUsdPrices != nil {
		out.ValueCfg.TokenUsdPrices = make(map[string]float64, len(p.ValueCfg.TokenUsdPrices))
		for k, v := range p.ValueCfg.TokenUsdPrices {
			out.ValueCfg.TokenUsdPrices[k] = v
		}
	}
	return out
}
