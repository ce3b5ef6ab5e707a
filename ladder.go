package summarizer

import (
	"fmt"
	"sort"
)

// TierLadder is the rank-ordered list of model tiers a request escalates through.
type TierLadder struct {
	tiers []ModelTier
}

// NewTierLadder sorts tiers by rank and validates them.
// Ranks must be unique, IDs must be unique and non-empty.
func NewTierLadder(tiers []ModelTier) (*TierLadder, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}

	sorted := make([]ModelTier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Rank < sorted[j].Rank
	})

	ids := make(map[string]bool, len(sorted))
	for i, t := range sorted {
		if t.ID == "" {
			return nil, fmt.Errorf("summarizer: tier[%d]: id is required", i)
		}
		if ids[t.ID] {
			return nil, fmt.Errorf("summarizer: duplicate tier id %q", t.ID)
		}
		ids[t.ID] = true

		if t.DailyQuota < 0 || t.RPMQuota < 0 {
			return nil, fmt.Errorf("summarizer: tier %q: quotas must not be negative", t.ID)
		}
		if i > 0 && sorted[i-1].Rank == t.Rank {
			return nil, fmt.Errorf("summarizer: tiers %q and %q share rank %d", sorted[i-1].ID, t.ID, t.Rank)
		}
	}

	return &TierLadder{tiers: sorted}, nil
}

// Len returns the number of tiers.
func (l *TierLadder) Len() int { return len(l.tiers) }

// Tier returns the tier at position i.
func (l *TierLadder) Tier(i int) ModelTier { return l.tiers[i] }

// Tiers returns a copy of the tiers in rank order.
func (l *TierLadder) Tiers() []ModelTier {
	out := make([]ModelTier, len(l.tiers))
	copy(out, l.tiers)
	return out
}

// ladderState is a state of the per-request escalation machine.
type ladderState int

const (
	stateAttempting ladderState = iota
	stateBackoff
	stateEscalate
	stateDelivered
	stateExhausted
	stateFatal
	stateCanceled
)

func (s ladderState) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateBackoff:
		return "backoff"
	case stateEscalate:
		return "escalate"
	case stateDelivered:
		return "delivered"
	case stateExhausted:
		return "exhausted"
	case stateFatal:
		return "fatal"
	case stateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (s ladderState) terminal() bool {
	switch s {
	case stateDelivered, stateExhausted, stateFatal, stateCanceled:
		return true
	default:
		return false
	}
}

type transitionKey struct {
	outcome  Outcome
	canRetry bool
}

// transitions maps an attempt outcome, and whether the tier still has retry
// budget, to the next state. Only RateLimited depends on the budget.
var transitions = map[transitionKey]ladderState{
	{OutcomeSuccess, true}:             stateDelivered,
	{OutcomeSuccess, false}:            stateDelivered,
	{OutcomeRateLimited, true}:         stateBackoff,
	{OutcomeRateLimited, false}:        stateEscalate,
	{OutcomeDailyExhausted, true}:      stateEscalate,
	{OutcomeDailyExhausted, false}:     stateEscalate,
	{OutcomeUnavailable, true}:         stateEscalate,
	{OutcomeUnavailable, false}:        stateEscalate,
	{OutcomeTierQuotaExhausted, true}:  stateEscalate,
	{OutcomeTierQuotaExhausted, false}: stateEscalate,
	{OutcomeFatal, true}:               stateFatal,
	{OutcomeFatal, false}:              stateFatal,
}

// nextState looks up the transition for an outcome. Unknown outcomes are fatal.
func nextState(o Outcome, canRetry bool) ladderState {
	s, ok := transitions[transitionKey{outcome: o, canRetry: canRetry}]
	if !ok {
		return stateFatal
	}
	return s
}

// escalate moves rc to the next tier. It returns stateExhausted when the ladder has no more tiers.
func escalate(rc *RetryContext, ladderLen int) ladderState {
	if rc.TierIndex+1 >= ladderLen {
		return stateExhausted
	}
	rc.TierIndex++
	rc.AttemptWithinTier = 0
	return stateAttempting
}
