package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultBudget indicates the configured default run budget is not positive.
var ErrInvalidDefaultBudget = errors.New("default run budget must be positive")

// minBudget is the smallest budget the lock layer supports; anything below
// it would expire before the handler could observably start.
const minBudget = time.Second

// BudgetSource identifies how a run budget was resolved.
type BudgetSource string

const (
	// BudgetSourceExplicit indicates the caller supplied a positive duration.
	BudgetSourceExplicit BudgetSource = "explicit"
	// BudgetSourceDefault indicates the configured default was used.
	BudgetSourceDefault BudgetSource = "default"
	// BudgetSourceClamped indicates the requested duration was raised to the minimum supported value.
	BudgetSourceClamped BudgetSource = "clamped"
)

// BudgetPolicy normalises maximum run durations. The budget doubles as the
// lock expiry bound: a handler that overruns it risks concurrent reclaim,
// so deployments set the default generously above their slowest handler.
type BudgetPolicy struct {
	defaultBudget time.Duration
}

// NewBudgetPolicy constructs a BudgetPolicy with the provided default.
func NewBudgetPolicy(defaultBudget time.Duration) (*BudgetPolicy, error) {
	if defaultBudget <= 0 {
		return nil, ErrInvalidDefaultBudget
	}
	return &BudgetPolicy{defaultBudget: defaultBudget}, nil
}

// Default returns the configured default run budget.
func (p *BudgetPolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultBudget
}

// BudgetDecision captures the outcome of resolving a budget request.
type BudgetDecision struct {
	TTL       time.Duration
	Source    BudgetSource
	Requested time.Duration
}

// UsedDefault reports whether the policy fell back to the default budget.
func (d BudgetDecision) UsedDefault() bool {
	return d.Source == BudgetSourceDefault
}

// Clamped reports whether the requested value was raised to the minimum.
func (d BudgetDecision) Clamped() bool {
	return d.Source == BudgetSourceClamped
}

// Resolve normalises the requested duration. Zero means "use the default";
// negative or sub-second requests are clamped to the minimum.
func (p *BudgetPolicy) Resolve(request time.Duration) BudgetDecision {
	if p == nil {
		return BudgetDecision{TTL: minBudget, Source: BudgetSourceClamped, Requested: request}
	}

	decision := BudgetDecision{Requested: request}

	switch {
	case request >= minBudget:
		decision.TTL = request
		decision.Source = BudgetSourceExplicit
	case request > 0:
		decision.TTL = minBudget
		decision.Source = BudgetSourceClamped
	case request == 0:
		decision.TTL = p.defaultBudget
		decision.Source = BudgetSourceDefault
	default:
		decision.TTL = minBudget
		decision.Source = BudgetSourceClamped
	}
	return decision
}
