package policy

import (
	"fmt"
	"sync"
)

// DefaultWarnAtPercent is the utilization at which a budget warning fires.
const DefaultWarnAtPercent = 80.0

// BudgetManager tracks spend against the monthly cost and daily token limits.
// Spend only ever grows.
type BudgetManager struct {
	mu            sync.Mutex
	state         BudgetState
	warnAtPercent float64
}

// NewBudgetManager creates a manager starting from state. A non-positive
// warnAtPercent selects DefaultWarnAtPercent.
func NewBudgetManager(state BudgetState, warnAtPercent float64) *BudgetManager {
	if warnAtPercent <= 0 {
		warnAtPercent = DefaultWarnAtPercent
	}
	return &BudgetManager{state: state, warnAtPercent: warnAtPercent}
}

// State returns a copy of the current budget state.
func (b *BudgetManager) State() BudgetState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsBudgetAvailable reports whether cost and tokens fit in both limits.
// A zero limit denies every request, including an empty one.
func (b *BudgetManager) IsBudgetAvailable(cost float64, tokens int64) bool {
	return b.Allow(cost, tokens) == nil
}

// Allow is IsBudgetAvailable with the reason for a denial, wrapping
// ErrBudgetExceeded.
func (b *BudgetManager) Allow(cost float64, tokens int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state
	if s.MonthlyCostLimit == 0 || (s.MonthlyCostLimit > 0 && s.MonthlyCostSpent+cost > s.MonthlyCostLimit) {
		return fmt.Errorf("%w: monthly cost %.4f + %.4f exceeds limit %.2f",
			ErrBudgetExceeded, s.MonthlyCostSpent, cost, s.MonthlyCostLimit)
	}
	if s.DailyTokenLimit == 0 || (s.DailyTokenLimit > 0 && s.DailyTokenSpent+tokens > s.DailyTokenLimit) {
		return fmt.Errorf("%w: daily tokens %d + %d exceed limit %d",
			ErrBudgetExceeded, s.DailyTokenSpent, tokens, s.DailyTokenLimit)
	}
	return nil
}

// AddSpending records actual spend. Negative amounts are ignored.
func (b *BudgetManager) AddSpending(cost float64, tokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cost > 0 {
		b.state.MonthlyCostSpent += cost
	}
	if tokens > 0 {
		b.state.DailyTokenSpent += tokens
	}
}

// RemainingBudget returns what is left on each axis, never below zero.
func (b *BudgetManager) RemainingBudget() (monthlyCost float64, dailyTokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	monthlyCost = max(0, b.state.MonthlyCostLimit-b.state.MonthlyCostSpent)
	dailyTokens = max(0, b.state.DailyTokenLimit-b.state.DailyTokenSpent)
	return monthlyCost, dailyTokens
}

// UtilizationPercentage returns spend as a percentage of each limit.
// Axes with a non-positive limit report zero.
func (b *BudgetManager) UtilizationPercentage() (monthlyCost, dailyTokens float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.utilization()
}

func (b *BudgetManager) utilization() (monthlyCost, dailyTokens float64) {
	if b.state.MonthlyCostLimit > 0 {
		monthlyCost = b.state.MonthlyCostSpent * 100 / b.state.MonthlyCostLimit
	}
	if b.state.DailyTokenLimit > 0 {
		dailyTokens = float64(b.state.DailyTokenSpent) * 100 / float64(b.state.DailyTokenLimit)
	}
	return monthlyCost, dailyTokens
}

// IsWarningThresholdExceeded reports whether either axis reached the warning
// percentage. It is advisory and never blocks admission.
func (b *BudgetManager) IsWarningThresholdExceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	monthly, daily := b.utilization()
	return monthly >= b.warnAtPercent || daily >= b.warnAtPercent
}
