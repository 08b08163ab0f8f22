package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskweave/internal/policy"
	"github.com/aristath/taskweave/internal/scheduler"
)

// RecordSpend appends one entry to the spend ledger. Entries are never
// updated or removed.
func (s *SQLiteStore) RecordSpend(ctx context.Context, rec scheduler.SpendRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spend (run_id, task_id, model, input_tokens, output_tokens, cost_usd, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.TaskID, rec.Model, rec.InputTokens, rec.OutputTokens, rec.CostUSD, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to record spend: %w", err)
	}
	return nil
}

// SpendSince sums the ledger from since onwards.
func (s *SQLiteStore) SpendSince(ctx context.Context, since time.Time) (cost float64, tokens int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0), COALESCE(SUM(input_tokens + output_tokens), 0)
		FROM spend
		WHERE recorded_at >= ?
	`, since.UTC().Format(timeLayout)).Scan(&cost, &tokens)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return cost, tokens, nil
}

// BudgetState builds the starting budget for a run: cost spent since the
// start of now's month and tokens spent since the start of now's day,
// against the given limits.
func BudgetState(ctx context.Context, s Store, now time.Time, monthlyLimit float64, dailyTokenLimit int64) (policy.BudgetState, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	monthCost, _, err := s.SpendSince(ctx, monthStart)
	if err != nil {
		return policy.BudgetState{}, err
	}
	_, dayTokens, err := s.SpendSince(ctx, dayStart)
	if err != nil {
		return policy.BudgetState{}, err
	}
	return policy.BudgetState{
		MonthlyCostSpent: monthCost,
		MonthlyCostLimit: monthlyLimit,
		DailyTokenSpent:  dayTokens,
		DailyTokenLimit:  dailyTokenLimit,
	}, nil
}
