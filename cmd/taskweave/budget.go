package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskweave/internal/persistence"
	"github.com/aristath/taskweave/internal/policy"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show spend against the monthly and daily limits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := persistence.BudgetState(ctx, a.store, time.Now(), a.cfg.Budget.MonthlyLimitUSD, a.cfg.Budget.DailyTokenLimit)
		if err != nil {
			return err
		}
		bm := policy.NewBudgetManager(state, a.cfg.Budget.WarnAtPercent)
		monthPct, dayPct := bm.UtilizationPercentage()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, styleTitle.Render("Budget"))
		fmt.Fprintf(out, "monthly cost   $%.4f of %s  %s\n", state.MonthlyCostSpent, costLimit(state.MonthlyCostLimit), percent(monthPct, state.MonthlyCostLimit > 0))
		fmt.Fprintf(out, "daily tokens   %d of %s  %s\n", state.DailyTokenSpent, tokenLimit(state.DailyTokenLimit), percent(dayPct, state.DailyTokenLimit > 0))
		if bm.IsWarningThresholdExceeded() {
			fmt.Fprintf(out, "%s Spend is above the %.0f%% warning threshold\n", warnMark(), a.cfg.Budget.WarnAtPercent)
		}
		return nil
	},
}

func costLimit(limit float64) string {
	if limit < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", limit)
}

func tokenLimit(limit int64) string {
	if limit < 0 {
		return "unlimited"
	}
	return fmt.Sprint(limit)
}

func percent(p float64, limited bool) string {
	if !limited {
		return ""
	}
	s := fmt.Sprintf("(%.1f%%)", p)
	switch {
	case p >= 100:
		return styleFailed.Render(s)
	case p >= 80:
		return styleRunning.Render(s)
	default:
		return styleSucceeded.Render(s)
	}
}
