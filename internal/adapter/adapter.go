// Package adapter defines the capability interface through which tasks are
// executed by external code-generation tools, and its implementations.
package adapter

import (
	"context"

	"github.com/aristath/taskweave/internal/errcode"
)

// ErrAdapterFailure marks an unexpected error raised by an adapter, as opposed
// to a failure the adapter reported in its result.
var ErrAdapterFailure = errcode.New("E4001", "adapter failure")

// Adapter executes and reviews tasks with one external tool.
type Adapter interface {
	// Name identifies the adapter in task definitions and the registry.
	Name() string

	// IsAvailable reports whether the tool can be used right now.
	IsAvailable(ctx context.Context) bool

	// Execute runs the task inside tc.WorktreePath.
	Execute(ctx context.Context, tc TaskContext) (ExecutionResult, error)

	// Review judges a diff produced for the task.
	Review(ctx context.Context, tc TaskContext, diff string) (ReviewResult, error)

	// EstimateCost guesses the tokens Execute will use.
	EstimateCost(ctx context.Context, tc TaskContext) (CostEstimate, error)
}

// BaseAdapter supplies default Review and EstimateCost implementations.
// Embed it and implement IsAvailable and Execute.
type BaseAdapter struct {
	AdapterName string
}

func (b BaseAdapter) Name() string { return b.AdapterName }

// Review approves without looking at the diff.
func (b BaseAdapter) Review(ctx context.Context, tc TaskContext, diff string) (ReviewResult, error) {
	return ReviewResult{Approved: true, Summary: "No review performed", Comments: []ReviewComment{}}, nil
}

// EstimateCost returns a zero estimate attributed to the adapter.
func (b BaseAdapter) EstimateCost(ctx context.Context, tc TaskContext) (CostEstimate, error) {
	return CostEstimate{ModelID: b.AdapterName}, nil
}
