// Package policy implements model selection, cost calculation and the
// budget gate consulted before a task is admitted.
package policy

import "github.com/aristath/taskweave/internal/errcode"

// ErrBudgetExceeded is returned when admission is denied by the budget gate.
var ErrBudgetExceeded = errcode.New("E5001", "budget exceeded")

// CostTier is the cost band a task asks for.
type CostTier string

const (
	CostTierLow    CostTier = "low"
	CostTierMedium CostTier = "medium"
	CostTierHigh   CostTier = "high"
)

// Valid reports whether t is a known tier. Empty is treated as medium.
func (t CostTier) Valid() bool {
	switch t {
	case "", CostTierLow, CostTierMedium, CostTierHigh:
		return true
	}
	return false
}

// ModelProfile is one immutable catalog entry.
type ModelProfile struct {
	ID                    string   `yaml:"id" json:"id"`
	Provider              string   `yaml:"provider" json:"provider"`
	Model                 string   `yaml:"model" json:"model"`
	CostPer1kInputTokens  float64  `yaml:"costPer1kInputTokens" json:"costPer1kInputTokens"`
	CostPer1kOutputTokens float64  `yaml:"costPer1kOutputTokens" json:"costPer1kOutputTokens"`
	MaxTokensPerCall      int      `yaml:"maxTokensPerCall" json:"maxTokensPerCall"`
	QualityTags           []string `yaml:"qualityTags" json:"qualityTags"`
	DefaultUse            []string `yaml:"defaultUse" json:"defaultUse"`
	Tier                  int      `yaml:"tier" json:"tier"`
}

// TaskAttributes are the task inputs to model selection.
type TaskAttributes struct {
	CostTier       CostTier
	ComplexityHint string
}

// Cost is the priced breakdown of a token count.
type Cost struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
}

// BudgetState holds spend and limits. A negative limit means unlimited;
// a zero limit permits no spending at all.
type BudgetState struct {
	MonthlyCostSpent float64 `json:"monthlyCostSpent"`
	MonthlyCostLimit float64 `json:"monthlyCostLimit"`
	DailyTokenSpent  int64   `json:"dailyTokenSpent"`
	DailyTokenLimit  int64   `json:"dailyTokenLimit"`
}
