package policy

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func catalog() []ModelProfile {
	return []ModelProfile{
		{ID: "opus", Tier: 3, DefaultUse: []string{"complex"}, CostPer1kInputTokens: 0.015, CostPer1kOutputTokens: 0.075},
		{ID: "haiku", Tier: 1, DefaultUse: []string{"simple"}, CostPer1kInputTokens: 0.0008, CostPer1kOutputTokens: 0.004},
		{ID: "sonnet", Tier: 2, DefaultUse: []string{"moderate"}, CostPer1kInputTokens: 0.003, CostPer1kOutputTokens: 0.015},
		{ID: "sonnet-fast", Tier: 2, DefaultUse: []string{"simple"}, CostPer1kInputTokens: 0.003, CostPer1kOutputTokens: 0.015},
	}
}

func TestSelectModel(t *testing.T) {
	tests := []struct {
		name   string
		models []ModelProfile
		attrs  TaskAttributes
		want   string
	}{
		{name: "low picks min tier", models: catalog(), attrs: TaskAttributes{CostTier: CostTierLow}, want: "haiku"},
		{name: "high picks max tier", models: catalog(), attrs: TaskAttributes{CostTier: CostTierHigh}, want: "opus"},
		{name: "medium picks middle tier", models: catalog(), attrs: TaskAttributes{CostTier: CostTierMedium}, want: "sonnet"},
		{name: "complexity hint wins within tier", models: catalog(), attrs: TaskAttributes{CostTier: CostTierMedium, ComplexityHint: "simple"}, want: "sonnet-fast"},
		{name: "empty tier defaults to medium", models: catalog(), attrs: TaskAttributes{}, want: "sonnet"},
		{
			name:   "even tier count picks lower middle",
			models: []ModelProfile{{ID: "t1", Tier: 1}, {ID: "t2", Tier: 2}, {ID: "t3", Tier: 3}, {ID: "t4", Tier: 4}},
			attrs:  TaskAttributes{CostTier: CostTierMedium},
			want:   "t2",
		},
		{
			name:   "single tier uses all models",
			models: []ModelProfile{{ID: "a", Tier: 1}, {ID: "b", Tier: 1, DefaultUse: []string{"x"}}},
			attrs:  TaskAttributes{CostTier: CostTierMedium, ComplexityHint: "x"},
			want:   "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectModel(tt.models, tt.attrs)
			if got == nil {
				t.Fatalf("SelectModel() = nil, want %s", tt.want)
			}
			if got.ID != tt.want {
				t.Errorf("SelectModel() = %s, want %s", got.ID, tt.want)
			}
		})
	}
}

func TestSelectModelEmptyCatalog(t *testing.T) {
	if got := SelectModel(nil, TaskAttributes{CostTier: CostTierHigh}); got != nil {
		t.Errorf("SelectModel(nil) = %v, want nil", got)
	}
}

func TestEscalate(t *testing.T) {
	models := catalog()
	attrs := TaskAttributes{CostTier: CostTierLow}

	if got := Escalate(models, attrs, 0); got.ID != "haiku" {
		t.Errorf("Escalate(0) = %s, want haiku", got.ID)
	}
	if got := Escalate(models, attrs, 1); got.Tier != 2 {
		t.Errorf("Escalate(1) tier = %d, want 2", got.Tier)
	}
	if got := Escalate(models, attrs, 5); got.ID != "opus" {
		t.Errorf("Escalate(5) = %s, want opus (capped)", got.ID)
	}
}

func TestCalculateCost(t *testing.T) {
	model := ModelProfile{CostPer1kInputTokens: 0.003, CostPer1kOutputTokens: 0.015}
	got := CalculateCost(model, 1500, 500)

	if math.Abs(got.InputCost-0.0045) > 1e-12 {
		t.Errorf("InputCost = %v, want 0.0045", got.InputCost)
	}
	if math.Abs(got.OutputCost-0.0075) > 1e-12 {
		t.Errorf("OutputCost = %v, want 0.0075", got.OutputCost)
	}
	if math.Abs(got.TotalCost-0.012) > 1e-12 {
		t.Errorf("TotalCost = %v, want 0.012", got.TotalCost)
	}
}

func TestBudgetZeroLimitsDenyEverything(t *testing.T) {
	b := NewBudgetManager(BudgetState{}, 0)
	if b.IsBudgetAvailable(0, 0) {
		t.Errorf("zero limits must deny an empty request")
	}
	if err := b.Allow(0, 0); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("Allow() = %v, want ErrBudgetExceeded", err)
	}
}

func TestBudgetMonthlyLimit(t *testing.T) {
	b := NewBudgetManager(BudgetState{MonthlyCostSpent: 50, MonthlyCostLimit: 100, DailyTokenLimit: -1}, 0)

	if b.IsBudgetAvailable(60, 0) {
		t.Errorf("50 + 60 > 100 should be denied")
	}
	if !b.IsBudgetAvailable(10, 0) {
		t.Errorf("50 + 10 <= 100 should be approved")
	}
	if !b.IsBudgetAvailable(50, 0) {
		t.Errorf("reaching the limit exactly should be approved")
	}
}

func TestBudgetDailyTokens(t *testing.T) {
	b := NewBudgetManager(BudgetState{MonthlyCostLimit: 100, DailyTokenLimit: 1000}, 0)
	b.AddSpending(1, 900)

	err := b.Allow(0, 200)
	if !errors.Is(err, ErrBudgetExceeded) || !strings.Contains(err.Error(), "daily tokens") {
		t.Errorf("Allow() = %v, want daily token denial", err)
	}
}

func TestBudgetSpendingIsMonotonic(t *testing.T) {
	b := NewBudgetManager(BudgetState{MonthlyCostLimit: 10, DailyTokenLimit: 100}, 0)
	b.AddSpending(4, 40)
	b.AddSpending(-3, -30)

	s := b.State()
	if s.MonthlyCostSpent != 4 || s.DailyTokenSpent != 40 {
		t.Errorf("spend = %v/%d, want 4/40", s.MonthlyCostSpent, s.DailyTokenSpent)
	}

	b.AddSpending(20, 200)
	cost, tokens := b.RemainingBudget()
	if cost != 0 || tokens != 0 {
		t.Errorf("RemainingBudget() = %v/%d, want clamped 0/0", cost, tokens)
	}
}

func TestBudgetWarningThreshold(t *testing.T) {
	b := NewBudgetManager(BudgetState{MonthlyCostLimit: 100, DailyTokenLimit: 1000}, 80)

	b.AddSpending(79, 0)
	if b.IsWarningThresholdExceeded() {
		t.Errorf("79%% should not warn")
	}
	b.AddSpending(0, 800)
	if !b.IsWarningThresholdExceeded() {
		t.Errorf("80%% of daily tokens should warn")
	}
	monthly, daily := b.UtilizationPercentage()
	if monthly != 79 || daily != 80 {
		t.Errorf("UtilizationPercentage() = %v/%v, want 79/80", monthly, daily)
	}
	if !b.IsBudgetAvailable(1, 1) {
		t.Errorf("warning must not block admission")
	}
}

func TestParseModelProfiles(t *testing.T) {
	data := []byte(`
models:
  - id: sonnet
    provider: anthropic
    model: claude-sonnet-4
    costPer1kInputTokens: 0.003
    costPer1kOutputTokens: 0.015
    maxTokensPerCall: 8192
    qualityTags: [coding]
    defaultUse: [moderate]
    tier: 2
`)
	models, err := ParseModelProfiles(data)
	if err != nil {
		t.Fatalf("ParseModelProfiles() error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "sonnet" || models[0].Tier != 2 || models[0].MaxTokensPerCall != 8192 {
		t.Errorf("unexpected profiles: %+v", models)
	}
}

func TestParseModelProfilesFailsFast(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{name: "no models key", data: "other: 1\n", want: "models array"},
		{name: "missing tier", data: `
models:
  - id: a
    provider: p
    model: m
    costPer1kInputTokens: 1
    costPer1kOutputTokens: 1
    maxTokensPerCall: 1
    qualityTags: []
    defaultUse: []
`, want: "tier"},
		{name: "wrong type", data: `
models:
  - id: a
    provider: p
    model: m
    costPer1kInputTokens: cheap
`, want: "failed to parse model profiles"},
		{name: "second entry incomplete", data: `
models:
  - id: a
    provider: p
    model: m
    costPer1kInputTokens: 1
    costPer1kOutputTokens: 1
    maxTokensPerCall: 1
    qualityTags: []
    defaultUse: []
    tier: 1
  - id: b
`, want: "entry 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models, err := ParseModelProfiles([]byte(tt.data))
			if err == nil {
				t.Fatalf("expected error, got %d models", len(models))
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.want)
			}
		})
	}
}
