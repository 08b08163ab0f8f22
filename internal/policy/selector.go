package policy

import (
	"math"
	"slices"
	"sort"
)

// SelectModel picks a model for a task. Models are banded by tier according
// to attrs.CostTier; within the band a model whose DefaultUse lists the
// complexity hint wins, otherwise the first of the band. It returns nil for
// an empty catalog.
func SelectModel(models []ModelProfile, attrs TaskAttributes) *ModelProfile {
	if len(models) == 0 {
		return nil
	}

	sorted := append([]ModelProfile(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Tier < sorted[j].Tier })

	minTier, maxTier := sorted[0].Tier, sorted[len(sorted)-1].Tier

	var band []ModelProfile
	switch attrs.CostTier {
	case CostTierLow:
		band = withTier(sorted, minTier)
	case CostTierHigh:
		band = withTier(sorted, maxTier)
	default:
		if minTier == maxTier {
			band = sorted
			break
		}
		band = withTier(sorted, middleTier(sorted))
		if len(band) == 0 {
			band = []ModelProfile{closestTo(sorted, int(math.Round(float64(minTier+maxTier)/2)))}
		}
	}

	for _, m := range band {
		if slices.Contains(m.DefaultUse, attrs.ComplexityHint) {
			return &m
		}
	}
	if len(band) > 0 {
		return &band[0]
	}
	return &sorted[0]
}

// Escalate returns the model chosen for attrs moved up by steps tiers,
// capped at the highest tier in the catalog.
func Escalate(models []ModelProfile, attrs TaskAttributes, steps int) *ModelProfile {
	base := SelectModel(models, attrs)
	if base == nil || steps <= 0 {
		return base
	}

	tiers := uniqueTiers(models)
	idx := slices.Index(tiers, base.Tier) + steps
	if idx >= len(tiers) {
		idx = len(tiers) - 1
	}
	band := withTier(models, tiers[idx])
	for _, m := range band {
		if slices.Contains(m.DefaultUse, attrs.ComplexityHint) {
			return &m
		}
	}
	return &band[0]
}

// middleTier returns the middle distinct tier, taking the lower of the two
// middle values when the count is even.
func middleTier(sorted []ModelProfile) int {
	tiers := uniqueTiers(sorted)
	if len(tiers)%2 == 0 {
		return tiers[len(tiers)/2-1]
	}
	return tiers[len(tiers)/2]
}

func uniqueTiers(models []ModelProfile) []int {
	var tiers []int
	for _, m := range models {
		if !slices.Contains(tiers, m.Tier) {
			tiers = append(tiers, m.Tier)
		}
	}
	slices.Sort(tiers)
	return tiers
}

func withTier(models []ModelProfile, tier int) []ModelProfile {
	var out []ModelProfile
	for _, m := range models {
		if m.Tier == tier {
			out = append(out, m)
		}
	}
	return out
}

func closestTo(sorted []ModelProfile, target int) ModelProfile {
	best := sorted[0]
	for _, m := range sorted[1:] {
		if abs(m.Tier-target) < abs(best.Tier-target) {
			best = m
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
