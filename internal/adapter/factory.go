package adapter

import (
	"context"
	"fmt"
	"sort"

	"github.com/aristath/taskweave/internal/config"
)

// New builds the adapter described by p under the given tool name.
func New(ctx context.Context, name string, p config.ProviderConfig, pm *ProcessManager) (Adapter, error) {
	switch p.Type {
	case "claude":
		return NewClaudeAdapter(CLIConfig{Name: name, Command: p.Command, Model: p.Model}, pm), nil
	case "codex":
		return NewCodexAdapter(CLIConfig{Name: name, Command: p.Command, Model: p.Model}, pm), nil
	case "anthropic":
		a, err := NewAnthropicAdapter(ctx, AnthropicConfig{
			Name:       name,
			Model:      p.Model,
			APIKey:     p.APIKey,
			Bedrock:    p.Bedrock,
			AWSRegion:  p.AWSRegion,
			AWSProfile: p.AWSProfile,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "mock":
		return NewMockAdapter(name, MockConfig{}), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", p.Type)
	}
}

// BuildRegistry registers a breaker-guarded adapter for every provider.
// Providers that cannot be constructed, such as an API provider without
// credentials, are returned as skipped instead of failing the whole set.
func BuildRegistry(ctx context.Context, providers map[string]config.ProviderConfig, pm *ProcessManager, breakers *Breakers) (*Registry, map[string]error) {
	reg := NewRegistry()
	skipped := make(map[string]error)

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		a, err := New(ctx, name, providers[name], pm)
		if err != nil {
			skipped[name] = err
			continue
		}
		if err := reg.Register(NewGuard(a, breakers)); err != nil {
			skipped[name] = err
		}
	}
	return reg, skipped
}

// MockRegistry registers a mock under every provider name, for dry runs.
func MockRegistry(providers map[string]config.ProviderConfig, cfg MockConfig) *Registry {
	reg := NewRegistry()
	for name := range providers {
		reg.Register(NewMockAdapter(name, cfg))
	}
	return reg
}
