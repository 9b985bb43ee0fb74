package policy

import (
	"fmt"

	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// Registry holds the priority policies keyed by mode.
type Registry struct {
	policies map[domain.PriorityMode]PriorityPolicy
}

// NewRegistry creates a registry with the built-in policies.
func NewRegistry() *Registry {
	r := &Registry{
		policies: make(map[domain.PriorityMode]PriorityPolicy),
	}

	r.Register(IndexPriority{})
	r.Register(TemporalPriority{})

	return r
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing).
func NewRegistryWithPolicies(policies ...PriorityPolicy) *Registry {
	r := &Registry{
		policies: make(map[domain.PriorityMode]PriorityPolicy),
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds a policy to the registry, replacing any with the same mode.
func (r *Registry) Register(p PriorityPolicy) {
	r.policies[p.Mode()] = p
}

// Get returns the policy for a mode.
func (r *Registry) Get(mode domain.PriorityMode) (PriorityPolicy, error) {
	p, ok := r.policies[mode]
	if !ok {
		return nil, fmt.Errorf("unknown priority mode: %q", mode)
	}
	return p, nil
}

// ForMode returns the policy for a mode, falling back to temporal priority.
func (r *Registry) ForMode(mode domain.PriorityMode) PriorityPolicy {
	if p, err := r.Get(mode); err == nil {
		return p
	}
	return TemporalPriority{}
}

// Modes returns the registered mode names.
func (r *Registry) Modes() []domain.PriorityMode {
	modes := make([]domain.PriorityMode, 0, len(r.policies))
	for m := range r.policies {
		modes = append(modes, m)
	}
	return modes
}
