package service

import (
	"fmt"
	"sort"

	"mt5bot/internal/domain/model"
)

// ExitPolicyTable maps strategy names to their exit policy. It is immutable after construction.
type ExitPolicyTable struct {
	policies map[string]model.ExitPolicy
	fallback model.ExitPolicy
}

func NewExitPolicyTable(policies map[string]model.ExitPolicy, fallback model.ExitPolicy) (*ExitPolicyTable, error) {
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("default exit policy: %w", err)
	}
	cp := make(map[string]model.ExitPolicy, len(policies))
	for name, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("exit policy %q: %w", name, err)
		}
		cp[name] = p
	}
	return &ExitPolicyTable{policies: cp, fallback: fallback}, nil
}

// For returns the strategy's policy, or the default one for unknown strategies.
func (t *ExitPolicyTable) For(strategy string) model.ExitPolicy {
	if p, ok := t.policies[strategy]; ok {
		return p
	}
	return t.fallback
}

func (t *ExitPolicyTable) Known(strategy string) bool {
	_, ok := t.policies[strategy]
	return ok
}

func (t *ExitPolicyTable) Strategies() []string {
	out := make([]string, 0, len(t.policies))
	for name := range t.policies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
