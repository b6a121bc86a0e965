package domain

import (
	"context"
	"sync"
)

// Rule defines an evaluation executed at the end of an update group, before commit.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view View, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	if rule == nil {
		return
	}
	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()
}

// Rules returns a copy of the registered rules.
func (e *RulesEngine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view View, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.Rules() {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
