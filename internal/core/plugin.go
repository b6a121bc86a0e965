package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"foresight/pkg/domain"
)

// Plugin is a statically registered extension that contributes named hooks.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// CommitEvent describes an update group that has committed.
type CommitEvent struct {
	Operation   string
	Result      domain.Result
	CommittedAt time.Time
}

// CommitObserver is notified after every committed update group. Observers
// run on the caller's goroutine after the queue released the group, so they
// must only schedule work.
type CommitObserver interface {
	OnCommit(ctx context.Context, event CommitEvent)
}

// CommitObserverFunc adapts a function to CommitObserver.
type CommitObserverFunc func(ctx context.Context, event CommitEvent)

// OnCommit implements CommitObserver.
func (f CommitObserverFunc) OnCommit(ctx context.Context, event CommitEvent) { f(ctx, event) }

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	rules     []domain.Rule
	observers map[string]CommitObserver
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{observers: make(map[string]CommitObserver)}
}

// RegisterRule adds a pre-commit rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule domain.Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterCommitObserver adds a named post-commit hook.
func (r *PluginRegistry) RegisterCommitObserver(name string, observer CommitObserver) error {
	if name == "" || observer == nil {
		return fmt.Errorf("commit observer requires a name and an implementation")
	}
	if _, exists := r.observers[name]; exists {
		return fmt.Errorf("commit observer %s already registered", name)
	}
	r.observers[name] = observer
	return nil
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []domain.Rule {
	out := make([]domain.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// ObserverNames returns the registered hook names in sorted order.
func (r *PluginRegistry) ObserverNames() []string {
	names := make([]string, 0, len(r.observers))
	for name := range r.observers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PluginMetadata stores metadata describing an installed plugin.
type PluginMetadata struct {
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	Rules     []string `json:"rules"`
	Observers []string `json:"observers"`
}
