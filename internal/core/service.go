package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"foresight/internal/censor"
	"foresight/pkg/domain"
)

// ReminderDispatcher sends reminders outside the mutation queue. Dispatch
// must return promptly; delivery failures never affect the committed group.
type ReminderDispatcher interface {
	Dispatch(ctx context.Context, reminder domain.Reminder)
}

type engineProvider interface {
	RulesEngine() *domain.RulesEngine
}

// Service runs every forecasting operation as one update group on the
// mutation queue and notifies commit observers afterwards.
type Service struct {
	store     domain.PersistentStore
	queue     *Queue
	reminders ReminderDispatcher
	logger    *slog.Logger
	tracer    trace.Tracer
	nowFn     func() time.Time

	adminEmails  map[string]struct{}
	passwordCost int

	mu        sync.RWMutex
	observers []CommitObserver
	plugins   map[string]PluginMetadata
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source for schedule evaluation.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithReminderDispatcher sets where resolve reminders go.
func WithReminderDispatcher(d ReminderDispatcher) ServiceOption {
	return func(s *Service) {
		if d != nil {
			s.reminders = d
		}
	}
}

// WithCommitObserver registers a post-commit hook.
func WithCommitObserver(o CommitObserver) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithAdminEmails marks accounts registered with these emails as site admins.
func WithAdminEmails(emails ...string) ServiceOption {
	return func(s *Service) {
		for _, e := range emails {
			if e = normalizeEmail(e); e != "" {
				s.adminEmails[e] = struct{}{}
			}
		}
	}
}

// WithPasswordCost sets the bcrypt cost for new credentials.
func WithPasswordCost(cost int) ServiceOption {
	return func(s *Service) {
		if cost > 0 {
			s.passwordCost = cost
		}
	}
}

// NewService constructs a service over store, serialised by queue.
func NewService(store domain.PersistentStore, queue *Queue, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		queue:        queue,
		reminders:    discardReminders{},
		logger:       discardLogger(),
		tracer:       otel.Tracer("foresight/core"),
		nowFn:        func() time.Time { return time.Now().UTC() },
		adminEmails:  make(map[string]struct{}),
		passwordCost: bcrypt.DefaultCost,
		plugins:      make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type discardReminders struct{}

func (discardReminders) Dispatch(context.Context, domain.Reminder) {}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// AddCommitObserver registers a post-commit hook after construction.
func (s *Service) AddCommitObserver(o CommitObserver) {
	if o == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// mutate runs fn as one update group on the queue. Observers are notified
// only after a group that wrote something committed.
func (s *Service) mutate(ctx context.Context, op string, fn func(tx domain.Transaction) error) (domain.Result, error) {
	var res domain.Result
	err := s.queue.Do(ctx, op, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, fn)
		return err
	})
	if err != nil {
		s.logger.Debug("mutation_rejected", "op", op, "kind", string(domain.KindOf(err)), "error", err)
		return res, err
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule_warning", "op", op, "rule", v.Rule, "entity", string(v.Entity), "id", v.EntityID, "message", v.Message)
	}
	if len(res.Changes) == 0 {
		return res, nil
	}
	s.logger.Debug("mutation_committed", "op", op, "changes", len(res.Changes))
	s.notify(ctx, CommitEvent{Operation: op, Result: res, CommittedAt: s.nowFn()})
	return res, nil
}

func (s *Service) notify(ctx context.Context, event CommitEvent) {
	s.mu.RLock()
	observers := append([]CommitObserver(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.OnCommit(ctx, event)
	}
}

// read runs fn against a consistent state, admitted through the queue so it
// never interleaves with an update group.
func (s *Service) read(ctx context.Context, op string, fn func(view domain.View) error) error {
	return s.queue.Do(ctx, op, func(ctx context.Context) error {
		return s.store.View(ctx, fn)
	})
}

// Viewer resolves the identity used for permission checks. Unknown users
// resolve to the anonymous viewer.
func (s *Service) Viewer(ctx context.Context, userID string) domain.Viewer {
	if userID == "" {
		return domain.Viewer{}
	}
	var viewer domain.Viewer
	_ = s.store.View(ctx, func(v domain.View) error {
		u, ok := v.Users().Deref(domain.RefTo[domain.User](userID))
		if ok {
			viewer = domain.Viewer{UserID: u.ID, Admin: u.AccountType == domain.AccountAdmin}
		}
		return nil
	})
	return viewer
}

// Snapshot computes the censored state for one viewer.
func (s *Service) Snapshot(ctx context.Context, viewer domain.Viewer) (censor.SentState, error) {
	states, err := s.Snapshots(ctx, []domain.Viewer{viewer})
	if err != nil {
		return censor.SentState{}, err
	}
	return states[0], nil
}

// Snapshots computes censored states for many viewers from one consistent
// state in a single queue turn.
func (s *Service) Snapshots(ctx context.Context, viewers []domain.Viewer) ([]censor.SentState, error) {
	out := make([]censor.SentState, len(viewers))
	err := s.read(ctx, "snapshot", func(view domain.View) error {
		_, span := s.tracer.Start(ctx, "censor", trace.WithAttributes(attribute.Int("censor.viewers", len(viewers))))
		defer span.End()
		for i, viewer := range viewers {
			out[i] = censor.Censor(view, viewer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// InstallPlugin registers a plugin's rules and commit observers.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, err
	}

	meta := PluginMetadata{Name: plugin.Name(), Version: plugin.Version(), Observers: registry.ObserverNames()}
	rules := registry.Rules()
	if len(rules) > 0 {
		provider, ok := s.store.(engineProvider)
		if !ok || provider.RulesEngine() == nil {
			return PluginMetadata{}, fmt.Errorf("plugin %s contributes rules but the store has no rules engine", plugin.Name())
		}
		for _, rule := range rules {
			provider.RulesEngine().Register(rule)
			meta.Rules = append(meta.Rules, rule.Name())
		}
	}
	for _, name := range meta.Observers {
		s.observers = append(s.observers, registry.observers[name])
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin_installed", "plugin", meta.Name, "version", meta.Version, "rules", len(meta.Rules), "observers", len(meta.Observers))
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	return out
}

// roomFor resolves a room and the actor's permissions in it.
func roomFor(view domain.View, actor domain.Viewer, roomID string) (domain.Room, domain.PermissionSet, error) {
	room, ok := view.Rooms().Deref(domain.RefTo[domain.Room](roomID))
	if !ok {
		return domain.Room{}, nil, domain.NotFound(domain.EntityRoom, roomID)
	}
	perms := domain.Permissions(actor, room)
	if !perms.Has(domain.PermViewRoom) {
		return domain.Room{}, nil, domain.NotFound(domain.EntityRoom, roomID)
	}
	return room, perms, nil
}

// questionFor resolves a question the actor can see, with its room.
func questionFor(view domain.View, actor domain.Viewer, questionID string) (domain.Question, domain.Room, domain.PermissionSet, error) {
	q, ok := view.Questions().Deref(domain.RefTo[domain.Question](questionID))
	if !ok {
		return domain.Question{}, domain.Room{}, nil, domain.NotFound(domain.EntityQuestion, questionID)
	}
	room, perms, err := roomFor(view, actor, q.Room.ID)
	if err != nil {
		return domain.Question{}, domain.Room{}, nil, domain.NotFound(domain.EntityQuestion, questionID)
	}
	if !q.Visible && !perms.Has(domain.PermViewHidden) {
		return domain.Question{}, domain.Room{}, nil, domain.NotFound(domain.EntityQuestion, questionID)
	}
	return q, room, perms, nil
}

func require(perms domain.PermissionSet, perm domain.Permission) error {
	if !perms.Has(perm) {
		return domain.Unauthorized("missing permission %s", perm)
	}
	return nil
}

func requireUser(actor domain.Viewer) error {
	if actor.Anonymous() {
		return domain.Unauthorized("sign in required")
	}
	return nil
}

func newToken() string { return uuid.NewString() }
