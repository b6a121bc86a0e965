package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"foresight/internal/infra/persistence/memory"
	"foresight/pkg/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type reminderRecorder struct {
	mu   sync.Mutex
	sent []domain.Reminder
}

func (r *reminderRecorder) Dispatch(_ context.Context, reminder domain.Reminder) {
	r.mu.Lock()
	r.sent = append(r.sent, reminder)
	r.mu.Unlock()
}

func (r *reminderRecorder) Sent() []domain.Reminder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Reminder(nil), r.sent...)
}

type fixture struct {
	svc       *Service
	store     *memory.Store
	clock     *testClock
	reminders *reminderRecorder
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	clock := newTestClock()
	store := memory.NewStore(NewDefaultRulesEngine(), memory.WithClock(clock.Now))
	queue := NewQueue(16)
	queue.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = queue.Stop(ctx)
	})
	rec := &reminderRecorder{}
	opts = append([]ServiceOption{WithClock(clock.Now), WithReminderDispatcher(rec), WithPasswordCost(bcrypt.MinCost)}, opts...)
	return &fixture{
		svc:       NewService(store, queue, opts...),
		store:     store,
		clock:     clock,
		reminders: rec,
	}
}

func (f *fixture) user(t *testing.T, nickname string) domain.Viewer {
	t.Helper()
	u, err := f.svc.RegisterUser(context.Background(), RegisterInput{
		Nickname: nickname,
		Email:    nickname + "@example.com",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("register %s: %v", nickname, err)
	}
	return domain.Viewer{UserID: u.ID, Admin: u.AccountType == domain.AccountAdmin}
}

func (f *fixture) room(t *testing.T, owner domain.Viewer) domain.Room {
	t.Helper()
	r, err := f.svc.CreateRoom(context.Background(), owner, RoomInput{Name: "Forecasts"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return r
}

func (f *fixture) question(t *testing.T, owner domain.Viewer, roomID string, in QuestionInput) domain.Question {
	t.Helper()
	if in.Title == "" {
		in.Title = "Will it rain?"
	}
	q, err := f.svc.CreateQuestion(context.Background(), owner, roomID, in)
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}

func (f *fixture) member(t *testing.T, owner domain.Viewer, roomID string, user domain.Viewer, role domain.Role) {
	t.Helper()
	if _, err := f.svc.SetMemberRole(context.Background(), owner, roomID, user.UserID, role); err != nil {
		t.Fatalf("set member role: %v", err)
	}
}

func expectKind(t *testing.T, err error, kind domain.ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func binary(p float64) domain.Distribution {
	return domain.Distribution{Kind: "bernoulli", Params: []float64{p}}
}
