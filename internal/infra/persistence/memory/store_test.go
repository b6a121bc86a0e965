package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"foresight/pkg/domain"
)

func newTestStore(t *testing.T, rules ...domain.Rule) *Store {
	t.Helper()
	engine := domain.NewRulesEngine()
	for _, r := range rules {
		engine.Register(r)
	}
	n := 0
	return NewStore(engine,
		WithClock(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%03d", n) }),
	)
}

func insertRoom(t *testing.T, s *Store, name string) domain.Room {
	t.Helper()
	var room domain.Room
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		room, err = tx.Rooms().Insert(domain.Room{Name: name})
		return err
	})
	if err != nil {
		t.Fatalf("insert room: %v", err)
	}
	return room
}

func TestInsertAssignsIDAndDerefRoundTrips(t *testing.T) {
	s := newTestStore(t)
	room := insertRoom(t, s, "alpha")
	if room.ID == "" || room.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps, got %+v", room)
	}
	err := s.View(context.Background(), func(v domain.View) error {
		got, ok := v.Rooms().Deref(domain.RefTo[domain.Room](room.ID))
		if !ok || got.Name != "alpha" {
			return fmt.Errorf("deref mismatch: %+v %v", got, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeleteThenDerefIsAbsentAndModifyFails(t *testing.T) {
	s := newTestStore(t)
	room := insertRoom(t, s, "alpha")
	ref := domain.RefTo[domain.Room](room.ID)
	if _, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Rooms().Delete(ref, false)
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = s.View(context.Background(), func(v domain.View) error {
		if _, ok := v.Rooms().Deref(ref); ok {
			t.Fatalf("expected deleted room to be absent")
		}
		return nil
	})
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Rooms().Modify(ref, func(r *domain.Room) error { r.Name = "beta"; return nil })
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound on modify after delete, got %v", err)
	}
	_, err = s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Rooms().Delete(ref, false)
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound on second delete, got %v", err)
	}
	if _, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Rooms().Delete(ref, true)
	}); err != nil {
		t.Fatalf("ignoreMissing delete must succeed: %v", err)
	}
}

func TestReplaceRequiresExistingEntity(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Comments().Replace(domain.Comment{Base: domain.Base{ID: "missing"}})
		return err
	})
	if !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestInsertDuplicateIDFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.Users().Insert(domain.User{Base: domain.Base{ID: "u1"}}); err != nil {
			return err
		}
		_, err := tx.Users().Insert(domain.User{Base: domain.Base{ID: "u1"}})
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}
}

func TestFailedGroupDiscardsEveryWrite(t *testing.T) {
	s := newTestStore(t)
	room := insertRoom(t, s, "alpha")
	boom := errors.New("boom")
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.Rooms().Modify(domain.RefTo[domain.Room](room.ID), func(r *domain.Room) error {
			r.Name = "changed"
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.Questions().Insert(domain.Question{Title: "q"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = s.View(context.Background(), func(v domain.View) error {
		got, _ := v.Rooms().Deref(domain.RefTo[domain.Room](room.ID))
		if got.Name != "alpha" {
			t.Fatalf("room write leaked: %q", got.Name)
		}
		if n := len(v.Questions().List()); n != 0 {
			t.Fatalf("question write leaked: %d", n)
		}
		return nil
	})
}

type blockRooms struct{}

func (blockRooms) Name() string { return "block_rooms" }

func (blockRooms) Evaluate(_ context.Context, view domain.View, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityRoom && c.Action == domain.ActionCreate {
			if len(view.Rooms().List()) > 1 {
				res.Violations = append(res.Violations, domain.Violation{Rule: "block_rooms", Severity: domain.SeverityBlock, Message: "one room only"})
			}
		}
	}
	return res, nil
}

func TestBlockingRuleDiscardsGroup(t *testing.T) {
	s := newTestStore(t, blockRooms{})
	insertRoom(t, s, "first")
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Rooms().Insert(domain.Room{Name: "second"})
		return err
	})
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	_ = s.View(context.Background(), func(v domain.View) error {
		if n := len(v.Rooms().List()); n != 1 {
			t.Fatalf("expected one room after blocked group, got %d", n)
		}
		return nil
	})
}

func TestReadsInsideGroupSeeOwnWrites(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		q, err := tx.Questions().Insert(domain.Question{Title: "q"})
		if err != nil {
			return err
		}
		if _, ok := tx.Questions().Deref(domain.RefTo[domain.Question](q.ID)); !ok {
			return fmt.Errorf("own insert not visible")
		}
		if err := tx.Questions().Delete(domain.RefTo[domain.Question](q.ID), false); err != nil {
			return err
		}
		if len(tx.Questions().List()) != 0 {
			return fmt.Errorf("own delete not visible")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReturnedValuesDoNotAliasStore(t *testing.T) {
	s := newTestStore(t)
	var room domain.Room
	_, _ = s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		room, err = tx.Rooms().Insert(domain.Room{Name: "r", Members: []domain.Member{{User: domain.RefTo[domain.User]("u1"), Role: domain.RoleOwner}}})
		return err
	})
	room.Members[0].Role = domain.RoleViewer
	_ = s.View(context.Background(), func(v domain.View) error {
		got, _ := v.Rooms().Deref(domain.RefTo[domain.Room](room.ID))
		if got.Members[0].Role != domain.RoleOwner {
			t.Fatalf("caller mutation leaked into store")
		}
		return nil
	})
}

// TestConcurrentViewsNeverObservePartialGroups exercises update-group
// atomicity: a group moves a member between two rooms, and every concurrent
// view must see the member in exactly one room.
func TestConcurrentViewsNeverObservePartialGroups(t *testing.T) {
	s := NewStore(nil)
	var a, b domain.Room
	_, _ = s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		a, _ = tx.Rooms().Insert(domain.Room{Name: "a", Members: []domain.Member{{User: domain.RefTo[domain.User]("u"), Role: domain.RoleViewer}}})
		b, _ = tx.Rooms().Insert(domain.Room{Name: "b"})
		return nil
	})
	move := func(from, to domain.Room) {
		_, err := s.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
			var moved domain.Member
			if _, err := tx.Rooms().Modify(domain.RefTo[domain.Room](from.ID), func(r *domain.Room) error {
				if len(r.Members) == 0 {
					return errors.New("empty")
				}
				moved = r.Members[0]
				r.Members = nil
				return nil
			}); err != nil {
				return err
			}
			_, err := tx.Rooms().Modify(domain.RefTo[domain.Room](to.ID), func(r *domain.Room) error {
				r.Members = append(r.Members, moved)
				return nil
			})
			return err
		})
		if err != nil {
			t.Errorf("move: %v", err)
		}
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				move(a, b)
			} else {
				move(b, a)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.View(context.Background(), func(v domain.View) error {
				total := 0
				for _, r := range v.Rooms().List() {
					total += len(r.Members)
				}
				if total != 1 {
					t.Errorf("observed torn state with %d members", total)
				}
				return nil
			})
		}
	}()
	wg.Wait()
}
