package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"foresight/pkg/domain"
)

// A question exists in a snapshot exactly when its room lists it: creation
// and deletion each touch both entities in one update group.
func TestSnapshotsNeverObservePartialGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 0; i < 40; i++ {
			q, err := f.svc.CreateQuestion(ctx, owner, room.ID, QuestionInput{Title: fmt.Sprintf("q%d", i)})
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if i%2 == 0 {
				if err := f.svc.DeleteQuestion(ctx, owner, q.ID); err != nil {
					t.Errorf("delete: %v", err)
					return
				}
			}
		}
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		err := f.svc.read(ctx, "check", func(v domain.View) error {
			r, ok := v.Rooms().Deref(room.Ref())
			if !ok {
				t.Errorf("room vanished")
				return nil
			}
			stored := v.Questions().List()
			if len(stored) != len(r.Questions) {
				t.Errorf("torn view: room lists %d questions, store holds %d", len(r.Questions), len(stored))
			}
			for _, q := range stored {
				if !r.HasQuestion(q.ID) {
					t.Errorf("torn view: question %s stored but not listed", q.ID)
				}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
}

func TestFailedGroupLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)

	_, err := f.svc.mutate(ctx, "half", func(tx domain.Transaction) error {
		if _, err := tx.Questions().Insert(domain.Question{Room: room.Ref(), Title: "ghost", State: domain.QuestionOpen}); err != nil {
			return err
		}
		return domain.BadRequest("abort")
	})
	expectKind(t, err, domain.KindBadRequest)
	state, _ := f.svc.Snapshot(ctx, owner)
	if len(state.Questions) != 0 {
		t.Fatalf("aborted group leaked %d questions", len(state.Questions))
	}
}
