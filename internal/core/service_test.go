package core

import (
	"context"
	"slices"
	"testing"
	"time"

	"foresight/pkg/domain"
)

func TestHiddenQuestionVisibleToOwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)
	hidden := false
	q := f.question(t, owner, room.ID, QuestionInput{Visible: &hidden})

	ownerState, err := f.svc.Snapshot(ctx, owner)
	if err != nil {
		t.Fatalf("owner snapshot: %v", err)
	}
	if !slices.ContainsFunc(ownerState.Questions, func(x domain.Question) bool { return x.ID == q.ID }) {
		t.Fatalf("owner should see hidden question")
	}
	anon, err := f.svc.Snapshot(ctx, domain.Viewer{})
	if err != nil {
		t.Fatalf("anonymous snapshot: %v", err)
	}
	if len(anon.Rooms) != 0 || len(anon.Questions) != 0 {
		t.Fatalf("anonymous viewer should see nothing, got %d rooms %d questions", len(anon.Rooms), len(anon.Questions))
	}
}

func TestCreateQuestionRequiresPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	pred := f.user(t, "pred")
	outsider := f.user(t, "outsider")
	room := f.room(t, owner)
	f.member(t, owner, room.ID, pred, domain.RolePredictor)

	_, err := f.svc.CreateQuestion(ctx, pred, room.ID, QuestionInput{Title: "Q"})
	expectKind(t, err, domain.KindUnauthorized)

	_, err = f.svc.CreateQuestion(ctx, outsider, room.ID, QuestionInput{Title: "Q"})
	expectKind(t, err, domain.KindNotFound)

	_, err = f.svc.CreateQuestion(ctx, owner, room.ID, QuestionInput{Title: " "})
	expectKind(t, err, domain.KindBadRequest)
}

func TestCreateQuestionInitialState(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner")
	room := f.room(t, owner)

	open := f.question(t, owner, room.ID, QuestionInput{})
	if open.State != domain.QuestionOpen {
		t.Fatalf("expected open question without schedule, got %s", open.State)
	}
	later := f.clock.Now().Add(24 * time.Hour)
	pending := f.question(t, owner, room.ID, QuestionInput{Schedule: &domain.Schedule{OpenAt: &later}})
	if pending.State != domain.QuestionPending {
		t.Fatalf("expected pending question, got %s", pending.State)
	}
}

func TestDeleteQuestionStripsRoomRefsAndComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)
	q := f.question(t, owner, room.ID, QuestionInput{})
	c, err := f.svc.AddComment(ctx, owner, domain.ContainerRef{Kind: domain.EntityQuestion, ID: q.ID}, CommentInput{Content: "first"})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}

	if err := f.svc.DeleteQuestion(ctx, owner, q.ID); err != nil {
		t.Fatalf("delete question: %v", err)
	}
	_ = f.store.View(ctx, func(v domain.View) error {
		r, _ := v.Rooms().Deref(room.Ref())
		if r.HasQuestion(q.ID) {
			t.Fatalf("room still lists deleted question")
		}
		if _, ok := v.Comments().Deref(domain.RefTo[domain.Comment](c.ID)); ok {
			t.Fatalf("comment survived question delete")
		}
		return nil
	})

	_, err = f.svc.UpdateQuestion(ctx, owner, q.ID, QuestionPatch{})
	expectKind(t, err, domain.KindNotFound)
}

func TestDeleteRoomCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)
	q := f.question(t, owner, room.ID, QuestionInput{})
	if _, err := f.svc.AddComment(ctx, owner, domain.ContainerRef{Kind: domain.EntityRoom, ID: room.ID}, CommentInput{Content: "hi"}); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if err := f.svc.DeleteRoom(ctx, owner, room.ID); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	_ = f.store.View(ctx, func(v domain.View) error {
		if len(v.Rooms().List()) != 0 || len(v.Comments().List()) != 0 {
			t.Fatalf("room delete left data behind")
		}
		if _, ok := v.Questions().Deref(q.Ref()); ok {
			t.Fatalf("question survived room delete")
		}
		return nil
	})
}

func TestRoomKeepsAnOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)

	_, err := f.svc.SetMemberRole(ctx, owner, room.ID, owner.UserID, domain.RoleViewer)
	expectKind(t, err, domain.KindBadRequest)
	_, err = f.svc.RemoveMember(ctx, owner, room.ID, owner.UserID)
	expectKind(t, err, domain.KindBadRequest)

	state, err := f.svc.Snapshot(ctx, owner)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(state.Rooms) != 1 || state.Rooms[0].Members[0].Role != domain.RoleOwner {
		t.Fatalf("blocked group must not partially apply: %+v", state.Rooms)
	}
}

func TestInviteLinkJoinAndDisable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	guest := f.user(t, "guest")
	late := f.user(t, "late")
	room := f.room(t, owner)

	link, err := f.svc.CreateInviteLink(ctx, owner, room.ID, domain.RolePredictor)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	joined, err := f.svc.JoinRoom(ctx, guest, room.ID, link.ID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	role, ok := joined.MemberRole(guest.UserID)
	if !ok || role != domain.RolePredictor {
		t.Fatalf("expected predictor membership, got %q %v", role, ok)
	}
	if err := f.svc.DisableInviteLink(ctx, owner, room.ID, link.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	_, err = f.svc.JoinRoom(ctx, late, room.ID, link.ID)
	expectKind(t, err, domain.KindNotFound)

	_, err = f.svc.CreateInviteLink(ctx, guest, room.ID, domain.RoleViewer)
	expectKind(t, err, domain.KindUnauthorized)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	f := newFixture(t, WithAdminEmails("Root@Example.com"))
	ctx := context.Background()
	admin := f.user(t, "root")
	if !admin.Admin {
		t.Fatalf("configured admin email should produce an admin account")
	}
	_, err := f.svc.RegisterUser(ctx, RegisterInput{Nickname: "dup", Email: "root@example.com", Password: "password1"})
	expectKind(t, err, domain.KindBadRequest)
	_, err = f.svc.RegisterUser(ctx, RegisterInput{Nickname: "short", Email: "s@example.com", Password: "x"})
	expectKind(t, err, domain.KindBadRequest)

	u, err := f.svc.Authenticate(ctx, " ROOT@example.com", "correct horse")
	if err != nil || u.ID != admin.UserID {
		t.Fatalf("authenticate: %+v %v", u, err)
	}
	_, err = f.svc.Authenticate(ctx, "root@example.com", "wrong password")
	expectKind(t, err, domain.KindUnauthorized)
	_, err = f.svc.Authenticate(ctx, "nobody@example.com", "correct horse")
	expectKind(t, err, domain.KindUnauthorized)

	if v := f.svc.Viewer(ctx, admin.UserID); !v.Admin {
		t.Fatalf("viewer lookup lost admin flag")
	}
	if v := f.svc.Viewer(ctx, "ghost"); !v.Anonymous() {
		t.Fatalf("unknown user should resolve to anonymous")
	}
}

func TestSubmitPredictionAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	pred := f.user(t, "pred")
	viewer := f.user(t, "viewer")
	room := f.room(t, owner)
	f.member(t, owner, room.ID, pred, domain.RolePredictor)
	f.member(t, owner, room.ID, viewer, domain.RoleViewer)
	q := f.question(t, owner, room.ID, QuestionInput{})

	first, err := f.svc.SubmitPrediction(ctx, pred, q.ID, binary(0.2))
	if err != nil {
		t.Fatalf("first prediction: %v", err)
	}
	f.clock.Advance(time.Hour)
	if _, err := f.svc.SubmitPrediction(ctx, pred, q.ID, binary(0.7)); err != nil {
		t.Fatalf("second prediction: %v", err)
	}

	at, err := f.svc.PredictionAt(ctx, pred, q.ID, pred.UserID, first.Timestamp.Add(time.Minute))
	if err != nil || !at.Distribution.Equal(binary(0.2)) {
		t.Fatalf("prediction at: %+v %v", at, err)
	}
	hist, err := f.svc.PredictionHistory(ctx, owner, q.ID, pred.UserID)
	if err != nil || len(hist) != 2 {
		t.Fatalf("history: %d %v", len(hist), err)
	}
	_, err = f.svc.PredictionHistory(ctx, viewer, q.ID, pred.UserID)
	expectKind(t, err, domain.KindUnauthorized)
	_, err = f.svc.SubmitPrediction(ctx, viewer, q.ID, binary(0.5))
	expectKind(t, err, domain.KindUnauthorized)
	_, err = f.svc.SubmitPrediction(ctx, pred, q.ID, domain.Distribution{Kind: "bernoulli"})
	expectKind(t, err, domain.KindBadRequest)

	if _, err := f.svc.SetQuestionState(ctx, owner, q.ID, domain.QuestionClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = f.svc.SubmitPrediction(ctx, pred, q.ID, binary(0.9))
	expectKind(t, err, domain.KindBadRequest)
}

func TestCommentPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	pred := f.user(t, "pred")
	other := f.user(t, "other")
	room := f.room(t, owner)
	f.member(t, owner, room.ID, pred, domain.RolePredictor)
	f.member(t, owner, room.ID, other, domain.RolePredictor)
	q := f.question(t, owner, room.ID, QuestionInput{})
	container := domain.ContainerRef{Kind: domain.EntityQuestion, ID: q.ID}

	_, err := f.svc.AddComment(ctx, pred, container, CommentInput{Content: "why", AttachPrediction: true})
	expectKind(t, err, domain.KindBadRequest)
	p, err := f.svc.SubmitPrediction(ctx, pred, q.ID, binary(0.4))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	c, err := f.svc.AddComment(ctx, pred, container, CommentInput{Content: "because", AttachPrediction: true})
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if c.Prediction == nil || c.Prediction.ID != p.ID {
		t.Fatalf("expected attached prediction %s, got %+v", p.ID, c.Prediction)
	}

	_, err = f.svc.EditComment(ctx, other, c.ID, "hijack")
	expectKind(t, err, domain.KindUnauthorized)
	edited, err := f.svc.EditComment(ctx, pred, c.ID, "because, edited")
	if err != nil || edited.Content != "because, edited" || edited.Prediction == nil {
		t.Fatalf("edit: %+v %v", edited, err)
	}
	err = f.svc.DeleteComment(ctx, other, c.ID)
	expectKind(t, err, domain.KindUnauthorized)
	if err := f.svc.DeleteComment(ctx, owner, c.ID); err != nil {
		t.Fatalf("moderator delete: %v", err)
	}
	err = f.svc.DeleteComment(ctx, owner, c.ID)
	expectKind(t, err, domain.KindNotFound)
}

func TestResolveQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)
	q := f.question(t, owner, room.ID, QuestionInput{})

	_, err := f.svc.ResolveQuestion(ctx, owner, q.ID, ResolveInput{})
	expectKind(t, err, domain.KindBadRequest)
	two := 2.0
	_, err = f.svc.ResolveQuestion(ctx, owner, q.ID, ResolveInput{Value: &two})
	expectKind(t, err, domain.KindBadRequest)

	yes := 1.0
	resolved, err := f.svc.ResolveQuestion(ctx, owner, q.ID, ResolveInput{Value: &yes})
	if err != nil || resolved.State != domain.QuestionResolved {
		t.Fatalf("resolve: %+v %v", resolved, err)
	}
	_, err = f.svc.SetQuestionState(ctx, owner, q.ID, domain.QuestionOpen)
	expectKind(t, err, domain.KindBadRequest)
}

func TestResolveBeforeScheduledTimeWaitsForSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)
	due := f.clock.Now().Add(time.Hour)
	q := f.question(t, owner, room.ID, QuestionInput{Schedule: &domain.Schedule{ResolveAt: &due}})

	yes := 1.0
	stored, err := f.svc.ResolveQuestion(ctx, owner, q.ID, ResolveInput{Value: &yes})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if stored.State == domain.QuestionResolved || stored.Resolution == nil {
		t.Fatalf("expected stored resolution awaiting schedule, got %+v", stored)
	}
	f.clock.Advance(2 * time.Hour)
	if _, err := f.svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	state, _ := f.svc.Snapshot(ctx, owner)
	if state.Questions[0].State != domain.QuestionResolved {
		t.Fatalf("sweep should resolve the question, got %s", state.Questions[0].State)
	}
	if len(f.reminders.Sent()) != 0 {
		t.Fatalf("no reminder expected when a resolution exists")
	}
}

func TestCommitObserversSeeOnlyWritingGroups(t *testing.T) {
	var events []CommitEvent
	f := newFixture(t, WithCommitObserver(CommitObserverFunc(func(_ context.Context, e CommitEvent) {
		events = append(events, e)
	})))
	ctx := context.Background()
	owner := f.user(t, "owner")
	room := f.room(t, owner)
	_, _ = f.svc.CreateQuestion(ctx, owner, room.ID, QuestionInput{Title: ""})
	if _, err := f.svc.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(events) != 2 || events[0].Operation != "register_user" || events[1].Operation != "create_room" {
		t.Fatalf("unexpected commit events: %+v", events)
	}
}
