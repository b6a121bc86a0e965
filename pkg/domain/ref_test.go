package domain

import (
	"encoding/json"
	"testing"
)

func TestRefJSONRoundTripsAsBareID(t *testing.T) {
	type wrapper struct {
		Room Ref[Room]  `json:"room"`
		User *Ref[User] `json:"user,omitempty"`
	}
	data, err := json.Marshal(wrapper{Room: RefTo[Room]("r1")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"room":"r1"}` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var decoded wrapper
	if err := json.Unmarshal([]byte(`{"room":"r2","user":null}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Room.ID != "r2" || decoded.User != nil {
		t.Fatalf("unexpected decode %+v", decoded)
	}
}

func TestRefIsZero(t *testing.T) {
	if !(Ref[Question]{}).IsZero() {
		t.Fatalf("expected zero ref")
	}
	if RefTo[Question]("q").IsZero() {
		t.Fatalf("expected non-zero ref")
	}
}

func TestDistributionEqualAndValidate(t *testing.T) {
	a := Distribution{Kind: "beta", Params: []float64{2, 3}}
	b := a.Clone()
	b.Params[0] = 2
	if !a.Equal(b) {
		t.Fatalf("expected clones to be equal")
	}
	b.Params[1] = 4
	if a.Equal(b) || a.Params[1] != 3 {
		t.Fatalf("clone must not alias params")
	}
	if err := (Distribution{Kind: "beta"}).Validate(); KindOf(err) != KindBadRequest {
		t.Fatalf("expected bad request for empty params, got %v", err)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestScheduleStatusRegresses(t *testing.T) {
	done := ScheduleStatus{OpenDone: true}
	if done.Regresses(ScheduleStatus{OpenDone: true, CloseDone: true}) {
		t.Fatalf("setting more flags is not a regression")
	}
	if !done.Regresses(ScheduleStatus{}) {
		t.Fatalf("clearing a flag is a regression")
	}
}
