package core

import (
	"context"
	"fmt"

	"foresight/pkg/domain"
)

// RoomOwnerRule blocks room updates that leave a room without an owner.
func RoomOwnerRule() domain.Rule {
	return roomOwnerRule{}
}

type roomOwnerRule struct{}

func (roomOwnerRule) Name() string { return "room_owner" }

func (roomOwnerRule) Evaluate(_ context.Context, _ domain.View, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRoom || change.Action == domain.ActionDelete {
			continue
		}
		room, ok := change.After.(domain.Room)
		if !ok {
			continue
		}
		owners := 0
		for _, m := range room.Members {
			if m.Role == domain.RoleOwner {
				owners++
			}
		}
		if owners == 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "room_owner",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("room %s must keep at least one owner", room.ID),
				Entity:   domain.EntityRoom,
				EntityID: room.ID,
			})
		}
	}
	return res, nil
}
