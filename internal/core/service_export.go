package core

import (
	"context"
	"slices"
	"strings"

	"foresight/pkg/domain"
)

// RoomExport is a consistent copy of a room's forecasting data.
type RoomExport struct {
	Room      domain.Room
	Questions []domain.Question
	// Nicknames maps user IDs to display names for every predictor listed.
	Nicknames   map[string]string
	Predictions []domain.Prediction
}

// ExportRoom collects the full prediction history of every question in a
// room the actor may export. The read goes through the queue so the export
// never observes a partially applied update group.
func (s *Service) ExportRoom(ctx context.Context, actor domain.Viewer, roomID string) (RoomExport, error) {
	var out RoomExport
	err := s.read(ctx, "export_room", func(view domain.View) error {
		room, perms, err := roomFor(view, actor, roomID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermExport); err != nil {
			return err
		}
		out = RoomExport{Room: room, Nicknames: map[string]string{}}
		for _, ref := range room.Questions {
			q, ok := view.Questions().Deref(ref)
			if !ok || (!q.Visible && !perms.Has(domain.PermViewHidden)) {
				continue
			}
			out.Questions = append(out.Questions, q)
			for _, key := range view.Predictions().Keys(ref) {
				for p := range view.Predictions().Query(key) {
					out.Predictions = append(out.Predictions, p)
				}
				if u, ok := view.Users().Deref(domain.RefTo[domain.User](key.User)); ok {
					out.Nicknames[u.ID] = u.Nickname
				}
			}
		}
		slices.SortStableFunc(out.Predictions, func(a, b domain.Prediction) int {
			if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
		return nil
	})
	return out, err
}

// AuthorizeExport reports whether the actor may export the room.
func (s *Service) AuthorizeExport(ctx context.Context, actor domain.Viewer, roomID string) error {
	return s.read(ctx, "authorize_export", func(view domain.View) error {
		_, perms, err := roomFor(view, actor, roomID)
		if err != nil {
			return err
		}
		return require(perms, domain.PermExport)
	})
}
