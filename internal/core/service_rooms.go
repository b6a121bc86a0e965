package core

import (
	"context"
	"slices"
	"strings"

	"foresight/pkg/domain"
)

// RoomInput carries the fields of a new room.
type RoomInput struct {
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	DefaultSchedule *domain.Schedule `json:"default_schedule,omitempty"`
	PublicRole      domain.Role      `json:"public_role,omitempty"`
}

// RoomPatch lists optional room changes. Nil fields are left untouched.
type RoomPatch struct {
	Name                 *string          `json:"name,omitempty"`
	Description          *string          `json:"description,omitempty"`
	DefaultSchedule      *domain.Schedule `json:"default_schedule,omitempty"`
	ClearDefaultSchedule bool             `json:"clear_default_schedule,omitempty"`
	PublicRole           *domain.Role     `json:"public_role,omitempty"`
}

func validatePublicRole(role domain.Role) error {
	switch role {
	case "", domain.RoleViewer, domain.RolePredictor:
		return nil
	}
	return domain.BadRequest("public role must be viewer or predictor")
}

func validateSchedule(s *domain.Schedule) error {
	if s == nil {
		return nil
	}
	if s.OpenAt != nil && s.CloseAt != nil && s.CloseAt.Before(*s.OpenAt) {
		return domain.BadRequest("close time precedes open time")
	}
	if s.CloseAt != nil && s.ResolveAt != nil && s.ResolveAt.Before(*s.CloseAt) {
		return domain.BadRequest("resolve time precedes close time")
	}
	if s.OpenAt != nil && s.ResolveAt != nil && s.ResolveAt.Before(*s.OpenAt) {
		return domain.BadRequest("resolve time precedes open time")
	}
	return nil
}

// CreateRoom creates a room owned by the actor.
func (s *Service) CreateRoom(ctx context.Context, actor domain.Viewer, in RoomInput) (domain.Room, error) {
	if err := requireUser(actor); err != nil {
		return domain.Room{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Room{}, domain.BadRequest("room name required")
	}
	if err := validatePublicRole(in.PublicRole); err != nil {
		return domain.Room{}, err
	}
	if err := validateSchedule(in.DefaultSchedule); err != nil {
		return domain.Room{}, err
	}
	var created domain.Room
	_, err := s.mutate(ctx, "create_room", func(tx domain.Transaction) error {
		if _, ok := tx.Users().Deref(domain.RefTo[domain.User](actor.UserID)); !ok {
			return domain.Unauthorized("unknown user")
		}
		var err error
		created, err = tx.Rooms().Insert(domain.Room{
			Name:            name,
			Description:     strings.TrimSpace(in.Description),
			DefaultSchedule: in.DefaultSchedule,
			PublicRole:      in.PublicRole,
			Members: []domain.Member{{
				User:     domain.RefTo[domain.User](actor.UserID),
				Role:     domain.RoleOwner,
				JoinedAt: tx.Now(),
			}},
			Questions: []domain.Ref[domain.Question]{},
		})
		return err
	})
	return created, err
}

// UpdateRoom applies patch to a room the actor manages.
func (s *Service) UpdateRoom(ctx context.Context, actor domain.Viewer, roomID string, patch RoomPatch) (domain.Room, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return domain.Room{}, domain.BadRequest("room name required")
	}
	if patch.PublicRole != nil {
		if err := validatePublicRole(*patch.PublicRole); err != nil {
			return domain.Room{}, err
		}
	}
	if err := validateSchedule(patch.DefaultSchedule); err != nil {
		return domain.Room{}, err
	}
	var updated domain.Room
	_, err := s.mutate(ctx, "update_room", func(tx domain.Transaction) error {
		_, perms, err := roomFor(tx.Snapshot(), actor, roomID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageRoom); err != nil {
			return err
		}
		updated, err = tx.Rooms().Modify(domain.RefTo[domain.Room](roomID), func(r *domain.Room) error {
			if patch.Name != nil {
				r.Name = strings.TrimSpace(*patch.Name)
			}
			if patch.Description != nil {
				r.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.ClearDefaultSchedule {
				r.DefaultSchedule = nil
			} else if patch.DefaultSchedule != nil {
				r.DefaultSchedule = patch.DefaultSchedule
			}
			if patch.PublicRole != nil {
				r.PublicRole = *patch.PublicRole
			}
			return nil
		})
		return err
	})
	return updated, err
}

// DeleteRoom removes a room together with its questions and every comment
// on the room or those questions, in one update group. Prediction history
// is append-only and stays behind as dangling data.
func (s *Service) DeleteRoom(ctx context.Context, actor domain.Viewer, roomID string) error {
	_, err := s.mutate(ctx, "delete_room", func(tx domain.Transaction) error {
		room, perms, err := roomFor(tx.Snapshot(), actor, roomID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageRoom); err != nil {
			return err
		}
		doomed := map[string]struct{}{}
		for _, q := range room.Questions {
			doomed[q.ID] = struct{}{}
			if err := tx.Questions().Delete(q, true); err != nil {
				return err
			}
		}
		for _, c := range tx.Comments().List() {
			_, onQuestion := doomed[c.Container.ID]
			onRoom := c.Container.Kind == domain.EntityRoom && c.Container.ID == roomID
			if onRoom || (c.Container.Kind == domain.EntityQuestion && onQuestion) {
				if err := tx.Comments().Delete(domain.RefTo[domain.Comment](c.ID), false); err != nil {
					return err
				}
			}
		}
		return tx.Rooms().Delete(domain.RefTo[domain.Room](roomID), false)
	})
	return err
}

// SetMemberRole adds userID to the room or changes their role.
func (s *Service) SetMemberRole(ctx context.Context, actor domain.Viewer, roomID, userID string, role domain.Role) (domain.Room, error) {
	if !role.Valid() {
		return domain.Room{}, domain.BadRequest("unknown role %q", role)
	}
	var updated domain.Room
	_, err := s.mutate(ctx, "set_member_role", func(tx domain.Transaction) error {
		_, perms, err := roomFor(tx.Snapshot(), actor, roomID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageMembers); err != nil {
			return err
		}
		if _, ok := tx.Users().Deref(domain.RefTo[domain.User](userID)); !ok {
			return domain.NotFound(domain.EntityUser, userID)
		}
		updated, err = tx.Rooms().Modify(domain.RefTo[domain.Room](roomID), func(r *domain.Room) error {
			for i := range r.Members {
				if r.Members[i].User.ID == userID {
					r.Members[i].Role = role
					return nil
				}
			}
			r.Members = append(r.Members, domain.Member{User: domain.RefTo[domain.User](userID), Role: role, JoinedAt: tx.Now()})
			return nil
		})
		return err
	})
	return updated, err
}

// RemoveMember removes userID from the room. Members may always remove themselves.
func (s *Service) RemoveMember(ctx context.Context, actor domain.Viewer, roomID, userID string) (domain.Room, error) {
	var updated domain.Room
	_, err := s.mutate(ctx, "remove_member", func(tx domain.Transaction) error {
		room, perms, err := roomFor(tx.Snapshot(), actor, roomID)
		if err != nil {
			return err
		}
		if userID != actor.UserID {
			if err := require(perms, domain.PermManageMembers); err != nil {
				return err
			}
		}
		if _, ok := room.MemberRole(userID); !ok {
			return domain.BadRequest("user is not a member")
		}
		updated, err = tx.Rooms().Modify(domain.RefTo[domain.Room](roomID), func(r *domain.Room) error {
			r.Members = slices.DeleteFunc(r.Members, func(m domain.Member) bool { return m.User.ID == userID })
			return nil
		})
		return err
	})
	return updated, err
}

// CreateInviteLink issues a link granting role to whoever redeems it.
func (s *Service) CreateInviteLink(ctx context.Context, actor domain.Viewer, roomID string, role domain.Role) (domain.InviteLink, error) {
	if !role.Valid() || role == domain.RoleOwner {
		return domain.InviteLink{}, domain.BadRequest("invite links grant viewer, predictor or moderator")
	}
	var link domain.InviteLink
	_, err := s.mutate(ctx, "create_invite", func(tx domain.Transaction) error {
		_, perms, err := roomFor(tx.Snapshot(), actor, roomID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageMembers); err != nil {
			return err
		}
		_, err = tx.Rooms().Modify(domain.RefTo[domain.Room](roomID), func(r *domain.Room) error {
			link = domain.InviteLink{
				ID:        newToken(),
				Role:      role,
				CreatedBy: domain.RefTo[domain.User](actor.UserID),
				CreatedAt: tx.Now(),
			}
			r.InviteLinks = append(r.InviteLinks, link)
			return nil
		})
		return err
	})
	return link, err
}

// DisableInviteLink stops a link from being redeemed.
func (s *Service) DisableInviteLink(ctx context.Context, actor domain.Viewer, roomID, linkID string) error {
	_, err := s.mutate(ctx, "disable_invite", func(tx domain.Transaction) error {
		_, perms, err := roomFor(tx.Snapshot(), actor, roomID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageMembers); err != nil {
			return err
		}
		_, err = tx.Rooms().Modify(domain.RefTo[domain.Room](roomID), func(r *domain.Room) error {
			for i := range r.InviteLinks {
				if r.InviteLinks[i].ID == linkID {
					r.InviteLinks[i].Disabled = true
					return nil
				}
			}
			return domain.BadRequest("unknown invite link")
		})
		return err
	})
	return err
}

// JoinRoom redeems an invite link. Existing members keep the higher of their
// current role and the link's role.
func (s *Service) JoinRoom(ctx context.Context, actor domain.Viewer, roomID, linkID string) (domain.Room, error) {
	if err := requireUser(actor); err != nil {
		return domain.Room{}, err
	}
	var updated domain.Room
	_, err := s.mutate(ctx, "join_room", func(tx domain.Transaction) error {
		if _, ok := tx.Users().Deref(domain.RefTo[domain.User](actor.UserID)); !ok {
			return domain.Unauthorized("unknown user")
		}
		var err error
		updated, err = tx.Rooms().Modify(domain.RefTo[domain.Room](roomID), func(r *domain.Room) error {
			idx := slices.IndexFunc(r.InviteLinks, func(l domain.InviteLink) bool { return l.ID == linkID })
			if idx < 0 || r.InviteLinks[idx].Disabled {
				return domain.NotFound(domain.EntityRoom, roomID)
			}
			link := &r.InviteLinks[idx]
			link.Uses++
			for i := range r.Members {
				if r.Members[i].User.ID == actor.UserID {
					if domain.RoleRank(link.Role) > domain.RoleRank(r.Members[i].Role) {
						r.Members[i].Role = link.Role
					}
					return nil
				}
			}
			r.Members = append(r.Members, domain.Member{
				User:       domain.RefTo[domain.User](actor.UserID),
				Role:       link.Role,
				InviteLink: link.ID,
				JoinedAt:   tx.Now(),
			})
			return nil
		})
		return err
	})
	return updated, err
}
