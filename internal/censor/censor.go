package censor

import (
	"slices"
	"sort"

	"foresight/pkg/domain"
)

// Censor builds the SentState for viewer from the full state in view. The
// rules run in a fixed order because later steps depend on what earlier
// steps admitted: users are filtered last, after the comment pass has
// collected which authors the viewer may see by name.
func Censor(view domain.View, viewer domain.Viewer) SentState {
	c := &censorRun{
		view:    view,
		viewer:  viewer,
		perms:   make(map[string]domain.PermissionSet),
		rooms:   make(map[string]domain.Room),
		visible: make(map[string]domain.Question),
		authors: make(map[string]struct{}),
	}
	state := SentState{ViewerID: viewer.UserID}
	state.Rooms = c.filterRooms()
	state.Questions = c.filterQuestions(state.Rooms)
	state.Comments = c.filterComments()
	state.GroupPredictions = c.filterGroupPredictions(state.Questions)
	state.Users = c.filterUsers()
	state.Predictions = c.ownPredictions()
	return state
}

type censorRun struct {
	view    domain.View
	viewer  domain.Viewer
	perms   map[string]domain.PermissionSet
	rooms   map[string]domain.Room
	visible map[string]domain.Question
	authors map[string]struct{}
}

// filterRooms keeps rooms the viewer may view.
func (c *censorRun) filterRooms() []RoomView {
	out := []RoomView{}
	for _, room := range c.view.Rooms().List() {
		perms := domain.Permissions(c.viewer, room)
		if !perms.Has(domain.PermViewRoom) {
			continue
		}
		c.perms[room.ID] = perms
		c.rooms[room.ID] = room
		rv := RoomView{
			ID:              room.ID,
			Name:            room.Name,
			Description:     room.Description,
			DefaultSchedule: room.DefaultSchedule,
			PublicRole:      room.PublicRole,
			Permissions:     sortedPermissions(perms),
			CreatedAt:       room.CreatedAt,
			Questions:       []string{},
		}
		if perms.Has(domain.PermViewMembers) {
			rv.Members = room.Members
		}
		if perms.Has(domain.PermManageMembers) {
			rv.InviteLinks = room.InviteLinks
		}
		out = append(out, rv)
	}
	return out
}

// filterQuestions keeps questions listed by a visible room, dropping hidden
// ones unless the viewer may see hidden questions there. Dangling refs are
// skipped.
func (c *censorRun) filterQuestions(rooms []RoomView) []domain.Question {
	out := []domain.Question{}
	for i := range rooms {
		room := c.rooms[rooms[i].ID]
		perms := c.perms[room.ID]
		for _, ref := range room.Questions {
			if _, seen := c.visible[ref.ID]; seen {
				continue
			}
			q, ok := c.view.Questions().Deref(ref)
			if !ok {
				continue
			}
			if !q.Visible && !perms.Has(domain.PermViewHidden) {
				continue
			}
			c.visible[q.ID] = q
			c.perms[q.ID] = perms
			rooms[i].Questions = append(rooms[i].Questions, q.ID)
			out = append(out, q)
		}
	}
	return out
}

// filterComments keeps comments whose container is visible and grants the
// view-comments permission, and records their authors.
func (c *censorRun) filterComments() []CommentView {
	out := []CommentView{}
	for _, comment := range c.view.Comments().List() {
		var perms domain.PermissionSet
		switch comment.Container.Kind {
		case domain.EntityRoom:
			if _, ok := c.rooms[comment.Container.ID]; !ok {
				continue
			}
			perms = c.perms[comment.Container.ID]
		case domain.EntityQuestion:
			if _, ok := c.visible[comment.Container.ID]; !ok {
				continue
			}
			perms = c.perms[comment.Container.ID]
		default:
			continue
		}
		if !perms.Has(domain.PermViewComments) {
			continue
		}
		cv := CommentView{Comment: comment}
		if comment.Prediction != nil {
			if p, ok := c.view.Predictions().Find(*comment.Prediction); ok {
				cv.AttachedPrediction = &p
			}
		}
		c.authors[comment.Author.ID] = struct{}{}
		out = append(out, cv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// filterGroupPredictions includes aggregates only where the question exposes
// them or the viewer holds the elevated permission.
func (c *censorRun) filterGroupPredictions(questions []domain.Question) []GroupPrediction {
	out := []GroupPrediction{}
	for _, q := range questions {
		if !q.GroupPredictionsVisible && !c.perms[q.ID].Has(domain.PermViewGroupPredictions) {
			continue
		}
		latest := c.view.Predictions().LatestForQuestion(domain.RefTo[domain.Question](q.ID))
		if len(latest) == 0 {
			continue
		}
		gp := GroupPrediction{Question: q.ID, Count: len(latest)}
		for _, p := range latest {
			gp.Components = append(gp.Components, p.Distribution)
			if p.Timestamp.After(gp.UpdatedAt) {
				gp.UpdatedAt = p.Timestamp
			}
		}
		out = append(out, gp)
	}
	return out
}

// filterUsers runs last. Admins and the viewer themself get the full record
// minus the credential; authors of visible comments get their display name;
// everyone else is omitted.
func (c *censorRun) filterUsers() []UserView {
	out := []UserView{}
	for _, u := range c.view.Users().List() {
		switch {
		case c.viewer.Admin || (!c.viewer.Anonymous() && u.ID == c.viewer.UserID):
			verified := u.Verified
			created := u.CreatedAt
			out = append(out, UserView{
				ID:          u.ID,
				Nickname:    u.Nickname,
				Email:       u.Email,
				Verified:    &verified,
				AccountType: u.AccountType,
				CreatedAt:   &created,
			})
		default:
			if _, named := c.authors[u.ID]; named {
				out = append(out, UserView{ID: u.ID, Nickname: u.Nickname})
			}
		}
	}
	return out
}

// ownPredictions returns the viewer's latest prediction on every question
// that still exists, regardless of the question's visibility.
func (c *censorRun) ownPredictions() []domain.Prediction {
	out := []domain.Prediction{}
	if c.viewer.Anonymous() {
		return out
	}
	for _, p := range c.view.Predictions().LatestForUser(domain.RefTo[domain.User](c.viewer.UserID)) {
		if _, ok := c.view.Questions().Deref(p.Question); !ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

func sortedPermissions(set domain.PermissionSet) []domain.Permission {
	out := make([]domain.Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
