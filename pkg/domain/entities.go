// Package domain defines the forecasting entities, typed references, error
// kinds and rule evaluation primitives used by foresight.
package domain

import (
	"slices"
	"time"
)

// EntityType identifies the type of record stored in the entity store.
type EntityType string

// Supported entity type identifiers used in Change records and store tables.
const (
	// EntityRoom identifies a room record.
	EntityRoom EntityType = "room"
	// EntityQuestion identifies a question record.
	EntityQuestion EntityType = "question"
	// EntityPrediction identifies a prediction history entry.
	EntityPrediction EntityType = "prediction"
	// EntityComment identifies a comment record.
	EntityComment EntityType = "comment"
	// EntityUser identifies a user account.
	EntityUser EntityType = "user"
)

// Base contains common fields for all stored entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID returns the store identity of the record.
func (b Base) EntityID() string { return b.ID }

// Created returns the creation time.
func (b Base) Created() time.Time { return b.CreatedAt }

// SetEntityID assigns the store identity. Only the store calls this.
func (b *Base) SetEntityID(id string) { b.ID = id }

// Stamp records creation and update times. CreatedAt is preserved once set.
func (b *Base) Stamp(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Role is a member's standing inside a room.
type Role string

// Room roles ordered from most to least privileged.
const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RolePredictor Role = "predictor"
	RoleViewer    Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleModerator, RolePredictor, RoleViewer:
		return true
	}
	return false
}

// Member binds a user to a room with a role.
type Member struct {
	User       Ref[User] `json:"user"`
	Role       Role      `json:"role"`
	InviteLink string    `json:"invite_link,omitempty"`
	JoinedAt   time.Time `json:"joined_at"`
}

// InviteLink grants a role to whoever redeems it.
type InviteLink struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedBy Ref[User] `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Disabled  bool      `json:"disabled"`
	Uses      int       `json:"uses"`
}

// Schedule holds the optional lifecycle event times of a question.
type Schedule struct {
	OpenAt    *time.Time `json:"open_at,omitempty"`
	CloseAt   *time.Time `json:"close_at,omitempty"`
	ResolveAt *time.Time `json:"resolve_at,omitempty"`
}

// IsZero reports whether no event time is set.
func (s Schedule) IsZero() bool {
	return s.OpenAt == nil && s.CloseAt == nil && s.ResolveAt == nil
}

func (s Schedule) clone() Schedule {
	return Schedule{OpenAt: cloneTime(s.OpenAt), CloseAt: cloneTime(s.CloseAt), ResolveAt: cloneTime(s.ResolveAt)}
}

// ScheduleStatus records which schedule events have already been processed.
// Each flag only ever moves from false to true.
type ScheduleStatus struct {
	OpenDone    bool `json:"open_done"`
	CloseDone   bool `json:"close_done"`
	ResolveDone bool `json:"resolve_done"`
}

// Regresses reports whether next clears any flag set in s.
func (s ScheduleStatus) Regresses(next ScheduleStatus) bool {
	return (s.OpenDone && !next.OpenDone) ||
		(s.CloseDone && !next.CloseDone) ||
		(s.ResolveDone && !next.ResolveDone)
}

// Room groups members and questions.
type Room struct {
	Base
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	Members         []Member        `json:"members"`
	Questions       []Ref[Question] `json:"questions"`
	InviteLinks     []InviteLink    `json:"invite_links,omitempty"`
	DefaultSchedule *Schedule       `json:"default_schedule,omitempty"`
	// PublicRole, when set, is granted to every viewer that is not a member.
	PublicRole Role `json:"public_role,omitempty"`
}

// Clone returns a deep copy of the room.
func (r Room) Clone() Room {
	cp := r
	cp.Members = slices.Clone(r.Members)
	cp.Questions = slices.Clone(r.Questions)
	cp.InviteLinks = slices.Clone(r.InviteLinks)
	if r.DefaultSchedule != nil {
		s := r.DefaultSchedule.clone()
		cp.DefaultSchedule = &s
	}
	return cp
}

// MemberRole returns the role held by userID, if any.
func (r Room) MemberRole(userID string) (Role, bool) {
	if userID == "" {
		return "", false
	}
	for _, m := range r.Members {
		if m.User.ID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// HasQuestion reports whether the room lists the question.
func (r Room) HasQuestion(id string) bool {
	return slices.ContainsFunc(r.Questions, func(q Ref[Question]) bool { return q.ID == id })
}

// QuestionState is the lifecycle state of a question.
type QuestionState string

// Question lifecycle states.
const (
	QuestionPending  QuestionState = "pending"
	QuestionOpen     QuestionState = "open"
	QuestionClosed   QuestionState = "closed"
	QuestionResolved QuestionState = "resolved"
)

// AnswerKind describes the shape of a question's answer space.
type AnswerKind string

// Answer space kinds.
const (
	AnswerBinary     AnswerKind = "binary"
	AnswerContinuous AnswerKind = "continuous"
	AnswerDate       AnswerKind = "date"
)

// AnswerSpace bounds the values a prediction may cover.
type AnswerSpace struct {
	Kind AnswerKind `json:"kind"`
	Min  float64    `json:"min,omitempty"`
	Max  float64    `json:"max,omitempty"`
}

// Resolution is the realized outcome of a question.
type Resolution struct {
	Value     *float64  `json:"value,omitempty"`
	Ambiguous bool      `json:"ambiguous,omitempty"`
	SetBy     Ref[User] `json:"set_by"`
	SetAt     time.Time `json:"set_at"`
}

// Question is a forecasting target inside a room.
type Question struct {
	Base
	Room        Ref[Room]     `json:"room"`
	Author      Ref[User]     `json:"author"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	AnswerSpace AnswerSpace   `json:"answer_space"`
	State       QuestionState `json:"state"`
	// Visible false hides the question from viewers without the hidden-view permission.
	Visible                 bool           `json:"visible"`
	GroupPredictionsVisible bool           `json:"group_predictions_visible"`
	Resolution              *Resolution    `json:"resolution,omitempty"`
	Schedule                *Schedule      `json:"schedule,omitempty"`
	ScheduleStatus          ScheduleStatus `json:"schedule_status"`
}

// Clone returns a deep copy of the question.
func (q Question) Clone() Question {
	cp := q
	if q.Resolution != nil {
		r := *q.Resolution
		if q.Resolution.Value != nil {
			v := *q.Resolution.Value
			r.Value = &v
		}
		cp.Resolution = &r
	}
	if q.Schedule != nil {
		s := q.Schedule.clone()
		cp.Schedule = &s
	}
	return cp
}

// EffectiveSchedule returns the question's own schedule, else the room default.
func (q Question) EffectiveSchedule(room Room, roomFound bool) Schedule {
	if q.Schedule != nil {
		return q.Schedule.clone()
	}
	if roomFound && room.DefaultSchedule != nil {
		return room.DefaultSchedule.clone()
	}
	return Schedule{}
}

// Prediction is one entry of a user's forecast history on a question.
type Prediction struct {
	ID           string        `json:"id"`
	Question     Ref[Question] `json:"question"`
	User         Ref[User]     `json:"user"`
	Timestamp    time.Time     `json:"timestamp"`
	Distribution Distribution  `json:"distribution"`
}

// Key returns the history key of the prediction.
func (p Prediction) Key() PredictionKey {
	return PredictionKey{Question: p.Question.ID, User: p.User.ID}
}

// PredictionKey addresses one user's history on one question.
type PredictionKey struct {
	Question string
	User     string
}

// Comment is a message attached to a room or a question.
type Comment struct {
	Base
	Container  ContainerRef     `json:"container"`
	Author     Ref[User]        `json:"author"`
	Timestamp  time.Time        `json:"timestamp"`
	Content    string           `json:"content"`
	Prediction *Ref[Prediction] `json:"prediction,omitempty"`
}

// Clone returns a deep copy of the comment.
func (c Comment) Clone() Comment {
	cp := c
	if c.Prediction != nil {
		p := *c.Prediction
		cp.Prediction = &p
	}
	return cp
}

// ContainerRef points at the room or question a comment belongs to.
type ContainerRef struct {
	Kind EntityType `json:"kind"`
	ID   string     `json:"id"`
}

// AccountType distinguishes site administrators from regular users.
type AccountType string

// Account types.
const (
	AccountUser  AccountType = "user"
	AccountAdmin AccountType = "admin"
)

// User is an account. Credential holds a bcrypt hash and never leaves the process.
type User struct {
	Base
	Nickname    string      `json:"nickname"`
	Email       string      `json:"email"`
	Verified    bool        `json:"verified"`
	AccountType AccountType `json:"account_type"`
	Credential  string      `json:"-"`
}

// Clone returns a copy of the user.
func (u User) Clone() User { return u }

// Viewer identifies who a snapshot or mutation is computed for. The zero
// value is the anonymous viewer.
type Viewer struct {
	UserID string
	Admin  bool
}

// Anonymous reports whether the viewer has no identity.
func (v Viewer) Anonymous() bool { return v.UserID == "" }

// Change describes a mutation applied to an entity during an update group.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported store operations.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock blocks the update group from committing.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine. Changes lists what a
// committed update group wrote.
type Result struct {
	Violations []Violation
	Changes    []Change
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "update blocked by rule " + v.Rule + ": " + v.Message
		}
	}
	return "update blocked by rules"
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Clone returns a deep copy of the prediction.
func (p Prediction) Clone() Prediction {
	cp := p
	cp.Distribution = p.Distribution.Clone()
	return cp
}

// Ref returns a typed reference to the room.
func (r Room) Ref() Ref[Room] { return RefTo[Room](r.ID) }

// Ref returns a typed reference to the question.
func (q Question) Ref() Ref[Question] { return RefTo[Question](q.ID) }
