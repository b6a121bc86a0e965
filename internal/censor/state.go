// Package censor computes the viewer-specific filtered snapshot pushed to
// clients. It performs no I/O and holds no state between calls.
package censor

import (
	"time"

	"foresight/pkg/domain"
)

// SentState is everything one viewer is allowed to see.
type SentState struct {
	ViewerID         string              `json:"viewer_id,omitempty"`
	Rooms            []RoomView          `json:"rooms"`
	Questions        []domain.Question   `json:"questions"`
	Comments         []CommentView       `json:"comments"`
	GroupPredictions []GroupPrediction   `json:"group_predictions"`
	Users            []UserView          `json:"users"`
	Predictions      []domain.Prediction `json:"predictions"`
	Session          *SessionState       `json:"session,omitempty"`
}

// RoomView is the visible projection of a room.
type RoomView struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	Members         []domain.Member     `json:"members,omitempty"`
	Questions       []string            `json:"questions"`
	InviteLinks     []domain.InviteLink `json:"invite_links,omitempty"`
	DefaultSchedule *domain.Schedule    `json:"default_schedule,omitempty"`
	PublicRole      domain.Role         `json:"public_role,omitempty"`
	Permissions     []domain.Permission `json:"permissions"`
	CreatedAt       time.Time           `json:"created_at"`
}

// CommentView is a visible comment with its attached prediction resolved.
type CommentView struct {
	domain.Comment
	AttachedPrediction *domain.Prediction `json:"attached_prediction,omitempty"`
}

// GroupPrediction is the anonymous aggregate of every user's latest
// prediction on a question: an equal-weight mixture of their distributions.
type GroupPrediction struct {
	Question   string                `json:"question"`
	Count      int                   `json:"count"`
	Components []domain.Distribution `json:"components"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

// UserView is a user record with the credential removed. Only ID and
// Nickname are set for display-name-only entries.
type UserView struct {
	ID          string             `json:"id"`
	Nickname    string             `json:"nickname"`
	Email       string             `json:"email,omitempty"`
	Verified    *bool              `json:"verified,omitempty"`
	AccountType domain.AccountType `json:"account_type,omitempty"`
	CreatedAt   *time.Time         `json:"created_at,omitempty"`
}

// SessionState is the ephemeral per-connection state echoed back to its owner.
type SessionState struct {
	ID         string `json:"id"`
	Presenting string `json:"presenting,omitempty"`
}
