package core

import (
	"context"
	"slices"
	"strings"

	"foresight/pkg/domain"
)

// QuestionInput carries the fields of a new question.
type QuestionInput struct {
	Title                   string             `json:"title"`
	Description             string             `json:"description"`
	AnswerSpace             domain.AnswerSpace `json:"answer_space"`
	Visible                 *bool              `json:"visible,omitempty"`
	GroupPredictionsVisible bool               `json:"group_predictions_visible"`
	Schedule                *domain.Schedule   `json:"schedule,omitempty"`
}

// QuestionPatch lists optional question changes. Nil fields are left untouched.
type QuestionPatch struct {
	Title                   *string          `json:"title,omitempty"`
	Description             *string          `json:"description,omitempty"`
	Visible                 *bool            `json:"visible,omitempty"`
	GroupPredictionsVisible *bool            `json:"group_predictions_visible,omitempty"`
	Schedule                *domain.Schedule `json:"schedule,omitempty"`
	ClearSchedule           bool             `json:"clear_schedule,omitempty"`
}

// ResolveInput is the outcome recorded for a question.
type ResolveInput struct {
	Value     *float64 `json:"value,omitempty"`
	Ambiguous bool     `json:"ambiguous,omitempty"`
}

func validateAnswerSpace(space domain.AnswerSpace) (domain.AnswerSpace, error) {
	switch space.Kind {
	case "":
		space.Kind = domain.AnswerBinary
	case domain.AnswerBinary:
	case domain.AnswerContinuous, domain.AnswerDate:
		if space.Max <= space.Min {
			return space, domain.BadRequest("answer space max must exceed min")
		}
	default:
		return space, domain.BadRequest("unknown answer kind %q", space.Kind)
	}
	if space.Kind == domain.AnswerBinary {
		space.Min, space.Max = 0, 1
	}
	return space, nil
}

// CreateQuestion adds a question to a room. The question starts pending when
// its effective schedule has an open time, and open otherwise.
func (s *Service) CreateQuestion(ctx context.Context, actor domain.Viewer, roomID string, in QuestionInput) (domain.Question, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Question{}, domain.BadRequest("question title required")
	}
	space, err := validateAnswerSpace(in.AnswerSpace)
	if err != nil {
		return domain.Question{}, err
	}
	if err := validateSchedule(in.Schedule); err != nil {
		return domain.Question{}, err
	}
	visible := true
	if in.Visible != nil {
		visible = *in.Visible
	}
	var created domain.Question
	_, err = s.mutate(ctx, "create_question", func(tx domain.Transaction) error {
		room, perms, err := roomFor(tx.Snapshot(), actor, roomID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageQuestions); err != nil {
			return err
		}
		q := domain.Question{
			Room:                    domain.RefTo[domain.Room](roomID),
			Author:                  domain.RefTo[domain.User](actor.UserID),
			Title:                   title,
			Description:             strings.TrimSpace(in.Description),
			AnswerSpace:             space,
			Visible:                 visible,
			GroupPredictionsVisible: in.GroupPredictionsVisible,
			Schedule:                in.Schedule,
			State:                   domain.QuestionOpen,
		}
		if q.EffectiveSchedule(room, true).OpenAt != nil {
			q.State = domain.QuestionPending
		}
		created, err = tx.Questions().Insert(q)
		if err != nil {
			return err
		}
		_, err = tx.Rooms().Modify(room.Ref(), func(r *domain.Room) error {
			r.Questions = append(r.Questions, domain.RefTo[domain.Question](created.ID))
			return nil
		})
		return err
	})
	return created, err
}

// UpdateQuestion applies patch. Schedule edits never reset processed events.
func (s *Service) UpdateQuestion(ctx context.Context, actor domain.Viewer, questionID string, patch QuestionPatch) (domain.Question, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Question{}, domain.BadRequest("question title required")
	}
	if err := validateSchedule(patch.Schedule); err != nil {
		return domain.Question{}, err
	}
	var updated domain.Question
	_, err := s.mutate(ctx, "update_question", func(tx domain.Transaction) error {
		_, _, perms, err := questionFor(tx.Snapshot(), actor, questionID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageQuestions); err != nil {
			return err
		}
		updated, err = tx.Questions().Modify(domain.RefTo[domain.Question](questionID), func(q *domain.Question) error {
			if patch.Title != nil {
				q.Title = strings.TrimSpace(*patch.Title)
			}
			if patch.Description != nil {
				q.Description = strings.TrimSpace(*patch.Description)
			}
			if patch.Visible != nil {
				q.Visible = *patch.Visible
			}
			if patch.GroupPredictionsVisible != nil {
				q.GroupPredictionsVisible = *patch.GroupPredictionsVisible
			}
			if patch.ClearSchedule {
				q.Schedule = nil
			} else if patch.Schedule != nil {
				q.Schedule = patch.Schedule
			}
			return nil
		})
		return err
	})
	return updated, err
}

// DeleteQuestion removes a question, strips its ref from every room listing
// it and deletes its comments, all in one update group.
func (s *Service) DeleteQuestion(ctx context.Context, actor domain.Viewer, questionID string) error {
	_, err := s.mutate(ctx, "delete_question", func(tx domain.Transaction) error {
		_, _, perms, err := questionFor(tx.Snapshot(), actor, questionID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageQuestions); err != nil {
			return err
		}
		ref := domain.RefTo[domain.Question](questionID)
		if err := tx.Questions().Delete(ref, false); err != nil {
			return err
		}
		for _, room := range tx.Rooms().List() {
			if !room.HasQuestion(questionID) {
				continue
			}
			if _, err := tx.Rooms().Modify(room.Ref(), func(r *domain.Room) error {
				r.Questions = slices.DeleteFunc(r.Questions, func(q domain.Ref[domain.Question]) bool { return q.ID == questionID })
				return nil
			}); err != nil {
				return err
			}
		}
		for _, c := range tx.Comments().List() {
			if c.Container.Kind == domain.EntityQuestion && c.Container.ID == questionID {
				if err := tx.Comments().Delete(domain.RefTo[domain.Comment](c.ID), false); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return err
}

// SetQuestionState moves a question between pending, open and closed by hand.
// Resolution goes through ResolveQuestion.
func (s *Service) SetQuestionState(ctx context.Context, actor domain.Viewer, questionID string, state domain.QuestionState) (domain.Question, error) {
	switch state {
	case domain.QuestionOpen, domain.QuestionClosed:
	case domain.QuestionResolved:
		return domain.Question{}, domain.BadRequest("use resolve to resolve a question")
	default:
		return domain.Question{}, domain.BadRequest("unknown state %q", state)
	}
	var updated domain.Question
	_, err := s.mutate(ctx, "set_question_state", func(tx domain.Transaction) error {
		_, _, perms, err := questionFor(tx.Snapshot(), actor, questionID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageQuestions); err != nil {
			return err
		}
		updated, err = tx.Questions().Modify(domain.RefTo[domain.Question](questionID), func(q *domain.Question) error {
			q.State = state
			return nil
		})
		return err
	})
	return updated, err
}

// ResolveQuestion records the outcome. The question becomes resolved at once
// unless its resolve event is still in the future, in which case the
// scheduler resolves it when the event passes.
func (s *Service) ResolveQuestion(ctx context.Context, actor domain.Viewer, questionID string, in ResolveInput) (domain.Question, error) {
	if in.Value == nil && !in.Ambiguous {
		return domain.Question{}, domain.BadRequest("resolution value or ambiguous flag required")
	}
	var updated domain.Question
	_, err := s.mutate(ctx, "resolve_question", func(tx domain.Transaction) error {
		q, room, perms, err := questionFor(tx.Snapshot(), actor, questionID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermManageQuestions); err != nil {
			return err
		}
		if q.State == domain.QuestionResolved {
			return domain.BadRequest("question already resolved")
		}
		if in.Value != nil && q.AnswerSpace.Kind != domain.AnswerBinary {
			if *in.Value < q.AnswerSpace.Min || *in.Value > q.AnswerSpace.Max {
				return domain.BadRequest("resolution outside answer space")
			}
		}
		if in.Value != nil && q.AnswerSpace.Kind == domain.AnswerBinary && *in.Value != 0 && *in.Value != 1 {
			return domain.BadRequest("binary resolution must be 0 or 1")
		}
		now := tx.Now()
		resolveAt := q.EffectiveSchedule(room, true).ResolveAt
		updated, err = tx.Questions().Modify(domain.RefTo[domain.Question](questionID), func(q *domain.Question) error {
			q.Resolution = &domain.Resolution{
				Value:     in.Value,
				Ambiguous: in.Ambiguous,
				SetBy:     domain.RefTo[domain.User](actor.UserID),
				SetAt:     now,
			}
			if resolveAt == nil || !resolveAt.After(now) {
				q.State = domain.QuestionResolved
				if resolveAt != nil {
					q.ScheduleStatus.ResolveDone = true
				}
			}
			return nil
		})
		return err
	})
	return updated, err
}
