package core

import (
	"context"
	"errors"
	"time"

	"foresight/pkg/domain"
)

// ScheduleOutcome reports what one schedule application changed.
type ScheduleOutcome struct {
	Opened   bool
	Closed   bool
	Resolved bool
	Reminder *domain.Reminder
}

// Changed reports whether any event was applied.
func (o ScheduleOutcome) Changed() bool {
	return o.Opened || o.Closed || o.Resolved || o.Reminder != nil
}

// SweepReport summarises one pass over every question.
type SweepReport struct {
	Questions   int
	Transitions int
	Reminders   int
	Failures    int
}

// QuestionIDs lists every stored question.
func (s *Service) QuestionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.read(ctx, "list_questions", func(view domain.View) error {
		for _, q := range view.Questions().List() {
			ids = append(ids, q.ID)
		}
		return nil
	})
	return ids, err
}

// dueEvents sets every passed, unprocessed event flag on q and applies the
// matching transitions.
func dueEvents(q *domain.Question, sched domain.Schedule, now time.Time) ScheduleOutcome {
	var out ScheduleOutcome
	passed := func(t *time.Time) bool { return t != nil && !t.After(now) }

	if passed(sched.OpenAt) && !q.ScheduleStatus.OpenDone {
		q.ScheduleStatus.OpenDone = true
		if q.State == domain.QuestionPending {
			q.State = domain.QuestionOpen
		}
		out.Opened = true
	}
	if passed(sched.CloseAt) && !q.ScheduleStatus.CloseDone {
		q.ScheduleStatus.CloseDone = true
		if q.State == domain.QuestionPending || q.State == domain.QuestionOpen {
			q.State = domain.QuestionClosed
		}
		out.Closed = true
	}
	if passed(sched.ResolveAt) && !q.ScheduleStatus.ResolveDone {
		q.ScheduleStatus.ResolveDone = true
		if q.Resolution != nil {
			q.State = domain.QuestionResolved
			out.Resolved = true
		} else {
			out.Reminder = &domain.Reminder{
				Question: q.Ref(),
				Author:   q.Author,
				Title:    q.Title,
				DueAt:    *sched.ResolveAt,
			}
		}
	}
	return out
}

// ApplySchedule processes the due schedule events of one question as a
// single update group. A reminder for a missing resolution is dispatched
// after the group commits, outside the queue. A question that no longer
// exists yields an empty outcome.
func (s *Service) ApplySchedule(ctx context.Context, questionID string, now time.Time) (ScheduleOutcome, error) {
	var out ScheduleOutcome
	_, err := s.mutate(ctx, "apply_schedule", func(tx domain.Transaction) error {
		out = ScheduleOutcome{}
		q, ok := tx.Questions().Deref(domain.RefTo[domain.Question](questionID))
		if !ok || q.State == domain.QuestionResolved {
			return nil
		}
		room, roomFound := tx.Rooms().Deref(q.Room)
		sched := q.EffectiveSchedule(room, roomFound)
		if sched.IsZero() {
			return nil
		}
		next := q.Clone()
		out = dueEvents(&next, sched, now)
		if !out.Changed() {
			return nil
		}
		_, err := tx.Questions().Replace(next)
		return err
	})
	if err != nil {
		return ScheduleOutcome{}, err
	}
	if out.Reminder != nil {
		s.reminders.Dispatch(ctx, *out.Reminder)
	}
	return out, nil
}

// Sweep applies due schedule events to every question, one update group per
// question. A failing question is logged and does not stop the sweep.
func (s *Service) Sweep(ctx context.Context) (SweepReport, error) {
	now := s.nowFn()
	ids, err := s.QuestionIDs(ctx)
	if err != nil {
		return SweepReport{}, err
	}
	report := SweepReport{Questions: len(ids)}
	for _, id := range ids {
		out, err := s.ApplySchedule(ctx, id, now)
		if err != nil {
			if errors.Is(err, ErrQueueStopped) || ctx.Err() != nil {
				return report, err
			}
			report.Failures++
			s.logger.Error("sweep_question_failed", "question", id, "error", err)
			continue
		}
		if out.Opened || out.Closed || out.Resolved {
			report.Transitions++
			s.logger.Info("sweep_transition", "question", id, "opened", out.Opened, "closed", out.Closed, "resolved", out.Resolved)
		}
		if out.Reminder != nil {
			report.Reminders++
		}
	}
	return report, nil
}
