package core

import (
	"context"
	"slices"
	"time"

	"foresight/pkg/domain"
)

// SubmitPrediction appends a new entry to the actor's history on an open question.
func (s *Service) SubmitPrediction(ctx context.Context, actor domain.Viewer, questionID string, dist domain.Distribution) (domain.Prediction, error) {
	if err := requireUser(actor); err != nil {
		return domain.Prediction{}, err
	}
	if err := dist.Validate(); err != nil {
		return domain.Prediction{}, err
	}
	var saved domain.Prediction
	_, err := s.mutate(ctx, "submit_prediction", func(tx domain.Transaction) error {
		q, _, perms, err := questionFor(tx.Snapshot(), actor, questionID)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermPredict); err != nil {
			return err
		}
		if q.State != domain.QuestionOpen {
			return domain.BadRequest("question is %s", q.State)
		}
		saved, err = tx.Predictions().Save(domain.Prediction{
			Question:     q.Ref(),
			User:         domain.RefTo[domain.User](actor.UserID),
			Distribution: dist.Clone(),
		})
		return err
	})
	return saved, err
}

// PredictionAt returns the entry userID had in effect on the question at ts.
// Reading one's own history is a single-key lookup and skips the queue.
func (s *Service) PredictionAt(ctx context.Context, actor domain.Viewer, questionID, userID string, ts time.Time) (domain.Prediction, error) {
	key := domain.PredictionKey{Question: questionID, User: userID}
	if userID != "" && userID == actor.UserID {
		p, ok := s.store.History().At(key, ts)
		if !ok {
			return domain.Prediction{}, domain.NotFound(domain.EntityPrediction, questionID)
		}
		return p, nil
	}
	var out domain.Prediction
	err := s.read(ctx, "prediction_at", func(view domain.View) error {
		if _, _, perms, err := questionFor(view, actor, questionID); err != nil {
			return err
		} else if err := require(perms, domain.PermExport); err != nil {
			return err
		}
		p, ok := view.Predictions().At(key, ts)
		if !ok {
			return domain.NotFound(domain.EntityPrediction, questionID)
		}
		out = p
		return nil
	})
	return out, err
}

// PredictionHistory returns userID's full ordered history on the question.
func (s *Service) PredictionHistory(ctx context.Context, actor domain.Viewer, questionID, userID string) ([]domain.Prediction, error) {
	key := domain.PredictionKey{Question: questionID, User: userID}
	if userID != "" && userID == actor.UserID {
		return slices.Collect(s.store.History().Query(key)), nil
	}
	var out []domain.Prediction
	err := s.read(ctx, "prediction_history", func(view domain.View) error {
		if _, _, perms, err := questionFor(view, actor, questionID); err != nil {
			return err
		} else if err := require(perms, domain.PermExport); err != nil {
			return err
		}
		out = slices.Collect(view.Predictions().Query(key))
		return nil
	})
	return out, err
}
