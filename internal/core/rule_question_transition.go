package core

import (
	"context"
	"fmt"

	"foresight/pkg/domain"
)

// QuestionTransitionRule blocks illegal question state transitions.
func QuestionTransitionRule() domain.Rule {
	return questionTransitionRule{}
}

type questionTransitionRule struct{}

var questionTransitions = map[domain.QuestionState]map[domain.QuestionState]struct{}{
	domain.QuestionPending:  toSet(domain.QuestionOpen, domain.QuestionClosed, domain.QuestionResolved),
	domain.QuestionOpen:     toSet(domain.QuestionClosed, domain.QuestionResolved),
	domain.QuestionClosed:   toSet(domain.QuestionOpen, domain.QuestionResolved),
	domain.QuestionResolved: {},
}

func (questionTransitionRule) Name() string { return "question_transition" }

func (questionTransitionRule) Evaluate(_ context.Context, _ domain.View, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityQuestion {
			continue
		}
		after, ok := change.After.(domain.Question)
		if !ok {
			continue
		}
		if _, valid := questionTransitions[after.State]; !valid {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "question_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("question %s is set to invalid state %q", after.ID, after.State),
				Entity:   domain.EntityQuestion,
				EntityID: after.ID,
			})
			continue
		}
		if after.State == domain.QuestionResolved && after.Resolution == nil {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "question_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("question %s cannot resolve without a resolution", after.ID),
				Entity:   domain.EntityQuestion,
				EntityID: after.ID,
			})
			continue
		}
		before, ok := change.Before.(domain.Question)
		if !ok || before.State == after.State {
			continue
		}
		if _, allowed := questionTransitions[before.State][after.State]; !allowed {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "question_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("cannot move question %s from %s to %s", after.ID, before.State, after.State),
				Entity:   domain.EntityQuestion,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
