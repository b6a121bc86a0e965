package core

import (
	"context"
	"fmt"

	"foresight/pkg/domain"
)

// ScheduleStatusRule blocks any update that clears a processed schedule flag.
func ScheduleStatusRule() domain.Rule {
	return scheduleStatusRule{}
}

type scheduleStatusRule struct{}

func (scheduleStatusRule) Name() string { return "schedule_status_monotone" }

func (scheduleStatusRule) Evaluate(_ context.Context, _ domain.View, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityQuestion || change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := change.Before.(domain.Question)
		after, okAfter := change.After.(domain.Question)
		if !okBefore || !okAfter {
			continue
		}
		if before.ScheduleStatus.Regresses(after.ScheduleStatus) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "schedule_status_monotone",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("question %s schedule status cannot be reset", after.ID),
				Entity:   domain.EntityQuestion,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
