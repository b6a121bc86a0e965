// Package moderation is the bundled plugin that limits comment size and flags
// link-heavy comments for moderators.
package moderation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"foresight/internal/core"
	"foresight/pkg/domain"
)

// Rule names contributed by the plugin.
const (
	RuleCommentLength = "comment_length"
	RuleCommentLinks  = "comment_links"
)

// Plugin contributes the comment rules and a commit observer that logs
// flagged comments.
type Plugin struct {
	MaxLength int
	MaxLinks  int
	Logger    *slog.Logger
}

// New returns the plugin with its default limits.
func New(logger *slog.Logger) Plugin {
	return Plugin{MaxLength: 2000, MaxLinks: 3, Logger: logger}
}

// Name returns the plugin identifier.
func (Plugin) Name() string { return "moderation" }

// Version returns the plugin version.
func (Plugin) Version() string { return "1.0.0" }

// Register wires the rules and the flagged-comment observer.
func (p Plugin) Register(registry *core.PluginRegistry) error {
	if p.MaxLength <= 0 {
		return fmt.Errorf("moderation: max length must be positive")
	}
	registry.RegisterRule(lengthRule{max: p.MaxLength})
	if p.MaxLinks > 0 {
		registry.RegisterRule(linkRule{max: p.MaxLinks})
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return registry.RegisterCommitObserver("moderation_flags", flagLogger{logger: logger})
}

func commentsIn(changes []domain.Change) []domain.Comment {
	var out []domain.Comment
	for _, c := range changes {
		if c.Entity != domain.EntityComment || c.Action == domain.ActionDelete {
			continue
		}
		if comment, ok := c.After.(domain.Comment); ok {
			out = append(out, comment)
		}
	}
	return out
}

type lengthRule struct{ max int }

func (lengthRule) Name() string { return RuleCommentLength }

func (r lengthRule) Evaluate(_ context.Context, _ domain.View, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range commentsIn(changes) {
		if n := utf8.RuneCountInString(c.Content); n > r.max {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleCommentLength,
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("comment is %d characters, limit is %d", n, r.max),
				Entity:   domain.EntityComment,
				EntityID: c.ID,
			})
		}
	}
	return res, nil
}

type linkRule struct{ max int }

func (linkRule) Name() string { return RuleCommentLinks }

func (r linkRule) Evaluate(_ context.Context, _ domain.View, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range commentsIn(changes) {
		lower := strings.ToLower(c.Content)
		links := strings.Count(lower, "http://") + strings.Count(lower, "https://")
		if links > r.max {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleCommentLinks,
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("comment has %d links", links),
				Entity:   domain.EntityComment,
				EntityID: c.ID,
			})
		}
	}
	return res, nil
}

// flagLogger reports warn-level moderation violations after commit.
type flagLogger struct{ logger *slog.Logger }

func (f flagLogger) OnCommit(_ context.Context, event core.CommitEvent) {
	for _, v := range event.Result.Violations {
		if v.Rule != RuleCommentLinks {
			continue
		}
		f.logger.Warn("comment_flagged", "comment", v.EntityID, "rule", v.Rule, "message", v.Message, "op", event.Operation)
	}
}
