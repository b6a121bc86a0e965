package core

import (
	"context"
	"strings"
	"unicode/utf8"

	"foresight/pkg/domain"
)

const maxCommentLength = 10000

// CommentInput carries a new comment. AttachPrediction links the author's
// latest prediction on the question container.
type CommentInput struct {
	Content          string `json:"content"`
	AttachPrediction bool   `json:"attach_prediction,omitempty"`
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", domain.BadRequest("comment content required")
	}
	if utf8.RuneCountInString(content) > maxCommentLength {
		return "", domain.BadRequest("comment too long")
	}
	return content, nil
}

// containerPerms resolves the permissions governing a comment container.
func containerPerms(view domain.View, actor domain.Viewer, container domain.ContainerRef) (domain.PermissionSet, error) {
	switch container.Kind {
	case domain.EntityRoom:
		_, perms, err := roomFor(view, actor, container.ID)
		return perms, err
	case domain.EntityQuestion:
		_, _, perms, err := questionFor(view, actor, container.ID)
		return perms, err
	}
	return nil, domain.BadRequest("comments attach to rooms or questions")
}

// AddComment posts a comment on a room or question.
func (s *Service) AddComment(ctx context.Context, actor domain.Viewer, container domain.ContainerRef, in CommentInput) (domain.Comment, error) {
	if err := requireUser(actor); err != nil {
		return domain.Comment{}, err
	}
	content, err := validateContent(in.Content)
	if err != nil {
		return domain.Comment{}, err
	}
	if in.AttachPrediction && container.Kind != domain.EntityQuestion {
		return domain.Comment{}, domain.BadRequest("predictions attach only to question comments")
	}
	var created domain.Comment
	_, err = s.mutate(ctx, "add_comment", func(tx domain.Transaction) error {
		perms, err := containerPerms(tx.Snapshot(), actor, container)
		if err != nil {
			return err
		}
		if err := require(perms, domain.PermComment); err != nil {
			return err
		}
		c := domain.Comment{
			Container: container,
			Author:    domain.RefTo[domain.User](actor.UserID),
			Timestamp: tx.Now(),
			Content:   content,
		}
		if in.AttachPrediction {
			p, ok := tx.Predictions().Latest(domain.PredictionKey{Question: container.ID, User: actor.UserID})
			if !ok {
				return domain.BadRequest("no prediction to attach")
			}
			ref := domain.RefTo[domain.Prediction](p.ID)
			c.Prediction = &ref
		}
		created, err = tx.Comments().Insert(c)
		return err
	})
	return created, err
}

// EditComment replaces the content of the actor's own comment.
func (s *Service) EditComment(ctx context.Context, actor domain.Viewer, commentID, content string) (domain.Comment, error) {
	content, err := validateContent(content)
	if err != nil {
		return domain.Comment{}, err
	}
	var updated domain.Comment
	_, err = s.mutate(ctx, "edit_comment", func(tx domain.Transaction) error {
		c, ok := tx.Comments().Deref(domain.RefTo[domain.Comment](commentID))
		if !ok {
			return domain.NotFound(domain.EntityComment, commentID)
		}
		perms, err := containerPerms(tx.Snapshot(), actor, c.Container)
		if err != nil || !perms.Has(domain.PermViewComments) {
			return domain.NotFound(domain.EntityComment, commentID)
		}
		if c.Author.ID != actor.UserID {
			return domain.Unauthorized("only the author may edit a comment")
		}
		c.Content = content
		updated, err = tx.Comments().Replace(c)
		return err
	})
	return updated, err
}

// DeleteComment removes a comment. Authors and moderators may delete.
func (s *Service) DeleteComment(ctx context.Context, actor domain.Viewer, commentID string) error {
	_, err := s.mutate(ctx, "delete_comment", func(tx domain.Transaction) error {
		ref := domain.RefTo[domain.Comment](commentID)
		c, ok := tx.Comments().Deref(ref)
		if !ok {
			return domain.NotFound(domain.EntityComment, commentID)
		}
		perms, err := containerPerms(tx.Snapshot(), actor, c.Container)
		if err != nil || !perms.Has(domain.PermViewComments) {
			return domain.NotFound(domain.EntityComment, commentID)
		}
		if c.Author.ID != actor.UserID {
			if err := require(perms, domain.PermModerate); err != nil {
				return err
			}
		}
		return tx.Comments().Delete(ref, false)
	})
	return err
}
