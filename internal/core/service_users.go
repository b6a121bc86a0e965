package core

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"foresight/pkg/domain"
)

const minPasswordLength = 8

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateNickname(nickname string) (string, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return "", domain.BadRequest("nickname required")
	}
	if utf8.RuneCountInString(nickname) > 64 {
		return "", domain.BadRequest("nickname too long")
	}
	return nickname, nil
}

// RegisterUser creates an account. The password is hashed before the group
// is admitted so the queue never waits on bcrypt.
func (s *Service) RegisterUser(ctx context.Context, in RegisterInput) (domain.User, error) {
	nickname, err := validateNickname(in.Nickname)
	if err != nil {
		return domain.User{}, err
	}
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, domain.BadRequest("invalid email")
	}
	if len(in.Password) < minPasswordLength {
		return domain.User{}, domain.BadRequest("password must be at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.passwordCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return domain.User{}, domain.BadRequest("password too long")
		}
		return domain.User{}, err
	}
	account := domain.AccountUser
	if _, ok := s.adminEmails[email]; ok {
		account = domain.AccountAdmin
	}

	var created domain.User
	_, err = s.mutate(ctx, "register_user", func(tx domain.Transaction) error {
		for _, u := range tx.Users().List() {
			if u.Email == email {
				return domain.BadRequest("email already registered")
			}
		}
		var err error
		created, err = tx.Users().Insert(domain.User{
			Nickname:    nickname,
			Email:       email,
			AccountType: account,
			Credential:  string(hash),
		})
		return err
	})
	return created, err
}

// Authenticate checks credentials and returns the account. Failures never
// reveal whether the email exists.
func (s *Service) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	email = normalizeEmail(email)
	var found domain.User
	var ok bool
	err := s.read(ctx, "authenticate", func(view domain.View) error {
		for _, u := range view.Users().List() {
			if u.Email == email {
				found, ok = u, true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	if !ok || found.Credential == "" {
		return domain.User{}, domain.Unauthorized("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(found.Credential), []byte(password)) != nil {
		return domain.User{}, domain.Unauthorized("invalid credentials")
	}
	return found, nil
}

// UpdateNickname changes the actor's own display name.
func (s *Service) UpdateNickname(ctx context.Context, actor domain.Viewer, nickname string) (domain.User, error) {
	if err := requireUser(actor); err != nil {
		return domain.User{}, err
	}
	nickname, err := validateNickname(nickname)
	if err != nil {
		return domain.User{}, err
	}
	var updated domain.User
	_, err = s.mutate(ctx, "update_nickname", func(tx domain.Transaction) error {
		var err error
		updated, err = tx.Users().Modify(domain.RefTo[domain.User](actor.UserID), func(u *domain.User) error {
			u.Nickname = nickname
			return nil
		})
		return err
	})
	return updated, err
}

// VerifyUser marks an account verified. Site admins only.
func (s *Service) VerifyUser(ctx context.Context, actor domain.Viewer, userID string) (domain.User, error) {
	if !actor.Admin {
		return domain.User{}, domain.Unauthorized("admin required")
	}
	var updated domain.User
	_, err := s.mutate(ctx, "verify_user", func(tx domain.Transaction) error {
		var err error
		updated, err = tx.Users().Modify(domain.RefTo[domain.User](userID), func(u *domain.User) error {
			u.Verified = true
			return nil
		})
		return err
	})
	return updated, err
}
