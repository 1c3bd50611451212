package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const minPasswordLength = 6

type CreateAccountInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type UpdateProfileInput struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Username       string  `json:"username"`
	ProfilePhotoID *string `json:"profile_photo_id"`
}

type ChangePasswordInput struct {
	CurrentPassword      string `json:"current_password"`
	NewPassword          string `json:"new_password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// RootAccount describes the bootstrap administrator created by seeding.
type RootAccount struct {
	Name     string `yaml:"name" env:"NAME"`
	Email    string `yaml:"email" env:"EMAIL"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// CreateAccount validates input, hashes the password against the new
// account id and stores the account.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))

	var v validation
	checkProfile(&v, in.Name, in.Email, in.Username)
	checkPassword(&v, "password", in.Password)
	if err := s.checkUnique(ctx, &v, in.Email, in.Username, uuid.Nil); err != nil {
		return Account{}, err
	}
	if err := v.err(); err != nil {
		return Account{}, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return Account{}, fmt.Errorf("create account: generate id: %w", err)
	}
	hash, err := s.hasher.Hash(ctx, id, in.Password)
	if err != nil {
		return Account{}, fmt.Errorf("create account: hash password: %w", err)
	}
	now := s.now().UTC()
	account, err := s.store.CreateAccount(ctx, Account{
		ID:           id,
		Name:         in.Name,
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return Account{}, err
	}
	s.logger.WithFields(logrus.Fields{"account_id": account.ID, "username": account.Username}).Info("account created")
	return account, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context, q ListQuery) (Page[Account], error) {
	q = q.Normalize("name", "username", "email", "created_at")
	q.Search = strings.TrimSpace(q.Search)
	return s.store.ListAccounts(ctx, q)
}

// UpdateProfile replaces name, email, username and profile photo. Email and
// username stay unique across other accounts.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in UpdateProfileInput) (Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	if in.ProfilePhotoID != nil {
		photo := strings.TrimSpace(*in.ProfilePhotoID)
		if photo == "" {
			in.ProfilePhotoID = nil
		} else {
			in.ProfilePhotoID = &photo
		}
	}

	current, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	var v validation
	checkProfile(&v, in.Name, in.Email, in.Username)
	if err := s.checkUnique(ctx, &v, in.Email, in.Username, id); err != nil {
		return Account{}, err
	}
	if err := v.err(); err != nil {
		return Account{}, err
	}

	current.Name = in.Name
	current.Email = in.Email
	current.Username = in.Username
	current.ProfilePhotoID = in.ProfilePhotoID
	current.UpdatedAt = s.now().UTC()
	updated, err := s.store.UpdateProfile(ctx, current)
	if err != nil {
		return Account{}, err
	}
	s.invalidate(ctx, id)
	return updated, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id uuid.UUID, in ChangePasswordInput) error {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	var v validation
	if in.CurrentPassword == "" {
		v.add("current_password", "current password field is required")
	}
	checkPassword(&v, "new_password", in.NewPassword)
	if in.PasswordConfirmation == "" {
		v.add("password_confirmation", "password confirmation field is required")
	} else if in.PasswordConfirmation != in.NewPassword {
		v.add("password_confirmation", "password confirmation doesn't match")
	}
	if in.NewPassword != "" && in.NewPassword == in.CurrentPassword {
		v.add("new_password", "new password must differ from current password")
	}
	if in.CurrentPassword != "" && !s.hasher.Verify(ctx, account.PasswordHash, account.ID, in.CurrentPassword) {
		v.add("current_password", "wrong password")
	}
	if err := v.err(); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(ctx, account.ID, in.NewPassword)
	if err != nil {
		return fmt.Errorf("change password: hash: %w", err)
	}
	if err := s.store.UpdatePassword(ctx, account.ID, hash); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.WithField("account_id", id).Info("password changed")
	return nil
}

// DeleteAccount soft-deletes the account and revokes all of its tokens.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := s.store.SoftDeleteAccount(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.logger.WithField("account_id", id).Info("account deleted")
	return nil
}

// EnsureRootAccount creates the bootstrap account unless an account with the
// same username already exists. The bool reports whether one was created.
func (s *Service) EnsureRootAccount(ctx context.Context, root RootAccount) (Account, bool, error) {
	username := strings.ToLower(strings.TrimSpace(root.Username))
	if username == "" {
		return Account{}, false, fmt.Errorf("%w: root username is required", ErrInvalidInput)
	}
	existing, err := s.store.FindAccountByLogin(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, false, err
	}
	account, err := s.CreateAccount(ctx, CreateAccountInput{
		Name:     root.Name,
		Email:    root.Email,
		Username: root.Username,
		Password: root.Password,
	})
	if err != nil {
		return Account{}, false, err
	}
	return account, true, nil
}

func (s *Service) checkUnique(ctx context.Context, v *validation, email, username string, except uuid.UUID) error {
	if email != "" && !v.has("email") {
		taken, err := s.store.EmailInUse(ctx, email, except)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if taken {
			v.add("email", "email already used")
		}
	}
	if username != "" && !v.has("username") {
		taken, err := s.store.UsernameInUse(ctx, username, except)
		if err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if taken {
			v.add("username", "username already used")
		}
	}
	return nil
}

func checkProfile(v *validation, name, email, username string) {
	if name == "" {
		v.add("name", "name field is required")
	}
	if email == "" {
		v.add("email", "email field is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		v.add("email", "email is not valid")
	}
	if username == "" {
		v.add("username", "username field is required")
	} else if strings.ContainsAny(username, " \t@") {
		v.add("username", "username must not contain spaces or @")
	}
}

func checkPassword(v *validation, field, password string) {
	if password == "" {
		v.add(field, "password field is required")
		return
	}
	if len(password) < minPasswordLength {
		v.add(field, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	var digit, letter, upper, lower bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLetter(r):
			letter = true
			if unicode.IsUpper(r) {
				upper = true
			}
			if unicode.IsLower(r) {
				lower = true
			}
		}
	}
	if !digit {
		v.add(field, "password must contain a number")
	}
	if !letter {
		v.add(field, "password must contain a letter")
	}
	if letter && !(upper && lower) {
		v.add(field, "password must contain uppercase and lowercase letters")
	}
}
