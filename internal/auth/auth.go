// Package auth handles signup, PIN login and PIN recovery.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/internal/session"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = apperr.New(apperr.Conflict, "EMAIL_TAKEN", "An account with this email already exists")
	ErrInvalidCredentials = apperr.New(apperr.Unauthorized, "INVALID_CREDENTIALS", "Invalid email or PIN")
	ErrInvalidPIN         = apperr.New(apperr.InvalidInput, "INVALID_PIN", "PIN must be 4 to 8 digits")
	ErrInvalidSignup      = apperr.New(apperr.InvalidInput, "INVALID_SIGNUP", "Email, name and secret answer are required")
)

type SignupInput struct {
	Email        string
	PIN          string
	SecretAnswer string
	FirstName    string
	LastName     string
	Phone        string
	BirthMonth   int
	BirthYear    int
}

type Result struct {
	User    *models.User
	Session *session.Token
}

type Service struct {
	Storage  storage.Storage
	Sessions *session.Manager
	Cost     int
	Now      func() time.Time
}

func NewService(store storage.Storage, sessions *session.Manager) *Service {
	return &Service{
		Storage:  store,
		Sessions: sessions,
		Cost:     bcrypt.DefaultCost,
		Now:      time.Now,
	}
}

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*Result, error) {
	email := models.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") || strings.TrimSpace(in.FirstName) == "" ||
		strings.TrimSpace(in.LastName) == "" || normalizeAnswer(in.SecretAnswer) == "" {
		return nil, ErrInvalidSignup
	}
	if !validPIN(in.PIN) {
		return nil, ErrInvalidPIN
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(in.PIN), s.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash pin: %w", err)
	}
	answerHash, err := bcrypt.GenerateFromPassword([]byte(normalizeAnswer(in.SecretAnswer)), s.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret answer: %w", err)
	}

	now := s.Now().UTC()
	user := &models.User{
		ID:               uuid.Must(uuid.NewRandom()).String(),
		Email:            email,
		PINHash:          string(pinHash),
		SecretAnswerHash: string(answerHash),
		FirstName:        strings.TrimSpace(in.FirstName),
		LastName:         strings.TrimSpace(in.LastName),
		Phone:            strings.TrimSpace(in.Phone),
		BirthMonth:       in.BirthMonth,
		BirthYear:        in.BirthYear,
		MembershipTier:   models.TierFree,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.Storage.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, apperr.Upstream(err)
	}

	logger.Info("User signed up", map[string]interface{}{
		"user_id": user.ID,
	})

	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, email, pin string) (*Result, error) {
	user, err := s.Storage.FindUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PINHash), []byte(pin)); err != nil {
		logger.Warn("Login rejected", map[string]interface{}{
			"user_id": user.ID,
		})
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// ResetPIN replaces the PIN after checking the secret answer.
func (s *Service) ResetPIN(ctx context.Context, email, answer, newPIN string) (*Result, error) {
	if !validPIN(newPIN) {
		return nil, ErrInvalidPIN
	}

	user, err := s.Storage.FindUserByEmail(ctx, models.NormalizeEmail(email))
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.SecretAnswerHash), []byte(normalizeAnswer(answer))); err != nil {
		return nil, ErrInvalidCredentials
	}

	pinHash, err := bcrypt.GenerateFromPassword([]byte(newPIN), s.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash pin: %w", err)
	}
	user.PINHash = string(pinHash)
	user.UpdatedAt = s.Now().UTC()

	if err := s.Storage.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Upstream(err)
	}

	logger.Info("PIN reset", map[string]interface{}{
		"user_id": user.ID,
	})

	return s.issue(user)
}

func (s *Service) issue(user *models.User) (*Result, error) {
	token, err := s.Sessions.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Session: token}, nil
}
