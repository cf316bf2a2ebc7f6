// Package account handles signup, login and email verification.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/backend"
	"mentorship/internal/otp"
	"mentorship/internal/profile"
	"mentorship/internal/queue"
)

// TokenConfig controls issued tokens and codes.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	OTPTTL     time.Duration
}

// User is the public view of an account.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	UserType      auth.Role `json:"user_type"`
	FullName      string    `json:"full_name,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session is returned by a successful login.
type Session struct {
	User   User           `json:"user"`
	Tokens auth.TokenPair `json:"session"`
}

// SignupInput is the signup form.
type SignupInput struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	FullName string `json:"fullName" binding:"required,max=120"`
	UserType string `json:"userType" binding:"required,oneof=student mentor"`
}

// Service manages accounts.
type Service struct {
	store    backend.Store
	profiles *profile.Service
	codes    otp.Store
	jobs     queue.Queue
	cfg      TokenConfig
	log      *zap.Logger
}

// NewService creates an account service.
func NewService(store backend.Store, profiles *profile.Service, codes otp.Store, jobs queue.Queue, cfg TokenConfig, log *zap.Logger) *Service {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 15 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, profiles: profiles, codes: codes, jobs: jobs, cfg: cfg, log: log}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("invalid email address")
	}
	return email, nil
}

// Signup creates an account and its empty profile.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	role, err := auth.ParseRole(in.UserType)
	if err != nil {
		return User{}, err
	}
	if len(in.Password) < 6 {
		return User{}, apperr.Invalid("password must be at least 6 characters")
	}
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return User{}, apperr.Invalid("full name is required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	row, err := s.store.Insert(ctx, backend.TableUsers, backend.Record{
		"email":         email,
		"password_hash": hash,
		"user_type":     string(role),
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateRequest) {
			return User{}, fmt.Errorf("%w: email already registered", apperr.ErrDuplicateRequest)
		}
		return User{}, err
	}
	user := userFrom(row)
	user.FullName = name
	if err := s.profiles.CreateSkeleton(ctx, auth.Identity{UserID: user.ID, Role: role, Email: email}, name); err != nil {
		// drop the user so the email can sign up again
		if _, derr := s.store.Delete(context.WithoutCancel(ctx), backend.TableUsers,
			[]backend.Filter{backend.Eq("id", user.ID)}); derr != nil {
			s.log.Error("orphan user left after profile create failed", zap.String("user_id", user.ID), zap.Error(derr))
		}
		return User{}, err
	}
	s.log.Info("account created", zap.String("user_id", user.ID), zap.String("user_type", string(role)))
	return user, nil
}

// Login checks credentials and issues tokens.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row, err := s.store.Get(ctx, backend.TableUsers, backend.Query{
		Filters: []backend.Filter{backend.Eq("email", email)},
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return Session{}, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if !auth.CheckPassword(row.String("password_hash"), password) {
		return Session{}, apperr.ErrInvalidCredentials
	}
	user := userFrom(row)
	if p, err := s.profiles.Get(ctx, user.ID); err == nil {
		user.FullName = p.FullName
	}
	tokens, err := s.issue(user)
	if err != nil {
		return Session{}, err
	}
	return Session{User: user, Tokens: tokens}, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := auth.Parse(refreshToken, s.cfg.SigningKey, s.cfg.Issuer)
	if err != nil || claims.Type != auth.TokenRefresh {
		return auth.TokenPair{}, apperr.ErrAuthRequired
	}
	row, err := s.store.Get(ctx, backend.TableUsers, backend.Query{
		Filters: []backend.Filter{backend.Eq("id", claims.Subject)},
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return auth.TokenPair{}, apperr.ErrAuthRequired
	}
	if err != nil {
		return auth.TokenPair{}, err
	}
	return s.issue(userFrom(row))
}

func (s *Service) issue(u User) (auth.TokenPair, error) {
	return auth.Issue(auth.Identity{UserID: u.ID, Role: u.UserType, Email: u.Email},
		s.cfg.Issuer, s.cfg.SigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
}

// SendOTP stores a fresh code for email and queues the email carrying it.
func (s *Service) SendOTP(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	code, err := otp.Generate()
	if err != nil {
		return err
	}
	if err := s.codes.Save(ctx, email, code, s.cfg.OTPTTL); err != nil {
		return apperr.Backend(err)
	}
	job, err := queue.NewJob(queue.JobOTPEmail, queue.OTPEmail{
		Email:     email,
		Code:      code,
		ExpiresIn: s.cfg.OTPTTL.String(),
	})
	if err != nil {
		return err
	}
	if err := s.jobs.Publish(ctx, job); err != nil {
		return apperr.Backend(err)
	}
	s.log.Info("otp queued", zap.String("email", email))
	return nil
}

// VerifyOTP consumes the code and marks the account's email verified.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	ok, err := s.codes.Consume(ctx, email, strings.TrimSpace(code))
	if err != nil {
		return apperr.Backend(err)
	}
	if !ok {
		return apperr.Invalid("invalid or expired OTP")
	}
	// no account yet is fine: verification may precede signup
	if _, err := s.store.Update(ctx, backend.TableUsers,
		[]backend.Filter{backend.Eq("email", email)},
		backend.Record{"email_verified": true}); err != nil {
		return err
	}
	return nil
}

func userFrom(row backend.Record) User {
	return User{
		ID:            row.String("id"),
		Email:         row.String("email"),
		UserType:      auth.Role(row.String("user_type")),
		EmailVerified: row.Bool("email_verified"),
		CreatedAt:     row.Time("created_at"),
	}
}
