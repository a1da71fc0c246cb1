// Package auth registers users, checks passwords and issues bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"task-tracker/domain"
)

const (
	minPasswordLength = 6
	// bcrypt rejects longer inputs.
	maxPasswordLength = 72
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	UserByID(ctx context.Context, id string) (domain.User, error)
}

// Session is the result of a successful register or login.
type Session struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Service implements the authentication collaborator.
type Service struct {
	users    UserStore
	secret   []byte
	issuer   string
	tokenTTL time.Duration
	cost     int
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithBcryptCost overrides the hashing cost, mostly so tests can use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock overrides the time source used for token claims.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service signing HS256 tokens with secret.
func NewService(users UserStore, secret []byte, issuer string, tokenTTL time.Duration, opts ...Option) *Service {
	if users == nil {
		panic("auth.NewService: user store is nil")
	}
	if len(secret) == 0 {
		panic("auth.NewService: signing secret is empty")
	}
	s := &Service{
		users:    users,
		secret:   secret,
		issuer:   issuer,
		tokenTTL: tokenTTL,
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateCredentials(email, password string) error {
	if email == "" || !strings.Contains(email, "@") {
		return &domain.ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if len(password) < minPasswordLength {
		return &domain.ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}
	if len(password) > maxPasswordLength {
		return &domain.ValidationError{Field: "password", Message: fmt.Sprintf("password must be at most %d bytes", maxPasswordLength)}
	}
	return nil
}

// Register creates an account and returns a session for it.
func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	email = domain.NormalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return Session{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// Login checks the password and returns a fresh session. Unknown emails and
// wrong passwords are reported identically.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, &domain.ValidationError{Message: "email and password are required"}
	}
	u, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Session{}, domain.ErrInvalidCredentials
		}
		return Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return Session{}, domain.ErrInvalidCredentials
	}
	return s.session(u)
}

// CurrentUser resolves the account behind an already verified token subject.
func (s *Service) CurrentUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.User{}, domain.ErrUnauthorized
		}
		return domain.User{}, err
	}
	return u, nil
}

func (s *Service) session(u domain.User) (Session, error) {
	token, err := s.IssueToken(u)
	if err != nil {
		return Session{}, err
	}
	return Session{User: u, Token: token}, nil
}

// IssueToken signs an HS256 token whose subject is the user id.
func (s *Service) IssueToken(u domain.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   u.ID,
		"email": u.Email,
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
