package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"task-tracker/domain"
)

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]domain.User
}

func (m *memUsers) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byEmail == nil {
		m.byEmail = map[string]domain.User{}
	}
	if _, ok := m.byEmail[u.Email]; ok {
		return domain.ErrConflict
	}
	m.byEmail[u.Email] = u
	return nil
}

func (m *memUsers) UserByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byEmail[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) UserByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

var testSecret = []byte("test-secret")

func newTestService(users UserStore) *Service {
	return NewService(users, testSecret, "task-tracker", time.Hour, WithBcryptCost(bcrypt.MinCost))
}

func parseToken(t *testing.T, signed string) jwt.MapClaims {
	t.Helper()
	token, err := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})).Parse(signed, func(*jwt.Token) (any, error) {
		return testSecret, nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	return token.Claims.(jwt.MapClaims)
}

func TestRegisterAndLogin(t *testing.T) {
	users := &memUsers{}
	svc := newTestService(users)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "  Alice@Example.com ", "hunter22")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.User.Email != "alice@example.com" || reg.User.ID == "" {
		t.Fatalf("unexpected user: %#v", reg.User)
	}
	if reg.User.PasswordHash == "hunter22" || reg.User.PasswordHash == "" {
		t.Fatalf("password not hashed")
	}
	claims := parseToken(t, reg.Token)
	if claims["sub"] != reg.User.ID || claims["iss"] != "task-tracker" || claims["email"] != "alice@example.com" {
		t.Fatalf("unexpected claims: %v", claims)
	}

	login, err := svc.Login(ctx, "ALICE@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.User.ID != reg.User.ID {
		t.Fatalf("login returned a different user: %#v", login.User)
	}

	me, err := svc.CurrentUser(ctx, reg.User.ID)
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if me.Email != "alice@example.com" {
		t.Fatalf("unexpected current user: %#v", me)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(&memUsers{})
	ctx := context.Background()
	if _, err := svc.Register(ctx, "bob@example.com", "secret1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "BOB@example.com", "secret2"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(&memUsers{})
	cases := map[string][2]string{
		"no_email":       {"", "secret1"},
		"no_at":          {"bob", "secret1"},
		"short_password": {"bob@example.com", "123"},
		"long_password":  {"bob@example.com", strings.Repeat("x", maxPasswordLength+1)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), in[0], in[1]); !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestRegisterAcceptsLongestPassword(t *testing.T) {
	svc := newTestService(&memUsers{})
	pw := strings.Repeat("x", maxPasswordLength)
	if _, err := svc.Register(context.Background(), "max@example.com", pw); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(context.Background(), "max@example.com", pw); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestLoginFailures(t *testing.T) {
	svc := newTestService(&memUsers{})
	ctx := context.Background()
	if _, err := svc.Register(ctx, "carol@example.com", "correct-horse"); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, "carol@example.com", "wrong-horse"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for bad password, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
	if _, err := svc.Login(ctx, "", ""); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty input, got %v", err)
	}
}

func TestCurrentUserUnknown(t *testing.T) {
	svc := newTestService(&memUsers{})
	if _, err := svc.CurrentUser(context.Background(), "ghost"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestIssueTokenExpiry(t *testing.T) {
	now := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(&memUsers{}, testSecret, "", 30*time.Minute, WithClock(func() time.Time { return now }))

	signed, err := svc.IssueToken(domain.User{ID: "u1", Email: "u@example.com"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// Parse without claim validation: the fixed clock is in the past relative to wall time.
	token, _, err := jwt.NewParser().ParseUnverified(signed, jwt.MapClaims{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := token.Claims.(jwt.MapClaims)
	if exp, ok := claims["exp"].(float64); !ok || int64(exp) != now.Add(30*time.Minute).Unix() {
		t.Fatalf("unexpected exp claim: %v", claims["exp"])
	}
	if _, ok := claims["iss"]; ok {
		t.Fatalf("expected no issuer claim when issuer is empty")
	}
}
