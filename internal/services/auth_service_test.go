package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/utils"
)

func register(t *testing.T, svc *AuthService, email string) *TokenResult {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterInput{
		Name:                 "Test User",
		Email:                email,
		Password:             "password123",
		PasswordConfirmation: "password123",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return res
}

func TestRegisterAndLogin(t *testing.T) {
	svc := NewAuthService(newTestDB(t), testConfig())

	res := register(t, svc, " Test@Example.com ")
	if res.TokenType != "bearer" || res.AccessToken == "" {
		t.Errorf("unexpected token %+v", res)
	}
	if res.ExpiresIn != int64(time.Hour.Seconds()) {
		t.Errorf("expires_in = %d", res.ExpiresIn)
	}
	if res.User.Email != "test@example.com" || res.User.Role != models.RoleUser {
		t.Errorf("user = %+v", res.User)
	}

	id, err := svc.VerifyToken(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.UserID != res.User.ID || id.Role != models.RoleUser {
		t.Errorf("identity = %+v", id)
	}

	login, err := svc.Login(context.Background(), LoginInput{Email: "TEST@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.User.ID != res.User.ID {
		t.Errorf("login returned another user")
	}

	for _, in := range []LoginInput{
		{Email: "test@example.com", Password: "wrong-password"},
		{Email: "nobody@example.com", Password: "password123"},
	} {
		if _, err := svc.Login(context.Background(), in); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("Login(%s) = %v, want ErrUnauthorized", in.Email, err)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := NewAuthService(newTestDB(t), testConfig())
	register(t, svc, "taken@example.com")

	tests := []struct {
		name  string
		input RegisterInput
		field string
	}{
		{"taken email", RegisterInput{Name: "A", Email: "TAKEN@example.com", Password: "password123", PasswordConfirmation: "password123"}, "email"},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "password123", PasswordConfirmation: "password123"}, "email"},
		{"short password", RegisterInput{Name: "A", Email: "a@example.com", Password: "short", PasswordConfirmation: "short"}, "password"},
		{"confirmation mismatch", RegisterInput{Name: "A", Email: "a@example.com", Password: "password123", PasswordConfirmation: "password124"}, "password_confirmation"},
		{"missing name", RegisterInput{Email: "a@example.com", Password: "password123", PasswordConfirmation: "password123"}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.input)
			assertFields(t, err, tt.field)
		})
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	svc := NewAuthService(newTestDB(t), testConfig())
	res := register(t, svc, "logout@example.com")

	if err := svc.InvalidateToken(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("InvalidateToken: %v", err)
	}
	// a second logout of the same token is harmless
	if err := svc.InvalidateToken(context.Background(), res.AccessToken); err != nil {
		t.Fatalf("second InvalidateToken: %v", err)
	}

	if _, err := svc.VerifyToken(context.Background(), res.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("revoked token verified: %v", err)
	}
	if _, err := svc.RefreshToken(context.Background(), res.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("revoked token refreshed: %v", err)
	}
	if err := svc.InvalidateToken(context.Background(), "garbage"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("garbage token = %v, want ErrUnauthorized", err)
	}
}

func TestRefreshToken(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(db, testConfig())
	res := register(t, svc, "refresh@example.com")

	fresh, err := svc.RefreshToken(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if fresh.AccessToken == res.AccessToken {
		t.Fatalf("refresh returned the same token")
	}
	if _, err := svc.VerifyToken(context.Background(), res.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("old token still valid: %v", err)
	}
	if _, err := svc.VerifyToken(context.Background(), fresh.AccessToken); err != nil {
		t.Errorf("new token invalid: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	db := newTestDB(t)
	cfg := testConfig()
	svc := NewAuthService(db, cfg)
	user := register(t, svc, "expired@example.com").User

	expired, _, err := utils.GenerateToken(cfg.JWTSecret, user.ID, string(user.Role), -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := svc.VerifyToken(context.Background(), expired); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token verified: %v", err)
	}
	if _, err := svc.RefreshToken(context.Background(), expired); err != nil {
		t.Errorf("expired token inside the refresh window was rejected: %v", err)
	}

	outside := &AuthService{db: db, secret: cfg.JWTSecret, ttl: time.Hour, refreshTTL: -time.Second}
	if _, err := outside.RefreshToken(context.Background(), expired); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("token outside the refresh window = %v, want ErrUnauthorized", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := NewAuthService(newTestDB(t), testConfig())
	user := register(t, svc, "profile@example.com").User
	register(t, svc, "other@example.com")

	updated, err := svc.UpdateProfile(context.Background(), user.ID, UpdateProfileInput{
		Name:                 str("Renamed"),
		Email:                str("New@Example.com"),
		Password:             str("new-password"),
		PasswordConfirmation: str("new-password"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Name != "Renamed" || updated.Email != "new@example.com" {
		t.Errorf("user = %+v", updated)
	}
	if _, err := svc.Login(context.Background(), LoginInput{Email: "new@example.com", Password: "new-password"}); err != nil {
		t.Errorf("login with new password: %v", err)
	}

	tests := []struct {
		name  string
		input UpdateProfileInput
		field string
	}{
		{"email taken", UpdateProfileInput{Email: str("other@example.com")}, "email"},
		{"blank name", UpdateProfileInput{Name: str(" ")}, "name"},
		{"missing confirmation", UpdateProfileInput{Password: str("another-password")}, "password_confirmation"},
		{"short password", UpdateProfileInput{Password: str("short"), PasswordConfirmation: str("short")}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateProfile(context.Background(), user.ID, tt.input)
			assertFields(t, err, tt.field)
		})
	}

	// keeping the own email is fine
	if _, err := svc.UpdateProfile(context.Background(), user.ID, UpdateProfileInput{Email: str("new@example.com")}); err != nil {
		t.Errorf("own email: %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		role     models.Role
		required []models.Role
		want     error
	}{
		{"anonymous", "", nil, ErrUnauthorized},
		{"anonymous on admin route", "", []models.Role{models.RoleAdmin}, ErrUnauthorized},
		{"any authenticated user", models.RoleUser, nil, nil},
		{"user on admin route", models.RoleUser, []models.Role{models.RoleAdmin}, ErrForbidden},
		{"admin on admin route", models.RoleAdmin, []models.Role{models.RoleAdmin}, nil},
		{"admin among several", models.RoleAdmin, []models.Role{models.RoleUser, models.RoleAdmin}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Authorize(tt.role, tt.required...); !errors.Is(got, tt.want) {
				t.Errorf("Authorize(%q, %v) = %v, want %v", tt.role, tt.required, got, tt.want)
			}
		})
	}
}
