package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/autocatalog/internal/config"
	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/utils"
)

// RegisterInput creates a regular user account.
type RegisterInput struct {
	Name                 string `json:"name" validate:"required,max=255"`
	Email                string `json:"email" validate:"required,email,max=255"`
	Password             string `json:"password" validate:"required,min=8"`
	PasswordConfirmation string `json:"password_confirmation" validate:"required,eqfield=Password"`
}

// LoginInput holds user credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdateProfileInput changes the present fields of the current user.
type UpdateProfileInput struct {
	Name                 *string `json:"name" validate:"omitempty,max=255"`
	Email                *string `json:"email" validate:"omitempty,email,max=255"`
	Password             *string `json:"password" validate:"omitempty,min=8"`
	PasswordConfirmation *string `json:"password_confirmation"`
}

// TokenResult is an issued access token.
type TokenResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user,omitempty"`
}

// Identity is the caller behind a verified token.
type Identity struct {
	UserID    uuid.UUID
	Role      models.Role
	Token     string
	ExpiresAt time.Time
}

// AuthService issues, verifies and revokes access tokens.
type AuthService struct {
	db         *gorm.DB
	secret     string
	ttl        time.Duration
	refreshTTL time.Duration
}

// NewAuthService constructs AuthService.
func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{
		db:         db,
		secret:     cfg.JWTSecret,
		ttl:        cfg.TokenTTL(),
		refreshTTL: cfg.RefreshTTL(),
	}
}

// Register creates a user with the user role and signs them in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*TokenResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)

	verr := &ValidationError{}
	verr.Merge(utils.ValidateStruct(in))
	if _, bad := verr.Fields["email"]; !bad {
		s.checkEmail(ctx, verr, in.Email, uuid.Nil)
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, translateDBError(err, "email")
	}

	return s.issue(&user)
}

// Login exchanges valid credentials for a token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResult, error) {
	in.Email = normalizeEmail(in.Email)
	if fields := utils.ValidateStruct(in); fields != nil {
		return nil, NewValidationError(fields)
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", in.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !utils.CheckPassword(user.PasswordHash, in.Password) {
		return nil, ErrUnauthorized
	}

	return s.issue(&user)
}

// VerifyToken checks the signature, expiry and revocation of raw.
func (s *AuthService) VerifyToken(ctx context.Context, raw string) (*Identity, error) {
	claims, err := utils.ParseToken(s.secret, raw)
	if err != nil {
		return nil, ErrUnauthorized
	}

	revoked, err := s.isRevoked(ctx, raw)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrUnauthorized
	}

	return &Identity{
		UserID:    uuid.MustParse(claims.UserID),
		Role:      models.Role(claims.Role),
		Token:     raw,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// InvalidateToken revokes raw until it expires.
func (s *AuthService) InvalidateToken(ctx context.Context, raw string) error {
	claims, err := utils.ParseToken(s.secret, raw)
	if err != nil {
		return ErrUnauthorized
	}
	return s.revoke(ctx, raw, claims.Expiry())
}

// RefreshToken revokes raw and issues a new token for the same user. An
// expired token is accepted while it is still inside the refresh window.
func (s *AuthService) RefreshToken(ctx context.Context, raw string) (*TokenResult, error) {
	claims, err := utils.ParseTokenForRefresh(s.secret, raw, s.refreshTTL)
	if err != nil {
		return nil, ErrUnauthorized
	}

	revoked, err := s.isRevoked(ctx, raw)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrUnauthorized
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}

	// Keep the old token revoked for as long as it could still be refreshed.
	if err := s.revoke(ctx, raw, claims.IssuedAt.Add(s.refreshTTL)); err != nil {
		return nil, err
	}
	return s.issue(&user)
}

// Me loads the user behind a token.
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("user")
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes the name, email or password of a user.
func (s *AuthService) UpdateProfile(ctx context.Context, userID uuid.UUID, in UpdateProfileInput) (*models.User, error) {
	user, err := s.Me(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Email != nil {
		email := normalizeEmail(*in.Email)
		in.Email = &email
	}

	verr := &ValidationError{}
	verr.Merge(utils.ValidateStruct(in))
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		verr.Add("name", "is required")
	}
	if in.Email != nil {
		if _, bad := verr.Fields["email"]; !bad {
			s.checkEmail(ctx, verr, *in.Email, user.ID)
		}
	}
	if in.Password != nil && (in.PasswordConfirmation == nil || *in.PasswordConfirmation != *in.Password) {
		verr.Add("password_confirmation", "confirmation does not match")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	if in.Name != nil {
		user.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		user.Email = *in.Email
	}
	if in.Password != nil {
		hash, err := utils.HashPassword(*in.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, translateDBError(err, "email")
	}
	return user, nil
}

// Authorize reports whether role satisfies one of required. An empty role
// means the caller is not authenticated.
func Authorize(role models.Role, required ...models.Role) error {
	if role == "" {
		return ErrUnauthorized
	}
	if len(required) == 0 {
		return nil
	}
	for _, r := range required {
		if role == r {
			return nil
		}
	}
	return ErrForbidden
}

func (s *AuthService) issue(user *models.User) (*TokenResult, error) {
	token, expires, err := utils.GenerateToken(s.secret, user.ID, string(user.Role), s.ttl)
	if err != nil {
		return nil, err
	}
	return &TokenResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
		ExpiresAt:   expires,
		User:        user,
	}, nil
}

func (s *AuthService) revoke(ctx context.Context, raw string, expiresAt time.Time) error {
	db := s.db.WithContext(ctx)

	entry := models.RevokedToken{TokenHash: s.tokenHash(raw), ExpiresAt: expiresAt}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token_hash"}},
		DoNothing: true,
	}).Create(&entry).Error; err != nil {
		return err
	}

	// Expired entries can never match a token that still verifies.
	if err := db.Where("expires_at < ?", time.Now()).Delete(&models.RevokedToken{}).Error; err != nil {
		log.Printf("[Auth] could not purge revoked tokens: %v", err)
	}
	return nil
}

func (s *AuthService) isRevoked(ctx context.Context, raw string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.RevokedToken{}).
		Where("token_hash = ?", s.tokenHash(raw)).
		Count(&count).Error
	return count > 0, err
}

func (s *AuthService) tokenHash(raw string) string {
	m := hmac.New(sha256.New, []byte(s.secret))
	_, _ = m.Write([]byte(raw))
	return hex.EncodeToString(m.Sum(nil))
}

func (s *AuthService) checkEmail(ctx context.Context, verr *ValidationError, email string, self uuid.UUID) {
	q := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email)
	if self != uuid.Nil {
		q = q.Where("id <> ?", self)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		verr.Add("email", "could not be verified")
		return
	}
	if count > 0 {
		verr.Add("email", "has already been taken")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
