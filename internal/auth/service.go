package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/policy"
)

type Repository interface {
	// GetCredentials returns a NotFound AppError for an unknown email.
	GetCredentials(ctx context.Context, email string) (*Credentials, error)
	GetAccount(ctx context.Context, userID int64) (*Account, error)
}

// PolicyProvider hands out the current immutable permission snapshot.
type PolicyProvider interface {
	Current() *policy.Snapshot
}

// Service is the main auth service with dependencies
type Service struct {
	repo           Repository
	tokenGenerator TokenGenerator
	policy         PolicyProvider
	logger         *slog.Logger
	bcryptCost     int
}

func NewService(repo Repository, tokenGen TokenGenerator, pol PolicyProvider, bcryptCost int, logger *slog.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		repo:           repo,
		tokenGenerator: tokenGen,
		policy:         pol,
		logger:         logger,
		bcryptCost:     bcryptCost,
	}
}

func NewJWTTokenGenerator(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *JWTTokenGenerator {
	if accessTTL == 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL == 0 {
		refreshTTL = 24 * 7 * time.Hour
	}
	return &JWTTokenGenerator{
		AccessTokenSecret:  []byte(accessSecret),
		RefreshTokenSecret: []byte(refreshSecret),
		AccessTokenTTL:     accessTTL,
		RefreshTokenTTL:    refreshTTL,
		now:                time.Now,
	}
}

// Authenticate validates credentials and returns tokens
func (s *Service) Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error) {
	dto.Email = strings.ToLower(strings.TrimSpace(dto.Email))
	if err := dto.Validate(); err != nil {
		return AuthTokens{}, err
	}

	creds, err := s.repo.GetCredentials(ctx, dto.Email)
	if err != nil {
		if internal.IsType(err, internal.ErrorTypeNotFound) {
			return AuthTokens{}, internal.ErrInvalidCredentials
		}
		return AuthTokens{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(dto.Password)); err != nil {
		return AuthTokens{}, internal.ErrInvalidCredentials
	}
	if !creds.IsActive {
		return AuthTokens{}, internal.ErrUserInactive
	}

	s.logger.Info("user authenticated", "user_id", creds.UserID)
	return s.issue(ctx, creds.UserID)
}

// RefreshTokens re-resolves permissions, so a refresh always yields a current snapshot.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error) {
	claims, err := s.tokenGenerator.ValidateRefreshToken(refreshToken)
	if err != nil {
		return AuthTokens{}, err
	}
	userID, err := parseUserID(claims)
	if err != nil {
		return AuthTokens{}, err
	}
	return s.issue(ctx, userID)
}

func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.tokenGenerator.ValidateAccessToken(tokenString)
}

// Authorize turns validated claims into the request's user. The permission set cached in
// the token is used while the role's permissions_version and the policy snapshot version
// still match; otherwise permissions are resolved again and the user is marked stale.
func (s *Service) Authorize(ctx context.Context, claims *Claims) (*User, error) {
	userID, err := parseUserID(claims)
	if err != nil {
		return nil, err
	}

	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		if internal.IsType(err, internal.ErrorTypeNotFound) {
			return nil, internal.ErrInvalidToken
		}
		return nil, err
	}
	if !account.IsActive {
		return nil, internal.ErrUserInactive
	}

	snap := s.policy.Current()
	user := &User{
		ID:     account.ID,
		Email:  account.Email,
		Name:   account.Name,
		RoleID: account.RoleID,
		Role:   account.Role,
	}

	if cached, ok := s.cachedSet(claims, account, snap); ok {
		user.Permissions = cached
		return user, nil
	}

	user.Permissions = s.resolve(account, snap)
	user.Stale = true
	warning := internal.NewStaleCacheWarning("permission snapshot predates the latest role change")
	s.logger.Warn(warning.Message,
		"code", warning.Code,
		"user_id", account.ID,
		"role", account.Role,
		"token_permissions_version", claims.PermVersion,
		"permissions_version", account.PermVersion,
		"token_policy_version", claims.PolicyVersion,
		"policy_version", snap.Version)
	return user, nil
}

// CurrentSession answers GET /current-session. A missing or invalid token is a normal
// unauthenticated session, not an error. A stale session comes back with fresh tokens.
func (s *Service) CurrentSession(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, nil
	}
	claims, err := s.ValidateAccessToken(token)
	if err != nil {
		return Session{}, nil
	}
	user, err := s.Authorize(ctx, claims)
	if err != nil {
		if internal.IsType(err, internal.ErrorTypeUnauthorized) || internal.IsType(err, internal.ErrorTypeForbidden) {
			return Session{}, nil
		}
		return Session{}, err
	}

	session := SessionFor(user)
	if user.Stale {
		tokens, err := s.issue(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
		session.Tokens = &tokens
	}
	return session, nil
}

func SessionFor(u *User) Session {
	return Session{
		IsAuthenticated: true,
		Stale:           u.Stale,
		User: &SessionUser{
			ID:          u.ID,
			Email:       u.Email,
			Name:        u.Name,
			Role:        u.Role,
			Permissions: u.Permissions.Strings(),
		},
	}
}

func (s *Service) issue(ctx context.Context, userID int64) (AuthTokens, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		if internal.IsType(err, internal.ErrorTypeNotFound) {
			return AuthTokens{}, internal.ErrInvalidCredentials
		}
		return AuthTokens{}, err
	}
	if !account.IsActive {
		return AuthTokens{}, internal.ErrUserInactive
	}

	snap := s.policy.Current()
	perms := s.resolve(account, snap)
	uid := strconv.FormatInt(account.ID, 10)

	accessToken, err := s.tokenGenerator.GenerateAccessToken(Claims{
		UserID:        uid,
		Email:         account.Email,
		Role:          account.Role,
		Permissions:   perms.Strings(),
		PermVersion:   account.PermVersion,
		PolicyVersion: snap.Version,
	})
	if err != nil {
		return AuthTokens{}, internal.NewInternalError("failed to sign access token", err)
	}

	refreshToken, err := s.tokenGenerator.GenerateRefreshToken(uid, account.Email)
	if err != nil {
		return AuthTokens{}, internal.NewInternalError("failed to sign refresh token", err)
	}

	return AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// resolve fails closed: no role, an inactive role or an unknown role grant nothing.
func (s *Service) resolve(account *Account, snap *policy.Snapshot) permission.Set {
	if account.Role == "" || !account.RoleActive {
		return permission.NewSet()
	}
	set, err := snap.Resolve(permission.Principal{Role: account.Role})
	if err != nil {
		s.logger.Warn("role resolved to no permissions", "user_id", account.ID, "role", account.Role, "error", err)
	}
	return set
}

// cachedSet accepts the token's permission list while the role row is unchanged and
// the current snapshot still resolves the role to the same set. Snapshot versions are
// per process and are not compared.
func (s *Service) cachedSet(claims *Claims, account *Account, snap *policy.Snapshot) (permission.Set, bool) {
	if claims.PermVersion != account.PermVersion {
		return permission.Set{}, false
	}
	if !strings.EqualFold(claims.Role, account.Role) || !account.RoleActive {
		return permission.Set{}, false
	}
	set, err := snap.Catalog().ValidateAll(claims.Permissions)
	if err != nil {
		return permission.Set{}, false
	}
	fresh, err := snap.Resolve(permission.Principal{Role: account.Role})
	if err != nil || !set.Equal(fresh) {
		return permission.Set{}, false
	}
	return set, true
}

// HashPassword creates a bcrypt hash of the password
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func parseUserID(claims *Claims) (int64, error) {
	id, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil || id <= 0 {
		return 0, internal.ErrInvalidToken
	}
	return id, nil
}

func (j *JWTTokenGenerator) GenerateAccessToken(claims Claims) (string, error) {
	now := j.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(j.AccessTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   claims.UserID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &claims).SignedString(j.AccessTokenSecret)
}

func (j *JWTTokenGenerator) GenerateRefreshToken(userID string, email string) (string, error) {
	now := j.now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(j.RefreshTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.RefreshTokenSecret)
}

func (j *JWTTokenGenerator) ValidateAccessToken(tokenString string) (*Claims, error) {
	return j.validate(tokenString, j.AccessTokenSecret)
}

func (j *JWTTokenGenerator) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return j.validate(tokenString, j.RefreshTokenSecret)
}

func (j *JWTTokenGenerator) validate(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(j.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, internal.ErrTokenExpired
		}
		return nil, internal.ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, internal.ErrInvalidToken
}
