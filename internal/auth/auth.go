package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/frahmantamala/approval-workflow/internal/permission"
)

type ctxKey string

const ContextUserKey ctxKey = "user"

// User is the authenticated caller as seen by handlers. Permissions is the set the
// request is evaluated against; Stale reports that it was re-resolved because the
// token's cached snapshot predates a role or policy change.
type User struct {
	ID          int64
	Email       string
	Name        string
	RoleID      *int64
	Role        string
	Permissions permission.Set
	Stale       bool
}

func (u *User) Can(mode permission.Mode, required ...permission.Permission) bool {
	if u == nil {
		return false
	}
	return permission.Can(u.Permissions, mode, required...)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(ContextUserKey).(*User)
	return u, ok
}

func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, ContextUserKey, u)
}

// Account is the persisted identity plus the state of its role.
type Account struct {
	ID          int64  `db:"id"`
	Email       string `db:"email"`
	Name        string `db:"name"`
	IsActive    bool   `db:"is_active"`
	RoleID      *int64 `db:"role_id"`
	Role        string `db:"role_name"`
	RoleActive  bool   `db:"role_active"`
	PermVersion int64  `db:"permissions_version"`
}

type Credentials struct {
	UserID       int64
	PasswordHash string
	IsActive     bool
}

// TokenGenerator creates tokens and expiration times.
type TokenGenerator interface {
	GenerateAccessToken(claims Claims) (token string, err error)
	GenerateRefreshToken(userID string, email string) (token string, err error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	ValidateRefreshToken(tokenString string) (*Claims, error)
}

type AuthTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims carries the permission snapshot resolved at login so most requests skip
// re-resolution. PermVersion pins the role row it was built from; PolicyVersion is the
// issuing process's snapshot version and only appears in logs.
type Claims struct {
	UserID        string   `json:"user_id"`
	Email         string   `json:"email"`
	Role          string   `json:"role,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	PermVersion   int64    `json:"pv,omitempty"`
	PolicyVersion int64    `json:"policy_version,omitempty"`
	jwt.RegisteredClaims
}

type JWTTokenGenerator struct {
	AccessTokenSecret  []byte
	RefreshTokenSecret []byte
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	now                func() time.Time
}

// Session is the body of GET /current-session.
type Session struct {
	IsAuthenticated bool         `json:"is_authenticated"`
	User            *SessionUser `json:"user,omitempty"`
	Stale           bool         `json:"stale"`
	Tokens          *AuthTokens  `json:"tokens,omitempty"`
}

type SessionUser struct {
	ID          int64    `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}
