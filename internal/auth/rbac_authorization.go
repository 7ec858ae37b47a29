package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/transport"
)

// AccessDeniedRecorder counts refused access checks.
type AccessDeniedRecorder interface {
	ObserveAccessDenied(route string)
}

type RBACAuthorization struct {
	*transport.BaseHandler
	metrics AccessDeniedRecorder
}

func NewRBACAuthorization(logger *slog.Logger, metrics AccessDeniedRecorder) *RBACAuthorization {
	return &RBACAuthorization{
		BaseHandler: transport.NewBaseHandler(logger),
		metrics:     metrics,
	}
}

// Require builds a middleware that admits the request when the user's permission set
// satisfies required under mode. A refused check is an authorization error and is never
// retried.
func (ra *RBACAuthorization) Require(mode permission.Mode, required ...permission.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok || user == nil {
				ra.HandleServiceError(w, internal.NewUnauthorizedError("authentication required", internal.ErrCodeInvalidToken))
				return
			}

			if !user.Can(mode, required...) {
				route := routePattern(r)
				ra.Logger.WarnContext(r.Context(), "access denied: insufficient permissions",
					"user_id", user.ID,
					"role", user.Role,
					"route", route,
					"mode", mode,
					"required_permissions", required,
					"stale_permissions", internal.StalePermissionsFromContext(r.Context()))
				if ra.metrics != nil {
					ra.metrics.ObserveAccessDenied(route)
				}
				ra.HandleServiceError(w, internal.NewForbiddenError(
					fmt.Sprintf("requires %s of: %s", modeLabel(mode), joinPermissions(required)),
					internal.ErrCodeInsufficientPerms))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (ra *RBACAuthorization) RequireAny(required ...permission.Permission) func(http.Handler) http.Handler {
	return ra.Require(permission.ModeAny, required...)
}

func (ra *RBACAuthorization) RequireAll(required ...permission.Permission) func(http.Handler) http.Handler {
	return ra.Require(permission.ModeAll, required...)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func modeLabel(mode permission.Mode) string {
	if mode == permission.ModeAll {
		return "all"
	}
	return "one"
}

func joinPermissions(perms []permission.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
