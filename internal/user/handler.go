package user

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
)

type ServiceAPI interface {
	GetByID(ctx context.Context, userID int64) (*User, error)
	ManagerOf(ctx context.Context, userID int64) (int64, error)
	UpdateOrg(ctx context.Context, userID int64, dto UpdateOrgDTO) (*User, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

// GetCurrentUser handles GET /users/me
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.UserFromContext(r.Context())
	if !ok || current == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.Service.GetByID(r.Context(), current.ID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	u.Permissions = current.Permissions.Strings()
	h.WriteJSON(w, http.StatusOK, u)
}

// GetUser handles GET /users/{id}. Readers with team scope only see their direct reports.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.UserFromContext(r.Context())
	if !ok || current == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	switch permission.HighestScope(current.Permissions, permission.HRMSEmployeeReadAll.Base()) {
	case permission.ScopeAll:
	case permission.ScopeTeam:
		if id != current.ID {
			managerID, err := h.Service.ManagerOf(r.Context(), id)
			if err != nil {
				h.HandleServiceError(w, err)
				return
			}
			if managerID != current.ID {
				h.HandleServiceError(w, internal.NewForbiddenError("user is not in your team", internal.ErrCodeInsufficientPerms))
				return
			}
		}
	default:
		if id != current.ID && !current.Permissions.Has(permission.AdminUserManage) {
			h.HandleServiceError(w, internal.NewForbiddenError("cannot read other users", internal.ErrCodeInsufficientPerms))
			return
		}
	}

	u, err := h.Service.GetByID(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, u)
}

// UpdateOrg handles PATCH /users/{id}/org
func (h *Handler) UpdateOrg(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var dto UpdateOrgDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	u, err := h.Service.UpdateOrg(r.Context(), id, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.HandleServiceError(w, internal.NewValidationFieldError("id", "must be a positive integer", internal.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}
