package role

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/policy"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
)

type ServiceAPI interface {
	ListRoles(ctx context.Context) ([]*Role, error)
	CreateRole(ctx context.Context, dto CreateRoleDTO) (*Role, error)
	SetPermissions(ctx context.Context, id int64, dto SetPermissionsDTO) (*Role, error)
	Activate(ctx context.Context, id int64) (*Role, error)
	Deactivate(ctx context.Context, id int64) (*Role, error)
	ListPermissions(ctx context.Context) ([]PermissionEntry, error)
	RefreshPolicy(ctx context.Context) (*policy.Snapshot, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// GetRoles handles GET /roles
func (h *Handler) GetRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Service.ListRoles(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if roles == nil {
		roles = []*Role{}
	}
	h.WriteJSON(w, http.StatusOK, RolesResponse{Roles: roles})
}

// CreateRole handles POST /roles
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var dto CreateRoleDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	created, err := h.Service.CreateRole(r.Context(), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, created)
}

// SetPermissions handles POST /roles/{id}/permissions
func (h *Handler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	var dto SetPermissionsDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}
	updated, err := h.Service.SetPermissions(r.Context(), id, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, updated)
}

// ActivateRole handles PATCH /roles/{id}/activate
func (h *Handler) ActivateRole(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.Service.Activate)
}

// DeactivateRole handles PATCH /roles/{id}/deactivate
func (h *Handler) DeactivateRole(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.Service.Deactivate)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (*Role, error)) {
	id, ok := h.roleID(w, r)
	if !ok {
		return
	}
	updated, err := fn(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, updated)
}

// GetPermissions handles GET /permissions
func (h *Handler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.Service.ListPermissions(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if perms == nil {
		perms = []PermissionEntry{}
	}
	h.WriteJSON(w, http.StatusOK, PermissionsResponse{Permissions: perms})
}

// RefreshConfig handles POST /config/refresh
func (h *Handler) RefreshConfig(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.RefreshPolicy(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.Logger.Info("policy snapshot refreshed on request", "version", snap.Version, "origin", snap.Origin)
	h.WriteJSON(w, http.StatusOK, RefreshResponse{
		Version:  snap.Version,
		Origin:   snap.Origin,
		LoadedAt: snap.LoadedAt.UTC().Format(time.RFC3339),
		Roles:    snap.Roles(),
	})
}

func (h *Handler) roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.HandleServiceError(w, internal.NewValidationFieldError("id", "must be a positive integer", internal.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}
