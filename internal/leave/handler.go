package leave

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
)

type ServiceAPI interface {
	Submit(ctx context.Context, actor workflow.Actor, dto SubmitLeaveDTO) (*Request, error)
	Get(ctx context.Context, actor workflow.Actor, id int64) (*Request, error)
	List(ctx context.Context, actor workflow.Actor, mine bool, limit, offset int) ([]*Request, error)
	Withdraw(ctx context.Context, actor workflow.Actor, id int64, dto WithdrawLeaveDTO) (*Request, error)
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

// SubmitLeave handles POST /leave-requests
func (h *Handler) SubmitLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var dto SubmitLeaveDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	req, err := h.Service.Submit(r.Context(), actor, dto)
	if err != nil {
		h.Logger.Error("SubmitLeave: service error", "error", err, "user_id", actor.UserID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, req)
}

// GetLeave handles GET /leave-requests/{id}
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.leaveID(w, r)
	if !ok {
		return
	}

	req, err := h.Service.Get(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

// ListLeaves handles GET /leave-requests?mine=true&limit=&offset=
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	mine, _ := strconv.ParseBool(r.URL.Query().Get("mine"))

	reqs, err := h.Service.List(r.Context(), actor, mine, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, LeaveListResponse{Requests: reqs, Limit: limit, Offset: offset})
}

// WithdrawLeave handles POST /leave-requests/{id}/withdraw
func (h *Handler) WithdrawLeave(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.leaveID(w, r)
	if !ok {
		return
	}
	var dto WithdrawLeaveDTO
	if r.ContentLength != 0 && !h.DecodeJSON(w, r, &dto) {
		return
	}

	req, err := h.Service.Withdraw(r.Context(), actor, id, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, req)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (workflow.Actor, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.Logger.Error("leave: user not found in context")
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return workflow.Actor{}, false
	}
	return workflow.Actor{UserID: user.ID, Permissions: user.Permissions}, true
}

func (h *Handler) leaveID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.HandleServiceError(w, internal.NewValidationFieldError("id", "must be a positive integer", internal.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}
