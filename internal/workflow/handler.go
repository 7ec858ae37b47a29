package workflow

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/google/uuid"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/transport"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
)

type ServiceAPI interface {
	CreateWorkflow(ctx context.Context, actor Actor, dto CreateWorkflowDTO) (*Definition, error)
	GetWorkflow(ctx context.Context, id int64) (*Definition, error)
	ListWorkflows(ctx context.Context, module string, activeOnly bool) ([]*Definition, error)
	DeactivateWorkflow(ctx context.Context, actor Actor, id int64) (*Definition, error)

	CreateInstance(ctx context.Context, actor Actor, dto StartInstanceDTO) (*Instance, error)
	GetInstance(ctx context.Context, actor Actor, id uuid.UUID) (*Instance, error)
	PendingApprovers(ctx context.Context, actor Actor, id uuid.UUID) (*Instance, []ActorRef, error)
	Decide(ctx context.Context, actor Actor, id uuid.UUID, stepID int64, decision Decision, note string) (*Instance, error)
	Delegate(ctx context.Context, actor Actor, id uuid.UUID, stepID int64, dto DelegateDTO) (*Instance, error)
	Cancel(ctx context.Context, actor Actor, id uuid.UUID, dto CancelDTO) (*Instance, error)
	Retry(ctx context.Context, actor Actor, id uuid.UUID) (*Instance, error)
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

// ListWorkflows handles GET /approval-workflows?module=&active=true
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	module := r.URL.Query().Get("module")
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	defs, err := h.Service.ListWorkflows(r.Context(), module, activeOnly)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, defs)
}

// CreateWorkflow handles POST /approval-workflows
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var dto CreateWorkflowDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	def, err := h.Service.CreateWorkflow(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, def)
}

// GetWorkflow handles GET /approval-workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := h.int64Param(w, r, "id")
	if !ok {
		return
	}
	def, err := h.Service.GetWorkflow(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, def)
}

// DeactivateWorkflow handles PATCH /approval-workflows/{id}/deactivate
func (h *Handler) DeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.int64Param(w, r, "id")
	if !ok {
		return
	}
	def, err := h.Service.DeactivateWorkflow(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, def)
}

// CreateInstance handles POST /approval-instances
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var dto StartInstanceDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	inst, err := h.Service.CreateInstance(r.Context(), actor, dto)
	h.writeInstance(w, http.StatusCreated, inst, err)
}

// GetInstance handles GET /approval-instances/{id}
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.instanceRequest(w, r)
	if !ok {
		return
	}
	inst, err := h.Service.GetInstance(r.Context(), actor, id)
	h.writeInstance(w, http.StatusOK, inst, err)
}

// PendingApprovers handles GET /approval-instances/{id}/pending-approvers
func (h *Handler) PendingApprovers(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.instanceRequest(w, r)
	if !ok {
		return
	}
	inst, refs, err := h.Service.PendingApprovers(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if refs == nil {
		refs = []ActorRef{}
	}
	h.WriteJSON(w, http.StatusOK, PendingApproversResponse{
		InstanceID: inst.ID.String(),
		Status:     inst.Status,
		Approvers:  refs,
	})
}

// Approve handles POST /approval-instances/{id}/steps/{stepId}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, DecisionApprove)
}

// Reject handles POST /approval-instances/{id}/steps/{stepId}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, DecisionReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision Decision) {
	actor, id, ok := h.instanceRequest(w, r)
	if !ok {
		return
	}
	stepID, ok := h.int64Param(w, r, "stepId")
	if !ok {
		return
	}

	var dto DecisionDTO
	if r.ContentLength != 0 && !h.DecodeJSON(w, r, &dto) {
		return
	}
	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	inst, err := h.Service.Decide(r.Context(), actor, id, stepID, decision, dto.Note)
	h.writeInstance(w, http.StatusOK, inst, err)
}

// Delegate handles POST /approval-instances/{id}/steps/{stepId}/delegate
func (h *Handler) Delegate(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.instanceRequest(w, r)
	if !ok {
		return
	}
	stepID, ok := h.int64Param(w, r, "stepId")
	if !ok {
		return
	}
	var dto DelegateDTO
	if !h.DecodeJSON(w, r, &dto) {
		return
	}

	inst, err := h.Service.Delegate(r.Context(), actor, id, stepID, dto)
	h.writeInstance(w, http.StatusOK, inst, err)
}

// Cancel handles POST /approval-instances/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.instanceRequest(w, r)
	if !ok {
		return
	}
	var dto CancelDTO
	if r.ContentLength != 0 && !h.DecodeJSON(w, r, &dto) {
		return
	}

	inst, err := h.Service.Cancel(r.Context(), actor, id, dto)
	h.writeInstance(w, http.StatusOK, inst, err)
}

// Retry handles POST /approval-instances/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.instanceRequest(w, r)
	if !ok {
		return
	}
	inst, err := h.Service.Retry(r.Context(), actor, id)
	h.writeInstance(w, http.StatusOK, inst, err)
}

// writeInstance reports a blocked instance with 422 and the instance itself, so the
// caller sees both the configuration problem and the persisted state.
func (h *Handler) writeInstance(w http.ResponseWriter, status int, inst *Instance, err error) {
	if err == nil {
		h.WriteJSON(w, status, inst)
		return
	}
	appErr, ok := internal.IsAppError(err)
	if ok && inst != nil && appErr.Type == internal.ErrorTypeConfiguration {
		h.Logger.Warn("approval instance blocked", "instance_id", inst.ID, "code", appErr.Code, "reason", appErr.Message)
		h.WriteJSON(w, appErr.StatusCode, BlockedResponse{Error: appErr, Instance: inst})
		return
	}
	h.HandleServiceError(w, err)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return Actor{}, false
	}
	return Actor{UserID: user.ID, Permissions: user.Permissions}, true
}

func (h *Handler) instanceRequest(w http.ResponseWriter, r *http.Request) (Actor, uuid.UUID, bool) {
	actor, ok := h.actor(w, r)
	if !ok {
		return Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.HandleServiceError(w, internal.NewValidationFieldError("id", "must be a UUID", internal.ErrCodeValidationFailed))
		return Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func (h *Handler) int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		h.HandleServiceError(w, internal.NewValidationFieldError(name, "must be a positive integer", internal.ErrCodeValidationFailed))
		return 0, false
	}
	return v, true
}
