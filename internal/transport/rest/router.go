package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/leave"
	"github.com/frahmantamala/approval-workflow/internal/observability"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/role"
	"github.com/frahmantamala/approval-workflow/internal/transport/middleware"
	"github.com/frahmantamala/approval-workflow/internal/transport/swagger"
	"github.com/frahmantamala/approval-workflow/internal/user"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

const APIBasePath = "/api/v1"

type Handlers struct {
	Health   *HealthHandler
	Auth     *auth.Handler
	Role     *role.Handler
	User     *user.Handler
	Workflow *workflow.Handler
	Leave    *leave.Handler
}

type Options struct {
	Logger         *slog.Logger
	RBAC           *auth.RBACAuthorization
	Metrics        *observability.Metrics
	MetricsPath    string
	Validator      *middleware.OpenAPIValidator
	AllowedOrigins string
	RequestTimeout time.Duration
	OpenAPIPath    string
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, opts Options) {
	rbac := opts.RBAC
	if rbac == nil {
		var denied auth.AccessDeniedRecorder
		if opts.Metrics != nil {
			denied = opts.Metrics
		}
		rbac = auth.NewRBACAuthorization(opts.Logger, denied)
	}

	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(opts.Logger))
	router.Use(middleware.LoggingMiddleware(opts.Logger))
	router.Use(opts.Metrics.Middleware)

	if opts.Metrics != nil && opts.MetricsPath != "" {
		router.Handle(opts.MetricsPath, opts.Metrics.Handler())
	}

	if opts.OpenAPIPath != "" {
		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, opts.OpenAPIPath)
		})
		router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))
	}

	router.Route(APIBasePath, func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chiMiddleware.Timeout(opts.RequestTimeout))
		}
		if opts.Validator != nil {
			r.Use(opts.Validator.Middleware)
		}

		if h.Health != nil {
			r.Get("/health", h.Health.Check)
			r.Get("/ping", h.Health.Ping)
		}

		if h.Auth == nil {
			return
		}

		r.Route("/auth", func(sr chi.Router) {
			sr.Post("/login", h.Auth.Login)
			sr.Post("/refresh", h.Auth.RefreshToken)
			sr.Post("/logout", h.Auth.Logout)
		})
		// Answers anonymous callers with is_authenticated=false.
		r.Get("/current-session", h.Auth.CurrentSession)

		r.Group(func(pr chi.Router) {
			pr.Use(h.Auth.AuthMiddleware)

			if h.Role != nil {
				registerRoleRoutes(pr, h.Role, rbac)
			}
			if h.User != nil {
				registerUserRoutes(pr, h.User, rbac)
			}
			if h.Workflow != nil {
				registerWorkflowRoutes(pr, h.Workflow, rbac)
			}
			if h.Leave != nil {
				registerLeaveRoutes(pr, h.Leave, rbac)
			}
		})
	})
}

func registerRoleRoutes(r chi.Router, h *role.Handler, rbac *auth.RBACAuthorization) {
	r.With(rbac.RequireAny(permission.AdminRoleManage, permission.AdminPermissionRead)).
		Get("/permissions", h.GetPermissions)

	r.Route("/roles", func(rr chi.Router) {
		rr.With(rbac.RequireAny(permission.AdminRoleManage, permission.AdminPermissionRead)).
			Get("/", h.GetRoles)

		rr.Group(func(mr chi.Router) {
			mr.Use(rbac.RequireAll(permission.AdminRoleManage))
			mr.Post("/", h.CreateRole)
			mr.Post("/{id}/permissions", h.SetPermissions)
			mr.Patch("/{id}/activate", h.ActivateRole)
			mr.Patch("/{id}/deactivate", h.DeactivateRole)
		})
	})

	r.With(rbac.RequireAll(permission.AdminRoleManage)).
		Post("/config/refresh", h.RefreshConfig)
}

func registerUserRoutes(r chi.Router, h *user.Handler, rbac *auth.RBACAuthorization) {
	r.Route("/users", func(ur chi.Router) {
		ur.Get("/me", h.GetCurrentUser)
		// Scope (all, team or self) is narrowed inside the handler.
		ur.With(rbac.RequireAny(
			permission.HRMSEmployeeReadAll,
			permission.HRMSEmployeeReadTeam,
			permission.HRMSEmployeeReadSelf,
			permission.AdminUserManage,
		)).Get("/{id}", h.GetUser)
		ur.With(rbac.RequireAll(permission.AdminUserManage)).
			Patch("/{id}/org", h.UpdateOrg)
	})
}

func registerWorkflowRoutes(r chi.Router, h *workflow.Handler, rbac *auth.RBACAuthorization) {
	r.Route("/approval-workflows", func(wr chi.Router) {
		wr.Get("/", h.ListWorkflows)
		wr.Get("/{id}", h.GetWorkflow)

		wr.Group(func(mr chi.Router) {
			mr.Use(rbac.RequireAll(permission.AdminWorkflowManage))
			mr.Post("/", h.CreateWorkflow)
			mr.Patch("/{id}/deactivate", h.DeactivateWorkflow)
		})
	})

	// Eligibility for each step is decided by the engine, not by route permissions.
	r.Route("/approval-instances", func(ir chi.Router) {
		ir.Post("/", h.CreateInstance)
		ir.Get("/{id}", h.GetInstance)
		ir.Get("/{id}/pending-approvers", h.PendingApprovers)
		ir.Post("/{id}/steps/{stepId}/approve", h.Approve)
		ir.Post("/{id}/steps/{stepId}/reject", h.Reject)
		ir.Post("/{id}/steps/{stepId}/delegate", h.Delegate)
		ir.Post("/{id}/cancel", h.Cancel)
		ir.With(rbac.RequireAll(permission.AdminWorkflowManage)).
			Post("/{id}/retry", h.Retry)
	})
}

func registerLeaveRoutes(r chi.Router, h *leave.Handler, rbac *auth.RBACAuthorization) {
	r.Route("/leave-requests", func(lr chi.Router) {
		lr.With(rbac.RequireAll(permission.HRMSLeaveRequest)).
			Post("/", h.SubmitLeave)

		lr.Group(func(rr chi.Router) {
			rr.Use(rbac.RequireAny(permission.HRMSLeaveReadAll, permission.HRMSLeaveReadSelf))
			rr.Get("/", h.ListLeaves)
			rr.Get("/{id}", h.GetLeave)
		})

		lr.With(rbac.RequireAny(permission.HRMSLeaveRequest, permission.AdminWorkflowManage)).
			Post("/{id}/withdraw", h.WithdrawLeave)
	})
}
