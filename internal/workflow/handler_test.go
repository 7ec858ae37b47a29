package workflow_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

var _ = Describe("Handler", func() {
	var (
		dir    *memDirectory
		router *chi.Mux
	)

	BeforeEach(func() {
		dir = newMemDirectory()
		now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		engine := workflow.NewEngine(dir, workflow.EngineConfig{}).WithClock(func() time.Time { return now })
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service := workflow.NewService(newMemRepository(), engine, nil, logger)
		h := workflow.NewHandler(service)

		router = chi.NewRouter()
		router.Get("/approval-workflows", h.ListWorkflows)
		router.Post("/approval-workflows", h.CreateWorkflow)
		router.Get("/approval-workflows/{id}", h.GetWorkflow)
		router.Patch("/approval-workflows/{id}/deactivate", h.DeactivateWorkflow)
		router.Post("/approval-instances", h.CreateInstance)
		router.Get("/approval-instances/{id}", h.GetInstance)
		router.Get("/approval-instances/{id}/pending-approvers", h.PendingApprovers)
		router.Post("/approval-instances/{id}/steps/{stepId}/approve", h.Approve)
		router.Post("/approval-instances/{id}/steps/{stepId}/reject", h.Reject)
		router.Post("/approval-instances/{id}/steps/{stepId}/delegate", h.Delegate)
		router.Post("/approval-instances/{id}/cancel", h.Cancel)
		router.Post("/approval-instances/{id}/retry", h.Retry)
	})

	do := func(method, path string, body interface{}, user *auth.User) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		if user != nil {
			req = req.WithContext(auth.ContextWithUser(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	userFor := func(id int64, perms ...permission.Permission) *auth.User {
		return &auth.User{ID: id, Permissions: permission.NewSet(perms...)}
	}

	admin := userFor(99, permission.AdminWorkflowManage)

	decode := func(rec *httptest.ResponseRecorder, dst interface{}) {
		ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), dst)).To(Succeed())
	}

	createWorkflow := func() workflow.Definition {
		rec := do(http.MethodPost, "/approval-workflows", leaveWorkflowDTO("sequential"), admin)
		ExpectWithOffset(1, rec.Code).To(Equal(http.StatusCreated))
		var def workflow.Definition
		decode(rec, &def)
		return def
	}

	startLeave := func() workflow.Instance {
		rec := do(http.MethodPost, "/approval-instances", map[string]interface{}{
			"module": "hrms", "resource": "leave", "subject_type": "leave_request", "subject_id": 100,
		}, userFor(employeeID))
		ExpectWithOffset(1, rec.Code).To(Equal(http.StatusCreated))
		var inst workflow.Instance
		decode(rec, &inst)
		return inst
	}

	It("rejects unauthenticated requests", func() {
		rec := do(http.MethodGet, "/approval-instances/"+"6f1c1b1e-3c4c-4f57-9f7c-2a4b9a0e0d11", nil, nil)
		Expect(rec.Code).To(Equal(http.StatusUnauthorized))
	})

	Describe("workflow definitions", func() {
		It("creates, lists and deactivates", func() {
			def := createWorkflow()
			Expect(def.Steps).To(HaveLen(2))
			id := itoa(def.ID)

			rec := do(http.MethodGet, "/approval-workflows?module=hrms&active=true", nil, admin)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var defs []workflow.Definition
			decode(rec, &defs)
			Expect(defs).To(HaveLen(1))

			rec = do(http.MethodPatch, "/approval-workflows/"+id+"/deactivate", nil, admin)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var deactivated workflow.Definition
			decode(rec, &deactivated)
			Expect(deactivated.IsActive).To(BeFalse())
		})

		It("reports field errors for an invalid definition", func() {
			rec := do(http.MethodPost, "/approval-workflows", map[string]interface{}{
				"name": "Broken", "module": "hrms", "resource": "leave", "workflow_type": "round_robin",
				"steps": []map[string]interface{}{{"step_order": 1, "name": "x", "approver_type": "manager"}},
			}, admin)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("workflow_type"))
		})

		It("rejects a non-numeric id", func() {
			rec := do(http.MethodGet, "/approval-workflows/abc", nil, admin)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown workflow", func() {
			rec := do(http.MethodGet, "/approval-workflows/404", nil, admin)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("approval instances", func() {
		BeforeEach(func() {
			createWorkflow()
		})

		It("runs a sequential chain over HTTP", func() {
			inst := startLeave()
			Expect(inst.Status).To(Equal(workflow.StatusInProgress))
			first := stepByOrder(&inst, 1)

			rec := do(http.MethodGet, "/approval-instances/"+inst.ID.String()+"/pending-approvers", nil, userFor(employeeID))
			Expect(rec.Code).To(Equal(http.StatusOK))
			var pending workflow.PendingApproversResponse
			decode(rec, &pending)
			Expect(pending.Approvers).To(Equal([]workflow.ActorRef{{Kind: workflow.ActorUser, ID: managerID}}))

			path := "/approval-instances/" + inst.ID.String() + "/steps/" + itoa(first.ID) + "/approve"
			rec = do(http.MethodPost, path, map[string]string{"note": "enjoy"}, userFor(managerID))
			Expect(rec.Code).To(Equal(http.StatusOK))
			var after workflow.Instance
			decode(rec, &after)
			Expect(stepByOrder(&after, 1).Status).To(Equal(workflow.StepApproved))
			Expect(stepByOrder(&after, 2).Status).To(Equal(workflow.StepPending))

			By("answering a repeated decision with a conflict")
			rec = do(http.MethodPost, path, nil, userFor(managerID))
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("refuses a decision from someone who is not the approver", func() {
			inst := startLeave()
			path := "/approval-instances/" + inst.ID.String() + "/steps/" + itoa(stepByOrder(&inst, 1).ID) + "/reject"

			rec := do(http.MethodPost, path, nil, userFor(colleagueID))

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(rec.Body.String()).To(ContainSubstring(string(internal.ErrCodeNotEligibleApprover)))
		})

		It("returns the blocked instance with 422", func() {
			delete(dir.managers, employeeID)

			rec := do(http.MethodPost, "/approval-instances", map[string]interface{}{
				"module": "hrms", "resource": "leave", "subject_type": "leave_request", "subject_id": 100,
			}, userFor(employeeID))

			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
			var body struct {
				Error    map[string]interface{} `json:"error"`
				Instance workflow.Instance      `json:"instance"`
			}
			decode(rec, &body)
			Expect(body.Error["code"]).To(Equal(string(internal.ErrCodeApproverUnresolvable)))
			Expect(body.Instance.Status).To(Equal(workflow.StatusBlocked))

			By("staying blocked on retry while the configuration is unchanged")
			rec = do(http.MethodPost, "/approval-instances/"+body.Instance.ID.String()+"/retry", nil, admin)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))

			By("resuming once the org chart is fixed")
			dir.managers[employeeID] = managerID
			rec = do(http.MethodPost, "/approval-instances/"+body.Instance.ID.String()+"/retry", nil, admin)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("delegates and cancels", func() {
			inst := startLeave()
			step := itoa(stepByOrder(&inst, 1).ID)

			rec := do(http.MethodPost, "/approval-instances/"+inst.ID.String()+"/steps/"+step+"/delegate",
				map[string]int64{"delegate_id": directorID}, userFor(managerID))
			Expect(rec.Code).To(Equal(http.StatusOK))
			var delegated workflow.Instance
			decode(rec, &delegated)
			Expect(stepByOrder(&delegated, 1).Status).To(Equal(workflow.StepDelegated))

			rec = do(http.MethodPost, "/approval-instances/"+inst.ID.String()+"/cancel", nil, userFor(colleagueID))
			Expect(rec.Code).To(Equal(http.StatusForbidden))

			rec = do(http.MethodPost, "/approval-instances/"+inst.ID.String()+"/cancel",
				map[string]string{"reason": "plans changed"}, userFor(employeeID))
			Expect(rec.Code).To(Equal(http.StatusOK))
			var cancelled workflow.Instance
			decode(rec, &cancelled)
			Expect(cancelled.Status).To(Equal(workflow.StatusCancelled))
		})

		It("hides instances from uninvolved users", func() {
			inst := startLeave()

			rec := do(http.MethodGet, "/approval-instances/"+inst.ID.String(), nil, userFor(colleagueID))
			Expect(rec.Code).To(Equal(http.StatusForbidden))

			rec = do(http.MethodGet, "/approval-instances/"+inst.ID.String(), nil, userFor(managerID))
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("rejects a malformed instance id", func() {
			rec := do(http.MethodGet, "/approval-instances/not-a-uuid", nil, admin)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
