package workflow_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

// memRepository keeps clones of definitions and instances and enforces the version
// compare-and-swap the real repository does.
type memRepository struct {
	mu          sync.Mutex
	defs        map[int64]*workflow.Definition
	instances   map[uuid.UUID]*workflow.Instance
	nextDefID   int64
	nextStepID  int64
	updateCalls int
	// beforeUpdate runs once, inside UpdateInstance, to simulate a concurrent writer.
	beforeUpdate func(stored *workflow.Instance)
}

func newMemRepository() *memRepository {
	return &memRepository{
		defs:       map[int64]*workflow.Definition{},
		instances:  map[uuid.UUID]*workflow.Instance{},
		nextDefID:  1,
		nextStepID: 100,
	}
}

func (m *memRepository) CreateDefinition(_ context.Context, def *workflow.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	def.ID = m.nextDefID
	m.nextDefID++
	for i := range def.Steps {
		def.Steps[i].ID = def.ID*10 + int64(def.Steps[i].StepOrder)
	}
	cp := *def
	m.defs[def.ID] = &cp
	return nil
}

func (m *memRepository) GetDefinition(_ context.Context, id int64) (*workflow.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	if !ok {
		return nil, internal.NewNotFoundError("workflow not found", internal.ErrCodeWorkflowNotFound)
	}
	cp := *def
	cp.Steps = append([]workflow.Step(nil), def.Steps...)
	return &cp, nil
}

func (m *memRepository) ListDefinitions(_ context.Context, module string, activeOnly bool) ([]*workflow.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*workflow.Definition{}
	for _, d := range m.defs {
		if (module == "" || d.Module == module) && (!activeOnly || d.IsActive) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepository) FindActiveDefinition(ctx context.Context, module, resource string) (*workflow.Definition, error) {
	m.mu.Lock()
	var id int64
	for _, d := range m.defs {
		if d.Module == module && d.Resource == resource && d.IsActive {
			id = d.ID
		}
	}
	m.mu.Unlock()
	if id == 0 {
		return nil, internal.NewNotFoundError("no active workflow", internal.ErrCodeWorkflowNotFound)
	}
	return m.GetDefinition(ctx, id)
}

func (m *memRepository) SetDefinitionActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[id].IsActive = active
	return nil
}

func (m *memRepository) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range inst.Steps {
		inst.Steps[i].ID = m.nextStepID
		m.nextStepID++
		inst.Steps[i].PersistedStatus = inst.Steps[i].Status
	}
	inst.Version = 1
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *memRepository) GetInstance(_ context.Context, id uuid.UUID) (*workflow.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, internal.NewNotFoundError("instance not found", internal.ErrCodeInstanceNotFound)
	}
	return inst.Clone(), nil
}

func (m *memRepository) UpdateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	stored := m.instances[inst.ID]
	if hook := m.beforeUpdate; hook != nil {
		m.beforeUpdate = nil
		hook(stored)
		stored.Version++
	}
	if stored.Version != inst.Version {
		return internal.NewConflictError("instance was modified concurrently", internal.ErrCodeConcurrentUpdate)
	}
	inst.Version++
	for i := range inst.Steps {
		inst.Steps[i].PersistedStatus = inst.Steps[i].Status
	}
	m.instances[inst.ID] = inst.Clone()
	return nil
}

func (m *memRepository) FindOpenInstance(_ context.Context, subjectType string, subjectID int64) (*workflow.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.Subject.Type == subjectType && inst.Subject.ID == subjectID && !inst.Status.IsTerminal() {
			return inst.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memRepository) FindOverdueSteps(_ context.Context, now time.Time, limit int) ([]workflow.OverdueStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []workflow.OverdueStep{}
	for _, inst := range m.instances {
		if inst.Status != workflow.StatusInProgress {
			continue
		}
		for _, s := range inst.Steps {
			if s.Status.IsActionable() && s.DueAt != nil && !s.DueAt.After(now) && len(out) < limit {
				out = append(out, workflow.OverdueStep{InstanceID: inst.ID, StepID: s.ID})
			}
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, e.EventType())
	return nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

type countingMetrics struct {
	decisions, completions, timeouts, configErrors int
}

func (c *countingMetrics) ObserveDecision(string, string)   { c.decisions++ }
func (c *countingMetrics) ObserveCompletion(string, string) { c.completions++ }
func (c *countingMetrics) ObserveTimeout(string)            { c.timeouts++ }
func (c *countingMetrics) ObserveConfigurationError(string) { c.configErrors++ }

func actorFor(userID int64, perms ...permission.Permission) workflow.Actor {
	return workflow.Actor{UserID: userID, Permissions: permission.NewSet(perms...)}
}

func leaveWorkflowDTO(typ string) workflow.CreateWorkflowDTO {
	hr := hrRoleID
	return workflow.CreateWorkflowDTO{
		Name:         "Leave approval",
		Module:       "HRMS",
		Resource:     "leave",
		WorkflowType: typ,
		Steps: []workflow.StepDTO{
			{StepOrder: 1, Name: "Manager", ApproverType: "manager", CanDelegate: true},
			{StepOrder: 2, Name: "HR", ApproverType: "role", ApproverID: &hr},
		},
	}
}

var _ = Describe("Service", func() {
	var (
		ctx       context.Context
		dir       *memDirectory
		repo      *memRepository
		publisher *recordingPublisher
		metrics   *countingMetrics
		service   *workflow.Service
		now       time.Time
		admin     workflow.Actor
		def       *workflow.Definition
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = newMemDirectory()
		repo = newMemRepository()
		publisher = &recordingPublisher{}
		metrics = &countingMetrics{}
		now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		engine := workflow.NewEngine(dir, workflow.EngineConfig{}).WithClock(func() time.Time { return now })
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = workflow.NewService(repo, engine, publisher, logger).WithMetrics(metrics).WithMaxRetries(3).
			BindSubject("leave_request", "hrms", "leave")
		admin = actorFor(99, permission.AdminWorkflowManage)

		var err error
		def, err = service.CreateWorkflow(ctx, admin, leaveWorkflowDTO("sequential"))
		Expect(err).NotTo(HaveOccurred())
	})

	start := func() *workflow.Instance {
		inst, err := service.CreateInstance(ctx, actorFor(employeeID), workflow.StartInstanceDTO{
			Module: "hrms", Resource: "leave", SubjectType: "leave_request", SubjectID: 100,
		})
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return inst
	}

	Describe("CreateWorkflow", func() {
		It("normalizes module names and defaults steps to required", func() {
			Expect(def.Module).To(Equal("hrms"))
			Expect(def.IsActive).To(BeTrue())
			Expect(def.Steps[0].IsRequired).To(BeTrue())
		})

		It("refuses a second active workflow for the same resource", func() {
			_, err := service.CreateWorkflow(ctx, admin, leaveWorkflowDTO("parallel"))
			Expect(internal.IsType(err, internal.ErrorTypeConflict)).To(BeTrue())

			_, err = service.DeactivateWorkflow(ctx, admin, def.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = service.CreateWorkflow(ctx, admin, leaveWorkflowDTO("parallel"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports field errors from the payload", func() {
			dto := leaveWorkflowDTO("majority")
			dto.Steps[1].ApproverType = "robot"
			_, err := service.CreateWorkflow(ctx, admin, dto)

			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeInvalidWorkflow))
			details := appErr.Details.(internal.ValidationErrors)
			fields := []string{}
			for _, d := range details.Errors {
				fields = append(fields, d.Field)
			}
			Expect(fields).To(ContainElements("workflow_type", "steps[1].approver_type"))
		})

		It("reports structural errors", func() {
			dto := leaveWorkflowDTO("sequential")
			dto.Steps[1].StepOrder = 3
			_, err := service.CreateWorkflow(ctx, admin, dto)
			Expect(internal.HasCode(err, internal.ErrCodeInvalidWorkflow)).To(BeTrue())
		})
	})

	Describe("CreateInstance", func() {
		It("starts the active workflow for the subject", func() {
			inst := start()

			Expect(inst.Status).To(Equal(workflow.StatusInProgress))
			Expect(inst.Version).To(Equal(int64(1)))
			Expect(inst.Subject.OwnerID).To(Equal(employeeID))
			Expect(publisher.Types()).To(ContainElement(events.EventTypeApprovalStarted))
		})

		It("refuses a second open instance for the same subject", func() {
			start()
			_, err := service.CreateInstance(ctx, actorFor(employeeID), workflow.StartInstanceDTO{
				WorkflowID: def.ID, SubjectType: "leave_request", SubjectID: 100,
			})
			Expect(internal.HasCode(err, internal.ErrCodeDuplicateInstance)).To(BeTrue())
		})

		It("only lets administrators start on behalf of someone else", func() {
			dto := workflow.StartInstanceDTO{WorkflowID: def.ID, SubjectType: "leave_request", SubjectID: 7, OwnerID: employeeID}
			_, err := service.CreateInstance(ctx, actorFor(colleagueID), dto)
			Expect(internal.IsType(err, internal.ErrorTypeForbidden)).To(BeTrue())

			inst, err := service.CreateInstance(ctx, admin, dto)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Subject.OwnerID).To(Equal(employeeID))
		})

		It("persists and reports a blocked instance", func() {
			inst, err := service.CreateInstance(ctx, actorFor(colleagueID), workflow.StartInstanceDTO{
				WorkflowID: def.ID, SubjectType: "leave_request", SubjectID: 200,
			})

			Expect(internal.IsType(err, internal.ErrorTypeConfiguration)).To(BeTrue())
			Expect(inst.Status).To(Equal(workflow.StatusBlocked))
			stored, getErr := repo.GetInstance(ctx, inst.ID)
			Expect(getErr).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(workflow.StatusBlocked))
			Expect(publisher.Types()).To(ContainElement(events.EventTypeApprovalBlocked))
			Expect(metrics.configErrors).To(Equal(1))
		})

		It("fails when no workflow is configured", func() {
			_, err := service.CreateInstance(ctx, actorFor(employeeID), workflow.StartInstanceDTO{
				Module: "finance", Resource: "invoice", SubjectType: "invoice", SubjectID: 1,
			})
			Expect(internal.HasCode(err, internal.ErrCodeWorkflowNotFound)).To(BeTrue())
		})

		Context("when the caller picks the workflow by id", func() {
			var invoiceDef *workflow.Definition

			BeforeEach(func() {
				dto := leaveWorkflowDTO("any")
				dto.Name, dto.Module, dto.Resource = "Invoice approval", "finance", "invoice"
				var err error
				invoiceDef, err = service.CreateWorkflow(ctx, admin, dto)
				Expect(err).NotTo(HaveOccurred())
			})

			It("keeps a bound subject type on its own workflow", func() {
				_, err := service.CreateInstance(ctx, actorFor(employeeID), workflow.StartInstanceDTO{
					WorkflowID: invoiceDef.ID, SubjectType: "leave_request", SubjectID: 400,
				})
				Expect(internal.HasCode(err, internal.ErrCodeWorkflowMismatch)).To(BeTrue())

				_, err = service.CreateInstance(ctx, admin, workflow.StartInstanceDTO{
					WorkflowID: invoiceDef.ID, SubjectType: "leave_request", SubjectID: 400, OwnerID: employeeID,
				})
				Expect(internal.HasCode(err, internal.ErrCodeWorkflowMismatch)).To(BeTrue())
				Expect(repo.instances).To(BeEmpty())
			})

			It("refuses an id that contradicts the named module and resource", func() {
				_, err := service.CreateInstance(ctx, actorFor(employeeID), workflow.StartInstanceDTO{
					WorkflowID: def.ID, Module: "finance", Resource: "invoice", SubjectType: "invoice", SubjectID: 5,
				})
				Expect(internal.HasCode(err, internal.ErrCodeWorkflowMismatch)).To(BeTrue())
			})

			It("reserves unbound subject types to workflow administrators", func() {
				dto := workflow.StartInstanceDTO{WorkflowID: invoiceDef.ID, SubjectType: "invoice", SubjectID: 6, OwnerID: employeeID}

				_, err := service.CreateInstance(ctx, actorFor(employeeID), dto)
				Expect(internal.IsType(err, internal.ErrorTypeForbidden)).To(BeTrue())

				inst, err := service.CreateInstance(ctx, admin, dto)
				Expect(err).NotTo(HaveOccurred())
				Expect(inst.WorkflowID).To(Equal(invoiceDef.ID))
			})
		})
	})

	Describe("Decide", func() {
		It("runs the manager and HR chain to completion", func() {
			inst := start()
			first, second := inst.Steps[0].ID, inst.Steps[1].ID

			inst, err := service.Decide(ctx, actorFor(managerID), inst.ID, first, workflow.DecisionApprove, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Version).To(Equal(int64(2)))

			inst, err = service.Decide(ctx, actorFor(hrOneID), inst.ID, second, workflow.DecisionApprove, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Status).To(Equal(workflow.StatusApproved))
			Expect(metrics.decisions).To(Equal(2))
			Expect(metrics.completions).To(Equal(1))
			Expect(publisher.Types()).To(ContainElement(events.EventTypeApprovalCompleted))
		})

		It("leaves the stored instance unchanged on a refused decision", func() {
			inst := start()

			_, err := service.Decide(ctx, actorFor(colleagueID), inst.ID, inst.Steps[0].ID, workflow.DecisionApprove, "")
			Expect(internal.HasCode(err, internal.ErrCodeNotEligibleApprover)).To(BeTrue())

			stored, _ := repo.GetInstance(ctx, inst.ID)
			Expect(stored.Version).To(Equal(int64(1)))
			Expect(repo.updateCalls).To(Equal(0))
		})

		It("reapplies a decision after losing a race on another step", func() {
			_, err := service.DeactivateWorkflow(ctx, admin, def.ID)
			Expect(err).NotTo(HaveOccurred())
			def, err = service.CreateWorkflow(ctx, admin, leaveWorkflowDTO("parallel"))
			Expect(err).NotTo(HaveOccurred())
			inst := start()
			first, second := inst.Steps[0].ID, inst.Steps[1].ID

			repo.beforeUpdate = func(stored *workflow.Instance) {
				step := stored.Step(second)
				step.Status = workflow.StepApproved
				step.PersistedStatus = workflow.StepApproved
				step.DecidedBy = int64p(hrOneID)
			}

			inst, err = service.Decide(ctx, actorFor(managerID), inst.ID, first, workflow.DecisionApprove, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.updateCalls).To(Equal(2))
			Expect(inst.Status).To(Equal(workflow.StatusApproved))
		})

		It("turns a lost race on the same step into a conflict", func() {
			inst := start()
			first := inst.Steps[0].ID

			repo.beforeUpdate = func(stored *workflow.Instance) {
				step := stored.Step(first)
				step.Status = workflow.StepRejected
				step.PersistedStatus = workflow.StepRejected
			}

			_, err := service.Decide(ctx, actorFor(managerID), inst.ID, first, workflow.DecisionApprove, "")
			Expect(internal.HasCode(err, internal.ErrCodeStepNotActionable)).To(BeTrue())

			stored, _ := repo.GetInstance(ctx, inst.ID)
			Expect(stored.Step(first).Status).To(Equal(workflow.StepRejected))
		})

		It("gives up after the retry budget", func() {
			inst := start()
			service.WithMaxRetries(1)
			repo.beforeUpdate = func(stored *workflow.Instance) {}

			_, err := service.Decide(ctx, actorFor(managerID), inst.ID, inst.Steps[0].ID, workflow.DecisionApprove, "")
			Expect(internal.HasCode(err, internal.ErrCodeConcurrentUpdate)).To(BeTrue())
		})

		It("handles concurrent approvers of the same step exactly once", func() {
			inst := start()
			_, err := service.Decide(ctx, actorFor(managerID), inst.ID, inst.Steps[0].ID, workflow.DecisionApprove, "")
			Expect(err).NotTo(HaveOccurred())

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				conflicts int
			)
			for _, approver := range []int64{hrOneID, hrTwoID} {
				wg.Add(1)
				go func(userID int64) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := service.Decide(ctx, actorFor(userID), inst.ID, inst.Steps[1].ID, workflow.DecisionApprove, "")
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						succeeded++
					} else if internal.IsType(err, internal.ErrorTypeConflict) {
						conflicts++
					}
				}(approver)
			}
			wg.Wait()

			Expect(succeeded).To(Equal(1))
			Expect(conflicts).To(Equal(1))
		})
	})

	Describe("Delegate", func() {
		It("publishes the delegation", func() {
			inst := start()

			inst, err := service.Delegate(ctx, actorFor(managerID), inst.ID, inst.Steps[0].ID, workflow.DelegateDTO{DelegateID: colleagueID})
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Steps[0].Status).To(Equal(workflow.StepDelegated))
			Expect(publisher.Types()).To(ContainElement(events.EventTypeApprovalDelegated))
		})

		It("validates the payload", func() {
			inst := start()
			_, err := service.Delegate(ctx, actorFor(managerID), inst.ID, inst.Steps[0].ID, workflow.DelegateDTO{})
			Expect(internal.HasCode(err, internal.ErrCodeInvalidDelegate)).To(BeTrue())
		})
	})

	Describe("Cancel", func() {
		It("lets the requester withdraw", func() {
			inst := start()
			inst, err := service.Cancel(ctx, actorFor(employeeID), inst.ID, workflow.CancelDTO{Reason: "plans changed"})
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Status).To(Equal(workflow.StatusCancelled))
			Expect(publisher.Types()).To(ContainElement(events.EventTypeApprovalCompleted))
		})

		It("refuses anyone else without the admin permission", func() {
			inst := start()
			_, err := service.Cancel(ctx, actorFor(managerID), inst.ID, workflow.CancelDTO{})
			Expect(internal.IsType(err, internal.ErrorTypeForbidden)).To(BeTrue())

			_, err = service.Cancel(ctx, admin, inst.ID, workflow.CancelDTO{})
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("GetInstance", func() {
		It("shows the instance to the people involved", func() {
			inst := start()

			for _, id := range []int64{employeeID, managerID} {
				_, err := service.GetInstance(ctx, actorFor(id), inst.ID)
				Expect(err).NotTo(HaveOccurred())
			}
			_, err := service.GetInstance(ctx, admin, inst.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = service.GetInstance(ctx, actorFor(colleagueID), inst.ID)
			Expect(internal.IsType(err, internal.ErrorTypeForbidden)).To(BeTrue())
		})

		It("lists pending approvers", func() {
			inst := start()
			_, approvers, err := service.PendingApprovers(ctx, actorFor(employeeID), inst.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(approvers).To(Equal([]workflow.ActorRef{{Kind: workflow.ActorUser, ID: managerID}}))
		})

		It("returns not found for an unknown id", func() {
			_, err := service.GetInstance(ctx, admin, uuid.New())
			Expect(internal.HasCode(err, internal.ErrCodeInstanceNotFound)).To(BeTrue())
		})
	})

	Describe("Retry", func() {
		It("resumes a blocked instance", func() {
			inst, err := service.CreateInstance(ctx, actorFor(colleagueID), workflow.StartInstanceDTO{
				WorkflowID: def.ID, SubjectType: "leave_request", SubjectID: 300,
			})
			Expect(err).To(HaveOccurred())

			dir.managers[colleagueID] = managerID
			inst, err = service.Retry(ctx, admin, inst.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Status).To(Equal(workflow.StatusInProgress))
		})
	})

	Describe("SweepTimeouts", func() {
		BeforeEach(func() {
			dto := leaveWorkflowDTO("sequential")
			dto.Module = "finance"
			dto.Resource = "invoice"
			dto.TimeoutPolicy = internal.TimeoutPolicyApprove
			dto.Steps[0].TimeoutHours = intp(2)
			_, err := service.CreateWorkflow(ctx, admin, dto)
			Expect(err).NotTo(HaveOccurred())
		})

		It("expires overdue steps according to the workflow policy", func() {
			inst, err := service.CreateInstance(ctx, actorFor(employeeID), workflow.StartInstanceDTO{
				Module: "finance", Resource: "invoice", SubjectType: "invoice", SubjectID: 1,
			})
			Expect(err).NotTo(HaveOccurred())

			n, err := service.SweepTimeouts(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))

			now = now.Add(3 * time.Hour)
			n, err = service.SweepTimeouts(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(metrics.timeouts).To(Equal(1))

			stored, _ := repo.GetInstance(ctx, inst.ID)
			Expect(stored.Steps[0].Status).To(Equal(workflow.StepTimedOut))
			Expect(stored.Steps[1].Status).To(Equal(workflow.StepPending))
			Expect(publisher.Types()).To(ContainElement(events.EventTypeApprovalTimedOut))

			By("finding nothing left to expire")
			n, err = service.SweepTimeouts(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(0))
		})

		Context("when a decision races the sweep on the same step", func() {
			var inst *workflow.Instance

			persist := func(stored *workflow.Instance) {
				for i := range stored.Steps {
					stored.Steps[i].PersistedStatus = stored.Steps[i].Status
				}
			}

			BeforeEach(func() {
				var err error
				inst, err = service.CreateInstance(ctx, actorFor(employeeID), workflow.StartInstanceDTO{
					Module: "finance", Resource: "invoice", SubjectType: "invoice", SubjectID: 2,
				})
				Expect(err).NotTo(HaveOccurred())
				now = now.Add(3 * time.Hour)
			})

			It("leaves the step to a decision that commits first", func() {
				first := inst.Steps[0].ID
				repo.beforeUpdate = func(stored *workflow.Instance) {
					Expect(service.Engine().Decide(ctx, stored, first, managerID, workflow.DecisionApprove, "")).To(Succeed())
					persist(stored)
				}

				n, err := service.SweepTimeouts(ctx, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))
				Expect(repo.updateCalls).To(Equal(1))
				Expect(metrics.timeouts).To(Equal(0))
				Expect(publisher.Types()).NotTo(ContainElement(events.EventTypeApprovalTimedOut))

				stored, _ := repo.GetInstance(ctx, inst.ID)
				Expect(stored.Step(first).Status).To(Equal(workflow.StepApproved))
				Expect(stored.Step(first).DecidedBy).To(Equal(int64p(managerID)))
			})

			It("turns a decision on a step the sweep already expired into a conflict", func() {
				first := inst.Steps[0].ID
				repo.beforeUpdate = func(stored *workflow.Instance) {
					Expect(service.Engine().Expire(ctx, stored, first)).To(Succeed())
					persist(stored)
				}

				_, err := service.Decide(ctx, actorFor(managerID), inst.ID, first, workflow.DecisionReject, "")
				Expect(internal.HasCode(err, internal.ErrCodeStepNotActionable)).To(BeTrue())
				Expect(internal.IsType(err, internal.ErrorTypeConflict)).To(BeTrue())

				stored, _ := repo.GetInstance(ctx, inst.ID)
				Expect(stored.Step(first).Status).To(Equal(workflow.StepTimedOut))
				Expect(stored.Status).To(Equal(workflow.StatusInProgress))
			})

			It("lets exactly one of them win when they run concurrently", func() {
				first := inst.Steps[0].ID
				var (
					wg       sync.WaitGroup
					expired  int
					sweepErr error
					decided  error
				)
				wg.Add(2)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					expired, sweepErr = service.SweepTimeouts(ctx, 10)
				}()
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, decided = service.Decide(ctx, actorFor(managerID), inst.ID, first, workflow.DecisionApprove, "")
				}()
				wg.Wait()

				Expect(sweepErr).NotTo(HaveOccurred())
				stored, _ := repo.GetInstance(ctx, inst.ID)
				if decided == nil {
					Expect(expired).To(Equal(0))
					Expect(stored.Step(first).Status).To(Equal(workflow.StepApproved))
				} else {
					Expect(internal.HasCode(decided, internal.ErrCodeStepNotActionable) ||
						internal.HasCode(decided, internal.ErrCodeConcurrentUpdate)).To(BeTrue())
					Expect(expired).To(Equal(1))
					Expect(stored.Step(first).Status).To(Equal(workflow.StepTimedOut))
				}
				Expect(stored.Version).To(Equal(int64(2)))
			})
		})
	})
})
