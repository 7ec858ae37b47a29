// Package permission resolves role permissions and answers access decisions.
// Everything here is pure: no I/O, no shared mutable state.
package permission

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/frahmantamala/approval-workflow/internal"
)

// Permission is a capability token in the form <module>.<resource>.<action>[.<scope>].
type Permission string

type Scope string

const (
	ScopeNone Scope = ""
	ScopeSelf Scope = "self"
	ScopeTeam Scope = "team"
	ScopeAll  Scope = "all"
)

const (
	CoreDashboardRead Permission = "core.dashboard.read"

	HRMSEmployeeReadAll  Permission = "hrms.employee.read.all"
	HRMSEmployeeReadTeam Permission = "hrms.employee.read.team"
	HRMSEmployeeReadSelf Permission = "hrms.employee.read.self"
	HRMSEmployeeCreate   Permission = "hrms.employee.create"
	HRMSEmployeeEdit     Permission = "hrms.employee.edit"
	HRMSSalaryRead       Permission = "hrms.salary.read"
	HRMSLeaveRequest     Permission = "hrms.leave.request"
	HRMSLeaveApprove     Permission = "hrms.leave.approve"
	HRMSLeaveReadAll     Permission = "hrms.leave.read.all"
	HRMSLeaveReadSelf    Permission = "hrms.leave.read.self"

	OSGoalReadAll  Permission = "os.goal.read.all"
	OSGoalReadTeam Permission = "os.goal.read.team"
	OSGoalReadSelf Permission = "os.goal.read.self"
	OSGoalEdit     Permission = "os.goal.edit"

	FinanceInvoiceRead    Permission = "finance.invoice.read"
	FinanceInvoiceCreate  Permission = "finance.invoice.create"
	FinanceInvoiceApprove Permission = "finance.invoice.approve"
	FinanceExpenseApprove Permission = "finance.expense.approve"
	FinanceReportRead     Permission = "finance.report.read"

	AdminRoleManage     Permission = "admin.role.manage"
	AdminPermissionRead Permission = "admin.permission.read"
	AdminWorkflowManage Permission = "admin.workflow.manage"
	AdminUserManage     Permission = "admin.user.manage"
)

// known is the closed set of permissions the code base understands, in display order.
var known = []Permission{
	CoreDashboardRead,
	HRMSEmployeeReadAll, HRMSEmployeeReadTeam, HRMSEmployeeReadSelf,
	HRMSEmployeeCreate, HRMSEmployeeEdit, HRMSSalaryRead,
	HRMSLeaveRequest, HRMSLeaveApprove, HRMSLeaveReadAll, HRMSLeaveReadSelf,
	OSGoalReadAll, OSGoalReadTeam, OSGoalReadSelf, OSGoalEdit,
	FinanceInvoiceRead, FinanceInvoiceCreate, FinanceInvoiceApprove,
	FinanceExpenseApprove, FinanceReportRead,
	AdminRoleManage, AdminPermissionRead, AdminWorkflowManage, AdminUserManage,
}

var grammar = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*(\.(all|team|self))?$`)

// Parse checks the grammar only. Use Catalog.Validate to also check membership.
func Parse(raw string) (Permission, error) {
	s := strings.TrimSpace(raw)
	if !grammar.MatchString(s) {
		return "", internal.NewValidationError(fmt.Sprintf("malformed permission %q", raw), internal.ErrCodeInvalidPermission)
	}
	return Permission(s), nil
}

func (p Permission) String() string {
	return string(p)
}

// Parts splits the permission. Scope is ScopeNone for unscoped permissions.
func (p Permission) Parts() (module, resource, action string, scope Scope) {
	segs := strings.Split(string(p), ".")
	if len(segs) < 3 {
		return "", "", "", ScopeNone
	}
	module, resource, action = segs[0], segs[1], segs[2]
	if len(segs) == 4 {
		scope = Scope(segs[3])
	}
	return module, resource, action, scope
}

func (p Permission) Module() string {
	m, _, _, _ := p.Parts()
	return m
}

func (p Permission) Scope() Scope {
	_, _, _, s := p.Parts()
	return s
}

// Base drops the scope segment: hrms.employee.read.team -> hrms.employee.read.
func (p Permission) Base() Permission {
	m, r, a, _ := p.Parts()
	if m == "" {
		return p
	}
	return Permission(m + "." + r + "." + a)
}

// WithScope returns the scoped variant of the base permission.
func (p Permission) WithScope(s Scope) Permission {
	base := p.Base()
	if s == ScopeNone {
		return base
	}
	return Permission(string(base) + "." + string(s))
}

// Known returns a copy of the compiled-in permission list.
func Known() []Permission {
	out := make([]Permission, len(known))
	copy(out, known)
	return out
}
