package permission

const (
	RoleAdmin    = "Admin"
	RoleHR       = "HR"
	RoleManager  = "Manager"
	RoleFinance  = "Finance"
	RoleEmployee = "Employee"
)

// FallbackTable is the static role table used when a session carries no permission list.
// A fresh map is returned on every call.
func FallbackTable() map[string][]Permission {
	return map[string][]Permission{
		RoleAdmin: Known(),
		RoleHR: {
			CoreDashboardRead,
			HRMSEmployeeReadAll,
			HRMSEmployeeCreate,
			HRMSEmployeeEdit,
			HRMSSalaryRead,
			HRMSLeaveRequest,
			HRMSLeaveApprove,
			HRMSLeaveReadAll,
			OSGoalReadAll,
		},
		RoleManager: {
			CoreDashboardRead,
			HRMSEmployeeReadTeam,
			HRMSEmployeeReadSelf,
			HRMSLeaveApprove,
			OSGoalReadTeam,
			OSGoalReadSelf,
		},
		RoleFinance: {
			CoreDashboardRead,
			HRMSEmployeeReadSelf,
			HRMSLeaveRequest,
			HRMSLeaveReadSelf,
			FinanceInvoiceRead,
			FinanceInvoiceCreate,
			FinanceInvoiceApprove,
			FinanceExpenseApprove,
			FinanceReportRead,
		},
		RoleEmployee: {
			CoreDashboardRead,
			HRMSEmployeeReadSelf,
			HRMSLeaveRequest,
			HRMSLeaveReadSelf,
			OSGoalReadSelf,
		},
	}
}
