package permission_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
)

func TestPermission(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Permission Suite")
}

var _ = Describe("Parse", func() {
	It("accepts three and four segment permissions", func() {
		p, err := permission.Parse("admin.role.manage")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Scope()).To(Equal(permission.ScopeNone))

		p, err = permission.Parse("hrms.employee.read.team")
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Scope()).To(Equal(permission.ScopeTeam))
		Expect(p.Base()).To(Equal(permission.Permission("hrms.employee.read")))
		Expect(p.Module()).To(Equal("hrms"))
	})

	It("rejects malformed strings", func() {
		for _, raw := range []string{"", "admin", "admin.role", "Admin.Role.Manage", "hrms.employee.read.everyone", "a.b.c.d.e"} {
			_, err := permission.Parse(raw)
			Expect(err).To(HaveOccurred(), raw)
			Expect(internal.HasCode(err, internal.ErrCodeInvalidPermission)).To(BeTrue())
		}
	})
})

var _ = Describe("Catalog", func() {
	catalog := permission.DefaultCatalog()

	It("contains every compiled-in permission", func() {
		Expect(catalog.Len()).To(Equal(len(permission.Known())))
		Expect(catalog.Contains(permission.HRMSLeaveApprove)).To(BeTrue())
	})

	It("rejects well-formed but unknown permissions", func() {
		_, err := catalog.Validate("hrms.payroll.run")
		Expect(internal.HasCode(err, internal.ErrCodeUnknownPermission)).To(BeTrue())
	})

	It("keeps valid entries and reports every invalid one", func() {
		set, err := catalog.ValidateAll([]string{"core.dashboard.read", "bogus", "hrms.payroll.run"})
		Expect(err).To(HaveOccurred())
		Expect(set.Strings()).To(Equal([]string{"core.dashboard.read"}))

		appErr, ok := internal.IsAppError(err)
		Expect(ok).To(BeTrue())
		Expect(appErr.Details.(internal.ValidationErrors).Errors).To(HaveLen(2))
	})
})

var _ = Describe("Can", func() {
	set := permission.NewSet(permission.HRMSEmployeeReadTeam, permission.CoreDashboardRead)

	It("is a membership test for a single permission", func() {
		for _, p := range permission.Known() {
			Expect(permission.Can(set, permission.ModeAny, p)).To(Equal(set.Has(p)))
		}
	})

	It("passes any-mode when one alternative is held", func() {
		Expect(permission.Can(set, permission.ModeAny, permission.HRMSEmployeeReadAll, permission.HRMSEmployeeReadTeam)).To(BeTrue())
		Expect(permission.Can(set, "", permission.HRMSEmployeeReadAll, permission.HRMSEmployeeReadTeam)).To(BeTrue())
	})

	It("requires every permission in all-mode", func() {
		Expect(permission.Can(set, permission.ModeAll, permission.HRMSEmployeeReadTeam, permission.CoreDashboardRead)).To(BeTrue())
		Expect(permission.Can(set, permission.ModeAll, permission.HRMSEmployeeReadTeam, permission.HRMSSalaryRead)).To(BeFalse())
	})

	It("fails closed on an empty any-requirement", func() {
		full := permission.DefaultCatalog().Set()
		Expect(permission.Can(full, permission.ModeAny)).To(BeFalse())
		Expect(permission.Can(full, "")).To(BeFalse())
		Expect(permission.Can(permission.Set{}, permission.ModeAll)).To(BeTrue())
	})

	It("reports the broadest scope held", func() {
		Expect(permission.HighestScope(set, "hrms.employee.read")).To(Equal(permission.ScopeTeam))
		Expect(permission.HighestScope(set, permission.HRMSEmployeeReadSelf)).To(Equal(permission.ScopeTeam))
		Expect(permission.HighestScope(set, "os.goal.read")).To(Equal(permission.ScopeNone))
	})
})

var _ = Describe("Set", func() {
	It("unions without touching either operand", func() {
		a := permission.NewSet(permission.HRMSLeaveRequest)
		b := permission.NewSet(permission.HRMSLeaveApprove, permission.HRMSLeaveRequest)

		u := a.Union(b)
		Expect(u.Len()).To(Equal(2))
		Expect(u.Has(permission.HRMSLeaveApprove)).To(BeTrue())
		Expect(a.Len()).To(Equal(1))
		Expect(a.IsSubsetOf(u)).To(BeTrue())
	})
})

var _ = Describe("Resolver", func() {
	var resolver *permission.Resolver

	BeforeEach(func() {
		resolver = permission.DefaultResolver()
	})

	It("resolves every fallback role to a subset of the catalog", func() {
		full := permission.DefaultCatalog().Set()
		for _, role := range resolver.Roles() {
			set, err := resolver.Resolve(permission.Principal{Role: role})
			Expect(err).NotTo(HaveOccurred())
			Expect(set.IsSubsetOf(full)).To(BeTrue(), role)
		}
	})

	It("gives Admin the full catalog", func() {
		set, err := resolver.Resolve(permission.Principal{Role: "admin"})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Equal(permission.DefaultCatalog().Set())).To(BeTrue())
	})

	It("resolves the Manager fallback to its exact list", func() {
		set, err := resolver.Resolve(permission.Principal{Role: "Manager"})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Slice()).To(ConsistOf(
			permission.CoreDashboardRead,
			permission.HRMSEmployeeReadTeam,
			permission.HRMSEmployeeReadSelf,
			permission.HRMSLeaveApprove,
			permission.OSGoalReadTeam,
			permission.OSGoalReadSelf,
		))
		Expect(permission.Can(set, permission.ModeAny, permission.HRMSEmployeeReadAll)).To(BeFalse())
		Expect(permission.Can(set, permission.ModeAny, permission.HRMSEmployeeReadAll, permission.HRMSEmployeeReadTeam)).To(BeTrue())
	})

	It("fails closed for an unknown role", func() {
		set, err := resolver.Resolve(permission.Principal{Role: "Intern"})
		Expect(internal.HasCode(err, internal.ErrCodeUnknownRole)).To(BeTrue())
		Expect(set.IsEmpty()).To(BeTrue())
	})

	It("treats an explicit permission list as authoritative", func() {
		set, err := resolver.Resolve(permission.Principal{Role: "Admin", Permissions: []string{"hrms.leave.request"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Strings()).To(Equal([]string{"hrms.leave.request"}))

		set, err = resolver.Resolve(permission.Principal{Role: "Admin", Permissions: []string{}})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.IsEmpty()).To(BeTrue())
	})

	It("refuses a role table that references permissions outside the catalog", func() {
		catalog, err := permission.NewCatalog(permission.CoreDashboardRead)
		Expect(err).NotTo(HaveOccurred())
		_, err = permission.NewResolver(catalog, map[string][]permission.Permission{"Viewer": {permission.HRMSSalaryRead}})
		Expect(internal.IsType(err, internal.ErrorTypeConfiguration)).To(BeTrue())
	})

	It("refuses two role names that differ only by case", func() {
		_, err := permission.NewResolver(permission.DefaultCatalog(), map[string][]permission.Permission{
			"Manager": {permission.HRMSLeaveApprove},
			"manager": {},
		})
		Expect(internal.HasCode(err, internal.ErrCodeDuplicateRole)).To(BeTrue())
	})

	It("narrows the fallback table to a smaller catalog", func() {
		catalog, err := permission.NewCatalog(permission.CoreDashboardRead, permission.HRMSLeaveApprove)
		Expect(err).NotTo(HaveOccurred())
		r, err := permission.NewResolver(catalog, permission.FallbackFor(catalog))
		Expect(err).NotTo(HaveOccurred())

		set, _ := r.Resolve(permission.Principal{Role: "Manager"})
		Expect(set.Strings()).To(Equal([]string{"core.dashboard.read", "hrms.leave.approve"}))
		admin, _ := r.Resolve(permission.Principal{Role: "Admin"})
		Expect(admin.Len()).To(Equal(2))
	})
})
