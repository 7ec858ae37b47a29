package postgres_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/approval-workflow/internal"
	roleDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/role"
	"github.com/frahmantamala/approval-workflow/internal/role"
	rolePostgres "github.com/frahmantamala/approval-workflow/internal/role/postgres"
)

func TestRolePostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Role Postgres Suite")
}

var _ = Describe("Role PostgreSQL Repository", func() {
	var (
		ctx  context.Context
		db   *gorm.DB
		repo *rolePostgres.RoleRepository
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(db.AutoMigrate(&roleDatamodel.Role{}, &roleDatamodel.Permission{}, &roleDatamodel.RolePermission{})).To(Succeed())

		repo = rolePostgres.NewRoleRepository(db)
		Expect(repo.EnsurePermissions(ctx, []role.PermissionEntry{
			{Name: "hrms.leave.approve", Description: "Approve leave"},
			{Name: "hrms.leave.request"},
			{Name: "core.dashboard.read"},
		})).To(Succeed())
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	createLead := func() *role.Role {
		r := role.NewRole("Team Lead", "", "leads a squad")
		r.Permissions = []string{"hrms.leave.approve"}
		ExpectWithOffset(1, repo.CreateRole(ctx, r)).To(Succeed())
		return r
	}

	It("seeds the permission catalog idempotently", func() {
		Expect(repo.EnsurePermissions(ctx, []role.PermissionEntry{{Name: "hrms.leave.request"}})).To(Succeed())

		perms, err := repo.ListPermissions(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(perms).To(HaveLen(3))
		Expect(perms[0].Name).To(Equal("core.dashboard.read"))
	})

	It("creates a role with its grants", func() {
		lead := createLead()
		Expect(lead.ID).NotTo(BeZero())

		loaded, err := repo.GetRole(ctx, lead.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Code).To(Equal("TEAM_LEAD"))
		Expect(loaded.IsActive).To(BeTrue())
		Expect(loaded.PermissionsVersion).To(Equal(int64(1)))
		Expect(loaded.Permissions).To(Equal([]string{"hrms.leave.approve"}))
	})

	It("refuses a duplicate name regardless of case", func() {
		createLead()

		err := repo.CreateRole(ctx, role.NewRole("team lead", "LEAD2", ""))
		Expect(internal.HasCode(err, internal.ErrCodeDuplicateRole)).To(BeTrue())
	})

	It("refuses to grant a permission missing from the catalog table", func() {
		r := role.NewRole("Auditor", "", "")
		r.Permissions = []string{"finance.report.read"}

		err := repo.CreateRole(ctx, r)
		Expect(internal.HasCode(err, internal.ErrCodeUnknownPermission)).To(BeTrue())

		roles, err := repo.ListRoles(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(roles).To(BeEmpty())
	})

	It("replaces permissions and bumps the version", func() {
		lead := createLead()

		updated, err := repo.ReplacePermissions(ctx, lead.ID, []string{"core.dashboard.read", "hrms.leave.request"})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Permissions).To(Equal([]string{"core.dashboard.read", "hrms.leave.request"}))
		Expect(updated.PermissionsVersion).To(Equal(int64(2)))

		cleared, err := repo.ReplacePermissions(ctx, lead.ID, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(cleared.Permissions).To(BeEmpty())
		Expect(cleared.PermissionsVersion).To(Equal(int64(3)))
	})

	It("toggles activation and bumps the version only on change", func() {
		lead := createLead()

		off, err := repo.SetActive(ctx, lead.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(off.IsActive).To(BeFalse())
		Expect(off.PermissionsVersion).To(Equal(int64(2)))

		same, err := repo.SetActive(ctx, lead.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(same.PermissionsVersion).To(Equal(int64(2)))
	})

	It("lists roles with their grants", func() {
		createLead()
		viewer := role.NewRole("Viewer", "", "")
		viewer.Permissions = []string{"core.dashboard.read"}
		Expect(repo.CreateRole(ctx, viewer)).To(Succeed())

		roles, err := repo.ListRoles(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(roles).To(HaveLen(2))
		Expect(roles[0].Name).To(Equal("Team Lead"))
		Expect(roles[1].Permissions).To(Equal([]string{"core.dashboard.read"}))
	})

	It("reports a missing role", func() {
		_, err := repo.SetActive(ctx, 99, true)
		Expect(internal.HasCode(err, internal.ErrCodeRoleNotFound)).To(BeTrue())
	})
})
