package role_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	roleDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/role"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/policy"
	"github.com/frahmantamala/approval-workflow/internal/role"
	rolePostgres "github.com/frahmantamala/approval-workflow/internal/role/postgres"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

var _ = Describe("Role Handler Integration", func() {
	var (
		db     *gorm.DB
		loader *policy.Loader
		router *chi.Mux
	)

	BeforeEach(func() {
		var err error
		slogger := slog.New(slog.NewTextHandler(io.Discard, nil))

		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		Expect(db.AutoMigrate(&roleDatamodel.Role{}, &roleDatamodel.Permission{}, &roleDatamodel.RolePermission{})).To(Succeed())

		repo := rolePostgres.NewRoleRepository(db)
		entries := make([]role.PermissionEntry, 0, len(permission.Known()))
		for _, p := range permission.Known() {
			entries = append(entries, role.PermissionEntry{Name: p.String()})
		}
		Expect(repo.EnsurePermissions(context.Background(), entries)).To(Succeed())

		loader = policy.NewLoader(role.NewSource(repo), "database", slogger)
		_, err = loader.Refresh(context.Background())
		Expect(err).NotTo(HaveOccurred())

		handler := role.NewHandler(role.NewService(repo, loader, slogger))
		router = chi.NewRouter()
		router.Get("/roles", handler.GetRoles)
		router.Post("/roles", handler.CreateRole)
		router.Post("/roles/{id}/permissions", handler.SetPermissions)
		router.Patch("/roles/{id}/activate", handler.ActivateRole)
		router.Patch("/roles/{id}/deactivate", handler.DeactivateRole)
		router.Get("/permissions", handler.GetPermissions)
		router.Post("/config/refresh", handler.RefreshConfig)
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	do := func(method, path string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	createRole := func(name string, perms ...string) role.Role {
		rec := do(http.MethodPost, "/roles", map[string]interface{}{"name": name, "permissions": perms})
		ExpectWithOffset(1, rec.Code).To(Equal(http.StatusCreated))
		var created role.Role
		ExpectWithOffset(1, json.Unmarshal(rec.Body.Bytes(), &created)).To(Succeed())
		return created
	}

	It("should handle GET /permissions request successfully", func() {
		rec := do(http.MethodGet, "/permissions", nil)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(ContainSubstring("application/json"))
		var response role.PermissionsResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &response)).To(Succeed())
		Expect(response.Permissions).To(HaveLen(len(permission.Known())))
	})

	It("creates a role and lists it", func() {
		created := createRole("Team Lead", "hrms.leave.approve")
		Expect(created.Code).To(Equal("TEAM_LEAD"))

		rec := do(http.MethodGet, "/roles", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		var response role.RolesResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &response)).To(Succeed())
		Expect(response.Roles).To(HaveLen(1))
		Expect(response.Roles[0].Permissions).To(Equal([]string{"hrms.leave.approve"}))
	})

	It("rejects a role with an unknown permission", func() {
		rec := do(http.MethodPost, "/roles", map[string]interface{}{"name": "Auditor", "permissions": []string{"finance.ledger.burn"}})

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring("UNKNOWN_PERMISSION"))
	})

	It("answers a duplicate role with 409", func() {
		createRole("Auditor")
		rec := do(http.MethodPost, "/roles", map[string]interface{}{"name": "Auditor"})
		Expect(rec.Code).To(Equal(http.StatusConflict))
	})

	It("bulk-sets permissions and the new snapshot serves them", func() {
		created := createRole("Team Lead", "hrms.leave.approve")
		path := "/roles/" + itoa(created.ID) + "/permissions"

		rec := do(http.MethodPost, path, map[string]interface{}{"permissions": []string{"os.goal.read.team", "os.goal.edit"}})

		Expect(rec.Code).To(Equal(http.StatusOK))
		var updated role.Role
		Expect(json.Unmarshal(rec.Body.Bytes(), &updated)).To(Succeed())
		Expect(updated.PermissionsVersion).To(Equal(created.PermissionsVersion + 1))

		set, err := loader.Current().Resolve(permission.Principal{Role: "Team Lead"})
		Expect(err).NotTo(HaveOccurred())
		Expect(set.Strings()).To(Equal([]string{"os.goal.edit", "os.goal.read.team"}))
	})

	It("deactivates and reactivates a role", func() {
		created := createRole("Team Lead", "hrms.leave.approve")

		rec := do(http.MethodPatch, "/roles/"+itoa(created.ID)+"/deactivate", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		set, _ := loader.Current().Resolve(permission.Principal{Role: "TEAM_LEAD"})
		Expect(set.IsEmpty()).To(BeTrue())

		rec = do(http.MethodPatch, "/roles/"+itoa(created.ID)+"/activate", nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
		set, _ = loader.Current().Resolve(permission.Principal{Role: "TEAM_LEAD"})
		Expect(set.Has(permission.HRMSLeaveApprove)).To(BeTrue())
	})

	It("returns 404 for an unknown role and 400 for a bad id", func() {
		Expect(do(http.MethodPatch, "/roles/404/activate", nil).Code).To(Equal(http.StatusNotFound))
		Expect(do(http.MethodPatch, "/roles/abc/activate", nil).Code).To(Equal(http.StatusBadRequest))
	})

	It("rebuilds the snapshot on POST /config/refresh", func() {
		before := loader.Current().Version

		rec := do(http.MethodPost, "/config/refresh", nil)

		Expect(rec.Code).To(Equal(http.StatusOK))
		var response role.RefreshResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &response)).To(Succeed())
		Expect(response.Version).To(Equal(before + 1))
		Expect(response.Origin).To(Equal("database"))
		Expect(response.Roles).NotTo(BeEmpty())
	})
})
