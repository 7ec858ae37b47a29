package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/frahmantamala/approval-workflow/internal"
	userDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/user"
	workflowDatamodel "github.com/frahmantamala/approval-workflow/internal/core/datamodel/workflow"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/role"
	rolepg "github.com/frahmantamala/approval-workflow/internal/role/postgres"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
)

const seedPassword = "password"

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the permission catalog, the default roles, a small org chart and the leave approval workflow.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sx, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sx.Close()
		db, err := initGorm(sx)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			if err := clearSeedData(db); err != nil {
				log.Fatalf("failed to clear data: %v", err)
			}
			fmt.Println("Cleared existing data")
		}

		roles := rolepg.NewRoleRepository(db)
		roleIDs, err := seedRoles(ctx, roles)
		if err != nil {
			log.Fatalf("failed to seed roles: %v", err)
		}
		fmt.Println("Seeded permission catalog and default roles")

		hash, err := bcrypt.GenerateFromPassword([]byte(seedPassword), cfg.Security.BCryptCost)
		if err != nil {
			log.Fatalf("failed to hash seed password: %v", err)
		}
		if err := seedOrgChart(db, string(hash), roleIDs); err != nil {
			log.Fatalf("failed to seed users: %v", err)
		}
		fmt.Println("Seeded users (password:", seedPassword+")")

		if err := seedLeaveWorkflow(db, roleIDs[permission.RoleHR]); err != nil {
			log.Fatalf("failed to seed leave workflow: %v", err)
		}
		fmt.Println("Seeded hrms/leave approval workflow")
	},
}

func clearSeedData(db *gorm.DB) error {
	return db.Exec(`TRUNCATE leave_requests, approval_instance_steps, approval_instances,
		approval_workflow_steps, approval_workflows, users, departments,
		role_permissions, permissions, roles RESTART IDENTITY CASCADE`).Error
}

// seedRoles stores the catalog and the built-in role table, leaving roles that
// already exist untouched.
func seedRoles(ctx context.Context, repo *rolepg.RoleRepository) (map[string]int64, error) {
	known := permission.Known()
	entries := make([]role.PermissionEntry, len(known))
	for i, p := range known {
		entries[i] = role.PermissionEntry{Name: p.String()}
	}
	if err := repo.EnsurePermissions(ctx, entries); err != nil {
		return nil, err
	}

	existing, err := repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(existing))
	for _, r := range existing {
		ids[r.Name] = r.ID
	}

	for name, perms := range permission.FallbackTable() {
		if _, ok := ids[name]; ok {
			continue
		}
		r := role.NewRole(name, "", name+" role")
		r.Permissions = permission.NewSet(perms...).Strings()
		if err := repo.CreateRole(ctx, r); err != nil {
			if internal.HasCode(err, internal.ErrCodeDuplicateRole) {
				continue
			}
			return nil, err
		}
		ids[name] = r.ID
	}
	return ids, nil
}

type seedUser struct {
	Email   string
	Name    string
	Role    string
	Manager string
}

func seedOrgChart(db *gorm.DB, hash string, roleIDs map[string]int64) error {
	return db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		dept := userDatamodel.Department{Name: "People Operations", CreatedAt: now, UpdatedAt: now}
		if err := tx.Where("name = ?", dept.Name).FirstOrCreate(&dept).Error; err != nil {
			return err
		}

		users := []seedUser{
			{Email: "admin@mail.com", Name: "Admin", Role: permission.RoleAdmin},
			{Email: "hr@mail.com", Name: "Hana HR", Role: permission.RoleHR},
			{Email: "manager@mail.com", Name: "Mira Manager", Role: permission.RoleManager},
			{Email: "employee@mail.com", Name: "Eko Employee", Role: permission.RoleEmployee, Manager: "manager@mail.com"},
			{Email: "finance@mail.com", Name: "Fadhil Finance", Role: permission.RoleFinance, Manager: "manager@mail.com"},
		}

		byEmail := make(map[string]int64, len(users))
		for _, u := range users {
			row := userDatamodel.User{
				Email:        u.Email,
				Name:         u.Name,
				PasswordHash: hash,
				DepartmentID: &dept.ID,
				IsActive:     true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if id, ok := roleIDs[u.Role]; ok {
				row.RoleID = &id
			}
			if managerID, ok := byEmail[u.Manager]; ok {
				row.ManagerID = &managerID
			}
			if err := tx.Where("email = ?", u.Email).FirstOrCreate(&row).Error; err != nil {
				return err
			}
			byEmail[u.Email] = row.ID
		}

		head := byEmail["hr@mail.com"]
		return tx.Model(&dept).Update("head_user_id", head).Error
	})
}

// seedLeaveWorkflow installs a two-step sequential chain: the requester's manager,
// then any HR holder.
func seedLeaveWorkflow(db *gorm.DB, hrRoleID int64) error {
	var existing workflowDatamodel.ApprovalWorkflow
	err := db.Where("module = ? AND resource = ? AND is_active = ?", "hrms", "leave", true).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	timeout := 48
	def := workflowDatamodel.ApprovalWorkflow{
		Name:         "Leave approval",
		Module:       "hrms",
		Resource:     "leave",
		WorkflowType: string(workflow.TypeSequential),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Steps: []workflowDatamodel.ApprovalWorkflowStep{
			{StepOrder: 1, Name: "Manager review", ApproverType: string(workflow.ApproverManager), IsRequired: true, CanDelegate: true, TimeoutHours: &timeout},
			{StepOrder: 2, Name: "HR confirmation", ApproverType: string(workflow.ApproverRole), ApproverID: &hrRoleID, IsRequired: true, DelegateRoleID: &hrRoleID, CanDelegate: true},
		},
	}
	return db.Create(&def).Error
}
