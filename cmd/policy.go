package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
	"github.com/frahmantamala/approval-workflow/internal/policy"
	"github.com/frahmantamala/approval-workflow/internal/role"
	rolepg "github.com/frahmantamala/approval-workflow/internal/role/postgres"
	"github.com/frahmantamala/approval-workflow/pkg/logger"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the permission policy",
	Long:  `Load the role table from the database or the upstream backend and inspect it.`,
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved role table",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showPolicy(cmd.Context())
	},
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [permission...]",
	Short: "Evaluate permissions for a role or a session token",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkPolicy(cmd.Context(), args)
	},
}

var policyGrantCmd = &cobra.Command{
	Use:   "grant [permission...]",
	Short: "Replace the permissions of a role",
	RunE: func(cmd *cobra.Command, args []string) error {
		return grantPolicy(cmd.Context(), args)
	},
}

var (
	checkRole   string
	checkMode   string
	checkToken  string
	grantRoleID int64
	showModule  string
)

type policyReport struct {
	Origin    string                 `json:"origin"`
	Version   int64                  `json:"version"`
	Roles     []policy.RoleView      `json:"roles"`
	Workflows []workflowSummary      `json:"workflows,omitempty"`
	Check     *permissionCheckResult `json:"check,omitempty"`
}

type workflowSummary struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Module   string `json:"module"`
	Resource string `json:"resource"`
	Active   bool   `json:"is_active"`
}

type permissionCheckResult struct {
	Role     string   `json:"role"`
	Mode     string   `json:"mode"`
	Required []string `json:"required"`
	Granted  []string `json:"granted"`
	Allowed  bool     `json:"allowed"`
}

// loadSnapshot builds a snapshot the same way the server does, without the rest of
// the dependency graph.
func loadSnapshot(ctx context.Context, cfg *internal.Config) (*policy.Snapshot, func(), error) {
	log := logger.LoggerWrapper()

	if cfg.Backend.Enabled {
		loader := policy.NewLoader(newBackendClient(cfg, log), originBackend, log)
		snap, err := loader.Refresh(ctx)
		return snap, func() {}, err
	}

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	loader := newPolicyLoader(cfg, rolepg.NewRoleRepository(gdb), log)
	snap, err := loader.Refresh(ctx)
	return snap, func() { _ = db.Close() }, err
}

func showPolicy(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	snap, closeFn, err := loadSnapshot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	defer closeFn()

	report := policyReport{Origin: snap.Origin, Version: snap.Version, Roles: snap.Roles()}
	if cfg.Backend.Enabled {
		defs, err := newBackendClient(cfg, logger.L()).ListWorkflows(ctx, showModule)
		if err != nil {
			return fmt.Errorf("failed to list upstream workflows: %w", err)
		}
		for _, d := range defs {
			report.Workflows = append(report.Workflows, workflowSummary{
				ID: d.ID, Name: d.Name, Module: d.Module, Resource: d.Resource, Active: d.IsActive,
			})
		}
	}
	return printJSON(report)
}

func checkPolicy(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mode := permission.Mode(strings.ToLower(checkMode))
	if mode != permission.ModeAny && mode != permission.ModeAll {
		return fmt.Errorf("--mode must be any or all, got %q", checkMode)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	snap, closeFn, err := loadSnapshot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	defer closeFn()

	required := make([]permission.Permission, 0, len(args))
	for _, raw := range args {
		p, err := snap.Catalog().Validate(raw)
		if err != nil {
			return err
		}
		required = append(required, p)
	}

	principal, err := checkPrincipal(ctx, cfg)
	if err != nil {
		return err
	}
	granted, err := snap.Resolve(principal)
	if err != nil {
		return err
	}

	return printJSON(policyReport{
		Origin:  snap.Origin,
		Version: snap.Version,
		Check: &permissionCheckResult{
			Role:     principal.Role,
			Mode:     string(mode),
			Required: permission.NewSet(required...).Strings(),
			Granted:  granted.Strings(),
			Allowed:  permission.Can(granted, mode, required...),
		},
	})
}

// checkPrincipal uses the upstream session when a token is given, otherwise the role flag.
func checkPrincipal(ctx context.Context, cfg *internal.Config) (permission.Principal, error) {
	if checkToken == "" {
		if checkRole == "" {
			return permission.Principal{}, fmt.Errorf("either --role or --token is required")
		}
		return permission.Principal{Role: checkRole}, nil
	}
	if !cfg.Backend.Enabled {
		return permission.Principal{}, fmt.Errorf("--token needs backend.enabled")
	}
	session, err := newBackendClient(cfg, logger.L()).CurrentSession(ctx, checkToken)
	if err != nil {
		return permission.Principal{}, err
	}
	return session.Principal(), nil
}

func grantPolicy(ctx context.Context, perms []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if grantRoleID <= 0 {
		return fmt.Errorf("--role-id is required")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Backend.Enabled {
		def, err := newBackendClient(cfg, logger.L()).SetRolePermissions(ctx, grantRoleID, perms)
		if err != nil {
			return err
		}
		return printJSON(def)
	}

	deps, err := initializeDependencies(ctx, true)
	if err != nil {
		return err
	}
	defer deps.DB.Close()
	updated, err := deps.Services.Role.SetPermissions(ctx, grantRoleID, role.SetPermissionsDTO{Permissions: perms})
	if err != nil {
		return err
	}
	return printJSON(updated)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	policyShowCmd.Flags().StringVar(&showModule, "module", "", "Only list upstream workflows of this module")
	policyCheckCmd.Flags().StringVar(&checkRole, "role", "", "Role name or code to evaluate")
	policyCheckCmd.Flags().StringVar(&checkToken, "token", "", "Evaluate the upstream session of this bearer token instead of a role")
	policyCheckCmd.Flags().StringVar(&checkMode, "mode", string(permission.ModeAny), "any or all")
	policyGrantCmd.Flags().Int64Var(&grantRoleID, "role-id", 0, "Role to update")

	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policyCheckCmd)
	policyCmd.AddCommand(policyGrantCmd)

	rootCmd.AddCommand(policyCmd)
}
