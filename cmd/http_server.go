package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/auth"
	authpg "github.com/frahmantamala/approval-workflow/internal/auth/postgres"
	"github.com/frahmantamala/approval-workflow/internal/backend"
	"github.com/frahmantamala/approval-workflow/internal/core/events"
	"github.com/frahmantamala/approval-workflow/internal/leave"
	leavepg "github.com/frahmantamala/approval-workflow/internal/leave/postgres"
	"github.com/frahmantamala/approval-workflow/internal/observability"
	"github.com/frahmantamala/approval-workflow/internal/policy"
	"github.com/frahmantamala/approval-workflow/internal/role"
	rolepg "github.com/frahmantamala/approval-workflow/internal/role/postgres"
	"github.com/frahmantamala/approval-workflow/internal/transport/middleware"
	"github.com/frahmantamala/approval-workflow/internal/transport/rest"
	"github.com/frahmantamala/approval-workflow/internal/user"
	userpg "github.com/frahmantamala/approval-workflow/internal/user/postgres"
	"github.com/frahmantamala/approval-workflow/internal/workflow"
	workflowpg "github.com/frahmantamala/approval-workflow/internal/workflow/postgres"
	"github.com/frahmantamala/approval-workflow/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	originDatabase = "database"
	originBackend  = "backend"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Services struct {
	Auth     *auth.Service
	Role     *role.Service
	User     *user.Service
	Workflow *workflow.Service
	Leave    *leave.Service
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Router   *chi.Mux
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Events   *events.EventBus
	Policy   *policy.Loader
	Services Services
}

func startHTTPServer() {
	deps, err := initializeDependencies(context.Background(), false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "policy_origin", deps.Policy.Current().Origin)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) error {
	cfg := deps.Config
	svc := deps.Services

	var validator *middleware.OpenAPIValidator
	if cfg.Server.ValidateRequests {
		v, err := middleware.NewOpenAPIValidator(cfg.Server.OpenAPIPath, rest.APIBasePath, deps.Logger)
		if err != nil {
			return err
		}
		validator = v
	}

	var denied auth.AccessDeniedRecorder
	if deps.Metrics != nil {
		denied = deps.Metrics
	}

	rest.RegisterAllRoutes(deps.Router, rest.Handlers{
		Health:   rest.NewHealthHandler(deps.DB, deps.Policy),
		Auth:     auth.NewHandler(svc.Auth),
		Role:     role.NewHandler(svc.Role),
		User:     user.NewHandler(svc.User),
		Workflow: workflow.NewHandler(svc.Workflow),
		Leave:    leave.NewHandler(svc.Leave),
	}, rest.Options{
		Logger:         deps.Logger,
		RBAC:           auth.NewRBACAuthorization(deps.Logger, denied),
		Metrics:        deps.Metrics,
		MetricsPath:    cfg.Observability.Metrics.Path,
		Validator:      validator,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		OpenAPIPath:    cfg.Server.OpenAPIPath,
	})
	return nil
}

// initializeDependencies wires every service. With syncEvents set, event handlers run
// before the publishing call returns.
func initializeDependencies(ctx context.Context, syncEvents bool) (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var metrics *observability.Metrics
	if config.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	roleRepo := rolepg.NewRoleRepository(gdb)
	loader := newPolicyLoader(config, roleRepo, log)
	if _, err := loader.Refresh(ctx); err != nil {
		log.Warn("initial policy load failed, serving the built-in role table", "error", err)
	}

	bus := events.NewEventBus(log)
	var publisher workflow.EventPublisher = bus
	if syncEvents {
		publisher = events.SyncPublisher{Bus: bus}
	}

	roleSvc := role.NewService(roleRepo, loader, log)
	userSvc := user.NewService(userpg.NewUserRepository(db), log)

	tokens := auth.NewJWTTokenGenerator(
		config.Security.AccessTokenSecret,
		config.Security.RefreshTokenSecret,
		config.Security.AccessTokenDuration,
		config.Security.RefreshTokenDuration,
	)
	authSvc := auth.NewService(authpg.NewRepository(gdb), tokens, loader, config.Security.BCryptCost, log)

	engine := workflow.NewEngine(userSvc, workflow.EngineConfig{
		DefaultTimeoutPolicy: config.Workflow.TimeoutPolicy,
		EscalationTTL:        config.Workflow.EscalationTTL,
	})
	workflowSvc := workflow.NewService(workflowpg.NewWorkflowRepository(gdb, db), engine, publisher, log).
		WithMaxRetries(config.Workflow.MaxCASRetries).
		BindSubject(leave.SubjectType, leave.WorkflowModule, leave.WorkflowResource)

	if metrics != nil {
		roleSvc.WithMetrics(metrics)
		workflowSvc.WithMetrics(metrics)
	}

	leaveSvc := leave.NewService(leavepg.NewLeaveRepository(gdb), workflowSvc, log)
	leave.NewEventHandler(leaveSvc, log).RegisterEventHandlers(bus)

	return &Dependencies{
		Config:  config,
		DB:      db,
		Gorm:    gdb,
		Router:  chi.NewRouter(),
		Logger:  log,
		Metrics: metrics,
		Events:  bus,
		Policy:  loader,
		Services: Services{
			Auth:     authSvc,
			Role:     roleSvc,
			User:     userSvc,
			Workflow: workflowSvc,
			Leave:    leaveSvc,
		},
	}, nil
}

// newPolicyLoader reads roles from the upstream backend when one is configured and
// from the local role tables otherwise.
func newPolicyLoader(cfg *internal.Config, roles *rolepg.RoleRepository, log *slog.Logger) *policy.Loader {
	if cfg.Backend.Enabled {
		return policy.NewLoader(newBackendClient(cfg, log), originBackend, log)
	}
	return policy.NewLoader(role.NewSource(roles), originDatabase, log)
}

func newBackendClient(cfg *internal.Config, log *slog.Logger) *backend.Client {
	return backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: cfg.Backend.Timeout,
	}, log)
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with GORM.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return gdb, nil
}
