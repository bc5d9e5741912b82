package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/ssoflow/api"
	"github.com/frahmantamala/ssoflow/internal"
	"github.com/frahmantamala/ssoflow/internal/auth"
	authPostgres "github.com/frahmantamala/ssoflow/internal/auth/postgres"
	"github.com/frahmantamala/ssoflow/internal/blob"
	"github.com/frahmantamala/ssoflow/internal/core/events"
	"github.com/frahmantamala/ssoflow/internal/flow"
	flowPostgres "github.com/frahmantamala/ssoflow/internal/flow/postgres"
	"github.com/frahmantamala/ssoflow/internal/form"
	formPostgres "github.com/frahmantamala/ssoflow/internal/form/postgres"
	"github.com/frahmantamala/ssoflow/internal/identity"
	identityPostgres "github.com/frahmantamala/ssoflow/internal/identity/postgres"
	"github.com/frahmantamala/ssoflow/internal/notify"
	"github.com/frahmantamala/ssoflow/internal/oidc"
	oidcPostgres "github.com/frahmantamala/ssoflow/internal/oidc/postgres"
	"github.com/frahmantamala/ssoflow/internal/rbac"
	rbacPostgres "github.com/frahmantamala/ssoflow/internal/rbac/postgres"
	"github.com/frahmantamala/ssoflow/internal/sysconfig"
	sysconfigPostgres "github.com/frahmantamala/ssoflow/internal/sysconfig/postgres"
	"github.com/frahmantamala/ssoflow/internal/ticket"
	ticketPostgres "github.com/frahmantamala/ssoflow/internal/ticket/postgres"
	"github.com/frahmantamala/ssoflow/internal/transport"
	"github.com/frahmantamala/ssoflow/internal/transport/middleware"
	"github.com/frahmantamala/ssoflow/internal/transport/rest"
	"github.com/frahmantamala/ssoflow/pkg/logger"
	"github.com/frahmantamala/ssoflow/pkg/metrics"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

// Dependencies holds every long lived component. The server and the workers build the same graph.
type Dependencies struct {
	Config     *internal.Config
	DB         *sqlx.DB
	Gorm       *gorm.DB
	Router     *chi.Mux
	Logger     *slog.Logger
	Bus        *events.EventBus
	Dispatcher *notify.Dispatcher

	Identity  *identity.Service
	Sessions  *authPostgres.SessionRepository
	Auth      *auth.Service
	RBAC      *rbac.Service
	OIDC      *oidc.Service
	Forms     *form.Service
	Flows     *flow.Service
	Tickets   *ticket.Service
	Sysconfig *sysconfig.Service
	Email     *notify.EmailSender
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if deps.Config.Notify.Enabled {
		deps.Dispatcher.Start()
	}
	setupRoutes(deps)

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "issuer", deps.Config.SSO.Issuer, "version", internal.Version)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
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
		deps.Bus.Wait()
		deps.Dispatcher.Shutdown()
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) {
	cfg := deps.Config
	base := transport.NewBaseHandler(deps.Logger)

	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}

	handlers := rest.Handlers{
		Auth:      auth.NewHandler(base, deps.Auth),
		Identity:  identity.NewHandler(base, deps.Identity),
		OIDC:      oidc.NewHandler(base, deps.OIDC),
		RBAC:      rbac.NewHandler(base, deps.RBAC),
		Form:      form.NewHandler(base, deps.Forms),
		Flow:      flow.NewHandler(base, deps.Flows),
		Ticket:    ticket.NewHandler(base, deps.Tickets, cfg.Storage.MaxUploadSize),
		Sysconfig: sysconfig.NewHandler(base, deps.Sysconfig, deps.Email),
	}

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, handlers, deps.Auth, deps.RBAC.Resolver(), rest.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsEnabled: cfg.Observability.Metrics.Enabled,
		MetricsPath:    cfg.Observability.Metrics.Path,
		OpenAPISpec:    api.Spec,
		LoginLimiter:   limiter,
	}, deps.Logger)
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	env := config.Env
	if config.Observability.Logging.Format == "json" {
		env = "production"
	}
	logger.InitWithLevel(env, config.Observability.Logging.Level)
	log := logger.L()
	if config.Observability.Metrics.Enabled {
		metrics.Init()
	}

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gdb, err := initGorm(db, config.Env)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	deps := &Dependencies{
		Config: config,
		DB:     db,
		Gorm:   gdb,
		Router: chi.NewRouter(),
		Logger: log,
		Bus:    events.NewEventBus(log),
	}
	if err := buildServices(deps); err != nil {
		_ = db.Close()
		return nil, err
	}
	return deps, nil
}

// buildServices wires repositories, services and the notification pipeline onto deps.
func buildServices(deps *Dependencies) error {
	cfg, log := deps.Config, deps.Logger

	deps.Identity = identity.NewService(identityPostgres.NewIdentityRepository(deps.Gorm), log)
	deps.RBAC = rbac.NewService(rbacPostgres.NewRBACRepository(deps.Gorm), deps.Identity, log)
	deps.Sessions = authPostgres.NewSessionRepository(deps.Gorm)

	signer := auth.NewTokenSigner(cfg.Security.SessionSecret, cfg.SSO.Issuer)
	deps.Auth = auth.NewService(deps.Identity, deps.Sessions, signer, deps.RBAC.Resolver(), auth.OptionsFromConfig(cfg), log)

	key, generated, err := oidc.LoadKey(cfg.Security)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	if generated {
		log.Warn("no jwt_private_key configured; using an ephemeral signing key, issued tokens will not survive a restart")
	}
	deps.OIDC = oidc.NewService(oidcPostgres.NewOIDCRepository(deps.Gorm), deps.Identity, deps.Sessions,
		oidc.NewSigner(key, cfg.SSO.Issuer), oidc.OptionsFromConfig(cfg), log)

	deps.Forms = form.NewService(formPostgres.NewFormRepository(deps.Gorm), log)
	deps.Flows = flow.NewService(flowPostgres.NewFlowRepository(deps.Gorm), log)
	deps.Sysconfig = sysconfig.NewService(sysconfigPostgres.NewConfigRepository(deps.Gorm), log)

	store, err := blob.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL, log)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	deps.Tickets = ticket.NewService(ticket.Dependencies{
		Repo:   ticketPostgres.NewTicketRepository(deps.Gorm),
		Stats:  ticketPostgres.NewStatsRepository(deps.DB),
		Forms:  deps.Forms,
		Flows:  deps.Flows,
		Roles:  deps.RBAC.Resolver(),
		Users:  deps.Identity,
		Blobs:  store,
		Events: deps.Bus,
	}, ticket.Options{MaxUploadSize: cfg.Storage.MaxUploadSize}, log)

	client := &http.Client{Timeout: cfg.Notify.SendTimeout}
	deps.Email = notify.NewEmailSender(deps.Sysconfig, log)
	deps.Dispatcher = notify.NewDispatcher(notify.Config{
		MaxWorkers:   cfg.Notify.MaxWorkers,
		JobQueueSize: cfg.Notify.QueueSize,
		MaxRetries:   cfg.Notify.MaxRetries,
		SendTimeout:  cfg.Notify.SendTimeout,
	}, map[string]notify.Sender{
		notify.ChannelEmail:    deps.Email,
		notify.ChannelDingTalk: notify.NewDingTalkSender(deps.Sysconfig, client),
		notify.ChannelWeChat:   notify.NewWeChatSender(deps.Sysconfig, client),
		notify.ChannelLog:      notify.LogSender(log),
	}, log)

	if cfg.Notify.Enabled {
		notify.NewSubscriber(deps.Dispatcher, deps.Sysconfig, deps.Identity, cfg.Notify.FrontendURL, log).
			RegisterEventHandlers(deps.Bus)
	}
	return nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm puts gorm on top of the sqlx pool so both share one set of connections.
func initGorm(db *sqlx.DB, env string) (*gorm.DB, error) {
	level := gormLogger.Warn
	if env != "production" {
		level = gormLogger.Info
	}
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(level),
		SkipDefaultTransaction: true,
	})
}
