package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog/v2"
	"github.com/joho/godotenv"
	"github.com/koltyakov/gosip/api"

	"sprisk/application"
	"sprisk/database"
	"sprisk/datastore"
	"sprisk/domain/risk"
	"sprisk/infrastructure/checkpoint"
	"sprisk/infrastructure/config"
	"sprisk/infrastructure/spclient"
	"sprisk/infrastructure/spcollector"
	"sprisk/infrastructure/throttle"
	"sprisk/interfaces/web/handlers"
	"sprisk/logging"
	"sprisk/platform/events"
	"sprisk/spauth"
)

func main() {
	// Create app-wide context for graceful shutdown
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Initialize configuration
	loadEnvironment()
	cfg := config.LoadAppConfigFromEnv()

	// Initialize logging
	logger := initializeLogging(cfg)

	// Initialize database
	db := initializeDatabase(cfg, logger)
	defer db.Close()

	// Build dependencies with app context
	deps := buildDependencies(appCtx, cfg, db, logger)

	// Setup routes and start server
	router := setupRoutes(deps, cfg)
	startServer(router, cfg.HTTPAddr, logger, appCancel)
}

// Dependencies holds the wired application components.
type Dependencies struct {
	DB           *database.Database
	Logger       *logging.Logger
	Store        *datastore.Store
	AuditService *application.AuditService
	Handlers     *handlers.OperationHandlers
	EventBus     *events.OperationEventBus
}

func loadEnvironment() {
	if err := godotenv.Load(); err != nil {
		println("No .env file found, using environment variables")
	} else {
		println("Loaded configuration from .env file")
	}
}

func initializeLogging(cfg *config.AppConfig) *logging.Logger {
	logger := logging.NewLogger(cfg.Logging)
	logging.SetDefault(logger)

	logger.Info("Application starting",
		"version", "1.0.0",
		"log_level", cfg.Logging.Level,
		"log_format", cfg.Logging.Format,
		"db_path", cfg.Database.Path,
	)

	return logger
}

func initializeDatabase(cfg *config.AppConfig, logger *logging.Logger) *database.Database {
	db, err := database.New(*cfg.Database, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	return db
}

// buildDependencies creates all application components.
func buildDependencies(appCtx context.Context, cfg *config.AppConfig, db *database.Database, logger *logging.Logger) *Dependencies {
	parameters := config.LoadScanParametersFromEnv()
	if err := parameters.ValidateAndSetDefaults(nil); err != nil {
		logger.Error("Invalid scan parameters", "error", err)
		os.Exit(1)
	}

	authCfg, err := spauth.FromEnv()
	if err != nil {
		logger.Error("Failed to load SharePoint configuration", "error", err)
		os.Exit(1)
	}
	authClient, err := spauth.NewClient(authCfg)
	if err != nil {
		logger.Error("Failed to create SharePoint client", "error", err)
		os.Exit(1)
	}

	checkpoints, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		logger.Error("Failed to initialize checkpoint store", "error", err)
		os.Exit(1)
	}

	guard := throttle.NewGuardWithPolicy(parameters.MaxRetries,
		time.Duration(parameters.InitialBackoffMs)*time.Millisecond)

	store := datastore.New()
	auditStore := database.NewAuditStore(db)
	restorePersistedData(appCtx, store, auditStore, logger)

	source := spclient.NewClient(api.NewSP(authClient), authClient, parameters)
	collector := spcollector.NewDataCollector(source, guard, checkpoints, store, auditStore, parameters)

	state := application.NewOperationState()
	eventBus := events.NewOperationEventBus()
	runner := application.NewOperationRunner(appCtx, state, eventBus)
	auditService := application.NewAuditService(runner, state, collector, checkpoints, guard, store, risk.NewEngine())

	eventBus.OnOperationCompleted(func(e events.OperationCompletedEvent) {
		logger.Operation("Operation finished", string(e.Session.Type), e.Session.Scope,
			"operation_id", e.Session.ID,
			"duration", e.Duration.String())
	})
	eventBus.OnOperationFailed(func(e events.OperationFailedEvent) {
		logger.Error("Operation failed",
			"operation_id", e.Session.ID,
			"operation_type", string(e.Session.Type),
			"error", e.Error)
	})

	return &Dependencies{
		DB:           db,
		Logger:       logger,
		Store:        store,
		AuditService: auditService,
		Handlers:     handlers.NewOperationHandlers(auditService),
		EventBus:     eventBus,
	}
}

// restorePersistedData reloads the audit facts persisted by previous runs
// so risk assessment works before any new collection finishes.
func restorePersistedData(ctx context.Context, store *datastore.Store, auditStore *database.AuditStore, logger *logging.Logger) {
	sites, err := auditStore.LoadSites(ctx)
	if err != nil {
		logger.Warn("Failed to restore sites", "error", err.Error())
	}
	store.AddSites(sites...)

	users, err := auditStore.LoadUsers(ctx)
	if err != nil {
		logger.Warn("Failed to restore users", "error", err.Error())
	}
	store.AddUsers(users...)

	groups, err := auditStore.LoadGroups(ctx)
	if err != nil {
		logger.Warn("Failed to restore groups", "error", err.Error())
	}
	store.AddGroups(groups...)

	assignments, err := auditStore.LoadRoleAssignments(ctx)
	if err != nil {
		logger.Warn("Failed to restore role assignments", "error", err.Error())
	}
	store.AddRoleAssignments(assignments...)

	items, err := auditStore.LoadInheritanceItems(ctx)
	if err != nil {
		logger.Warn("Failed to restore inheritance items", "error", err.Error())
	}
	store.AddInheritanceItems(items...)

	links, err := auditStore.LoadSharingLinks(ctx)
	if err != nil {
		logger.Warn("Failed to restore sharing links", "error", err.Error())
	}
	store.AddSharingLinks(links...)

	logger.Info("Restored persisted audit data",
		"sites", len(sites),
		"users", len(users),
		"groups", len(groups),
		"role_assignments", len(assignments),
		"inheritance_items", len(items),
		"sharing_links", len(links))
}

func setupRoutes(deps *Dependencies, cfg *config.AppConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	setupHTTPLogging(r, deps, cfg)
	r.Use(middleware.Recoverer)

	// System endpoints
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.DB.Health()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		response := map[string]interface{}{
			"status":   "ok",
			"database": stats,
			"data":     deps.AuditService.DataCounts(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	// Operation lifecycle
	r.Post("/operations/enumerate", deps.Handlers.StartEnumeration)
	r.Post("/operations/analyze", deps.Handlers.StartAnalysis)
	r.Post("/operations/enrich", deps.Handlers.StartEnrichment)
	r.Post("/operations/matrix", deps.Handlers.StartMatrix)
	r.Get("/operations/progress", deps.Handlers.GetProgress)

	// Risk report
	r.Get("/risk", deps.Handlers.GetRisk)

	return r
}

func setupHTTPLogging(r *chi.Mux, deps *Dependencies, cfg *config.AppConfig) {
	if cfg.HTTPLogPath == "" {
		// No HTTP logging configured, skip
		return
	}

	logFile, err := os.OpenFile(cfg.HTTPLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		deps.Logger.Error("Failed to open HTTP log file", "error", err, "path", cfg.HTTPLogPath)
		return
	}
	// Note: logFile is not closed here as it needs to stay open for the server lifetime

	httpLogger := httplog.NewLogger("sprisk", httplog.Options{
		Writer: logFile,
		JSON:   true,
	})
	r.Use(httplog.RequestLogger(httpLogger))

	deps.Logger.Info("HTTP request logging enabled", "path", cfg.HTTPLogPath)
}

func startServer(router *chi.Mux, addr string, logger *logging.Logger, appCancel context.CancelFunc) {
	server := &http.Server{Addr: addr, Handler: router}

	serverCtx, serverStopCtx := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sig
		logger.Info("Shutdown signal received")

		// Cancel app-wide context first to stop in-flight collection work
		logger.Info("Cancelling app context...")
		appCancel()

		shutdownCtx, cancel := context.WithTimeout(serverCtx, 30*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				logger.Error("Graceful shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			os.Exit(1)
		}
		serverStopCtx()
	}()

	logger.Info("Server starting", "address", addr)
	err := server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}

	<-serverCtx.Done()
	logger.Info("Server stopped")
}
