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

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/civiops/adyen-connect/internal"
	"github.com/civiops/adyen-connect/internal/checkout"
	"github.com/civiops/adyen-connect/internal/gateway"
	"github.com/civiops/adyen-connect/internal/lifecycle"
	"github.com/civiops/adyen-connect/internal/transport"
	"github.com/civiops/adyen-connect/internal/transport/rest"
	"github.com/civiops/adyen-connect/internal/webhook"
	webhookpostgres "github.com/civiops/adyen-connect/internal/webhook/postgres"
	"github.com/civiops/adyen-connect/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server that receives gateway webhooks and serves the checkout API`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	GormDB *gorm.DB
	Router *chi.Mux
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      deps.Router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("received signal, shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("server shutdown error", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("server stopped")
}

func setupRoutes(deps *Dependencies) error {
	cfg := deps.Config
	lg := deps.Logger
	baseHandler := transport.NewBaseHandler(lg)

	eventStore := webhookpostgres.NewEventStore(deps.GormDB)
	webhookHandler := webhook.NewHandler(baseHandler, eventStore, lg)

	gateways := buildGatewayClients(cfg, lg)
	for i := range cfg.Adyen.Processors {
		p := &cfg.Adyen.Processors[i]
		verifier := webhook.NewSignatureVerifier(p.HMACKeys)
		parser := webhook.NewParser(verifier, p.MerchantAccount, lg)
		webhookHandler.RegisterProcessor(p.ID, parser)
	}

	checkoutHandler := checkout.NewHandler(baseHandler, gateways, lg)

	checker := lifecycle.NewChecker(
		cfg.Adyen.Processors,
		gateways,
		lifecycle.StaticRegistry(cfg.Extensions),
		cfg.Server.BaseURL,
		cfg.IsProduction(),
		lg,
	)
	diagnosticsHandler := rest.NewDiagnosticsHandler(checker, lg)

	rest.RegisterAllRoutes(deps.Router, deps.DB.DB, webhookHandler, checkoutHandler, diagnosticsHandler, lg)
	return nil
}

func buildGatewayClients(cfg *internal.Config, lg *slog.Logger) map[int64]gateway.API {
	gateways := make(map[int64]gateway.API, len(cfg.Adyen.Processors))
	for i := range cfg.Adyen.Processors {
		p := &cfg.Adyen.Processors[i]
		gateways[p.ID] = gateway.NewClient(gateway.Config{
			APIKey:          p.APIKey,
			MerchantAccount: p.MerchantAccount,
			URLPrefix:       p.URLPrefix,
			IsTest:          p.IsTest,
			BaseURL:         p.BaseURL,
			Timeout:         cfg.Adyen.APITimeout,
		}, lg)
	}
	return gateways
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Environment)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orm: %w", err)
	}

	return &Dependencies{
		Config: config,
		Logger: lg,
		DB:     db,
		GormDB: gormDB,
		Router: chi.NewRouter(),
	}, nil
}

// initDB opens the shared database pool over the pgx stdlib driver.
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

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
