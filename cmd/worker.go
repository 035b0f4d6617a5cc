package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	contactpostgres "github.com/civiops/adyen-connect/internal/contact/postgres"
	contributionpostgres "github.com/civiops/adyen-connect/internal/contribution/postgres"
	"github.com/civiops/adyen-connect/internal/core/events"
	"github.com/civiops/adyen-connect/internal/dispatcher"
	"github.com/civiops/adyen-connect/internal/gateway"
	"github.com/civiops/adyen-connect/internal/reconciliation"
	webhookpostgres "github.com/civiops/adyen-connect/internal/webhook/postgres"
	"github.com/civiops/adyen-connect/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the webhook queue worker",
	Long:  `Poll the webhook event queue and run reconciliation handlers against queued notifications`,
	Run: func(cmd *cobra.Command, args []string) {
		startQueueWorker()
	},
}

func startQueueWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Environment)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm: %v\n", err)
		os.Exit(1)
	}

	eventBus := events.NewEventBus(lg)
	eventBus.Subscribe(events.EventTypeSubscriptionNotMatched, func(ctx context.Context, event events.Event) error {
		lg.Warn("subscription deletion did not match a local schedule",
			"event_id", event.EventID(),
			"payload", event.Payload())
		return nil
	})

	gateways := buildGatewayClients(config, lg)
	// Handlers resolve their gateway by the processor id the dispatcher
	// stamps into the context from the queued row.
	gw := gateway.NewRouter(gateways, config.Adyen.Processors[0].ID)

	engine := reconciliation.NewEngine(
		contributionpostgres.NewContributionRepository(gormDB),
		contributionpostgres.NewPaymentRepository(gormDB),
		contributionpostgres.NewRecurringRepository(gormDB),
		contactpostgres.NewContactRepository(gormDB),
		gw,
		eventBus,
		lg,
	)

	eventStore := webhookpostgres.NewEventStore(gormDB)
	disp, err := dispatcher.New(engine.Handlers(), eventStore, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dispatcher: %v\n", err)
		os.Exit(1)
	}

	worker := dispatcher.NewWorker(disp, eventStore, config.Worker.PollInterval, config.Worker.BatchSize, lg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	lg.Info("webhook queue worker running",
		"poll_interval", config.Worker.PollInterval,
		"batch_size", config.Worker.BatchSize)

	sig := <-sigChan
	lg.Info("received signal, shutting down worker", "signal", sig)
	cancel()
	<-done
	lg.Info("worker shutdown complete")
}
