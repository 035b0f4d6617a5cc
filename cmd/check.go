package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/civiops/adyen-connect/internal/lifecycle"
	"github.com/civiops/adyen-connect/pkg/logger"
)

var (
	checkFix bool

	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Run webhook and extension diagnostics",
		Long:  `Verify extension prerequisites and each processor's webhook configuration at the gateway. With --fix, missing webhooks are created.`,
		RunE:  runCheck,
	}
)

func init() {
	checkCmd.Flags().BoolVar(&checkFix, "fix", false, "create or update misconfigured webhooks instead of only reporting them")
}

func runCheck(_ *cobra.Command, _ []string) error {
	config, err := loadConfig(".")
	if err != nil {
		return err
	}

	logger.Init(config.Environment)
	lg := logger.LoggerWrapper()

	gateways := buildGatewayClients(config, lg)
	checker := lifecycle.NewChecker(
		config.Adyen.Processors,
		gateways,
		lifecycle.StaticRegistry(config.Extensions),
		config.Server.BaseURL,
		config.IsProduction(),
		lg,
	)

	messages := checker.Run(context.Background(), checkFix)
	if len(messages) == 0 {
		fmt.Println("All checks passed.")
		return nil
	}

	failed := false
	for _, m := range messages {
		fmt.Printf("[%s] %s\n    %s\n", m.Severity, m.Title, m.Message)
		for _, a := range m.Actions {
			if a.URL != "" {
				fmt.Printf("    -> %s: %s\n", a.Title, a.URL)
			} else {
				fmt.Printf("    -> %s\n", a.Title)
			}
		}
		if m.Severity == lifecycle.SeverityError || m.Severity == lifecycle.SeverityCritical {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
	return nil
}
