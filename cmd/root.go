package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matheuscscp/link-chat/observability"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "link-chat",
	Short:         "link-chat is a peer-to-peer messenger speaking raw Ethernet frames",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		godotenv.Load()
		if err := observability.SetupLogging(logLevel); err != nil {
			return err
		}
		if metricsAddr != "" {
			observability.StartMetricsServer(cmd.Context(), metricsAddr)
		}
		return nil
	},
}

var (
	logLevel    string
	metricsAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus log level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve prometheus metrics on (empty disables)")
}

// Execute runs the link-chat command tree.
func Execute() error {
	return rootCmd.Execute()
}

func contextWithCancelOnInterrupt(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
