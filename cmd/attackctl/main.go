package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shiran1989/magshimim-cyber-homework/internal/migrations"
	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/client"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger/console"
)

var (
	apiURL string
	debug  bool
)

var rootCmd = &cobra.Command{
	Use:           "attackctl",
	Short:         "Manage and query the ATT&CK pattern catalog",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
			Debug:  debug || util.GetEnvBool("DEBUG", false),
			JSON:   util.GetEnvString("LOG_FORMAT", "text") == "json",
			Output: cmd.ErrOrStderr(),
		}))
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := migrations.Up(util.GetEnv("DATABASE_URL")); err != nil {
			return err
		}
		logger.Info("Migrations applied")
		return nil
	},
}

func apiClient() *client.Client {
	return client.New(apiURL, client.WithCache(nil))
}

func init() {
	util.LoadEnv()

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", util.GetEnvString("API_BASE_URL", client.DefaultBaseURL), "catalog API base URL")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(migrateCmd, newIngestCmd(), newSearchCmd(), newStatsCmd(), newGraphCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
