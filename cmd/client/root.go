package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"memo-sync/internal/config"
	"memo-sync/pkg/logger"
)

var (
	verbose   bool
	serverURL string
	noSync    bool

	cfg *config.ClientConfig
	lg  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "memo",
	Short:         "Offline-first notes that sync with a memo-sync server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadClient()
		if err != nil {
			return err
		}
		if serverURL != "" {
			c.ServerURL = serverURL
		}
		if verbose {
			c.Logging.Level = "debug"
		}

		l, err := logger.NewLogger(c.Logging)
		if err != nil {
			return err
		}
		cfg, lg = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if lg != nil {
			lg.Sync()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Server API base URL (overrides SYNC_SERVER_URL)")
	rootCmd.PersistentFlags().BoolVar(&noSync, "no-sync", false, "Only touch the local cache")
}
