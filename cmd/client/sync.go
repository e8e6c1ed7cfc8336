package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"memo-sync/internal/domain"
	"memo-sync/internal/syncengine"
)

var syncOnce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Keep the local cache in sync with the server until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncOnce {
			a, err := openApp(syncengine.WithStatsListener(printStats))
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.engine.SyncOnce(context.Background()); err != nil {
				return err
			}
			fmt.Println("Synced.")
			return nil
		}

		a, err := openApp(
			syncengine.WithStatusListener(func(s syncengine.Status) { fmt.Println("status:", s) }),
			syncengine.WithAuthListener(func(err error) { fmt.Println("session rejected, run `memo login`:", err) }),
		)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := a.engine.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and unsynced changes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		fmt.Printf("server:    %s\n", cfg.ServerURL)
		fmt.Printf("signed in: %t\n", a.creds.IsAuthenticated())
		fmt.Printf("network:   %s\n", a.engine.CheckConnectivity(ctx))

		unsynced, _ := a.store.ListUnsynced(ctx)
		fmt.Printf("unsynced:  %d\n", len(unsynced))

		last, _ := a.store.GetLastSyncTimestamp(ctx)
		if last.IsZero() {
			fmt.Println("last sync: never")
		} else {
			fmt.Printf("last sync: %s\n", last.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func printStats(stats *domain.Stats) {
	fmt.Printf("active days: %d\n", stats.TotalDays)
	for _, d := range stats.ActivityData {
		if d.Count > 0 {
			fmt.Printf("  %s  %d\n", d.Date, d.Count)
		}
	}
}

func init() {
	syncCmd.Flags().BoolVar(&syncOnce, "once", false, "Reconcile and push once, then exit")
	rootCmd.AddCommand(syncCmd, statusCmd)
}
