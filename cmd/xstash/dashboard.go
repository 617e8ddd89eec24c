package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xstash/xstash/internal/daemon"
	"github.com/xstash/xstash/internal/dashboard"
	"github.com/xstash/xstash/internal/store"
	"github.com/xstash/xstash/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve live sync progress over WebSocket",
	Long: `Start a local dashboard that streams sync progress and archive
statistics to WebSocket clients.

WebSocket messages include:
- run_started: A sync run began
- page_stored: A bookmarks page was committed
- run_completed: A sync run finished, with counters and cost
- run_failed: A sync run stopped with an error
- stats: Archive statistics

With --sync the dashboard also runs the scheduled sync daemon and
streams its runs. Without it, statistics refresh every --refresh
interval.

Examples:
  xstash dashboard                # Serve on dashboard.port
  xstash dashboard --port 9000
  xstash dashboard --sync --now   # Sync now and on schedule`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		withSync, _ := cmd.Flags().GetBool("sync")
		now, _ := cmd.Flags().GetBool("now")
		refresh, _ := cmd.Flags().GetDuration("refresh")

		if refresh <= 0 {
			fatal("--refresh must be positive")
		}

		a := mustLoadApp()
		if !cmd.Flags().Changed("port") {
			port = a.cfg.Dashboard.Port
		}
		if err := a.paths.Ensure(); err != nil {
			fatal("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})
		handler := dashboard.NewHandler(server, func(ctx context.Context) (*store.Stats, error) {
			db, err := a.openStore(ctx)
			if err != nil {
				return nil, err
			}
			defer db.Close()
			return db.Stats(ctx)
		}, nil)
		handler.RefreshStats(ctx)

		if err := server.Start(); err != nil {
			fatal("failed to start dashboard: %v", err)
		}

		addr := server.Addr()
		fmt.Printf("%s Dashboard started on http://%s\n", ui.RenderAccent("→"), addr)
		fmt.Printf("   WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Printf("   Health check: http://%s/health\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		g, gctx := errgroup.WithContext(ctx)

		if withSync {
			logger, closer, err := daemon.OpenLog(a.paths.LogDir(), true)
			if err != nil {
				fatal("%v", err)
			}
			defer closer.Close()

			d, err := newDaemon(a, "", now, logger, handler)
			if err != nil {
				fatal("%v", err)
			}
			g.Go(func() error { return d.Start(gctx) })
		} else {
			g.Go(func() error {
				ticker := time.NewTicker(refresh)
				defer ticker.Stop()
				for {
					select {
					case <-gctx.Done():
						return nil
					case <-ticker.C:
						handler.RefreshStats(gctx)
					}
				}
			})
		}

		err := g.Wait()

		fmt.Println("\nShutting down dashboard...")
		if stopErr := server.Stop(); stopErr != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", stopErr)
			os.Exit(1)
		}
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println("Dashboard stopped")
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on (overrides dashboard.port)")
	dashboardCmd.Flags().Bool("sync", false, "Also run scheduled syncs")
	dashboardCmd.Flags().Bool("now", false, "With --sync, run a sync immediately")
	dashboardCmd.Flags().Duration("refresh", 30*time.Second, "Stats refresh interval without --sync")

	rootCmd.AddCommand(dashboardCmd)
}
