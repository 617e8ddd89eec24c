package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xstash/xstash/internal/config"
	"github.com/xstash/xstash/internal/daemon"
	"github.com/xstash/xstash/internal/lock"
	xsync "github.com/xstash/xstash/internal/sync"
	"github.com/xstash/xstash/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run syncs on a schedule",
	Long: `Run incremental syncs on daemon.schedule until interrupted.

The schedule is a cron expression or a descriptor such as "@every 6h" or
"@daily". Edits to config.toml are picked up without a restart. Runs
never overlap, and a run is skipped while another xstash sync holds the
data directory lock.

Activity is logged to <data dir>/logs/daemon.log.

Examples:
  xstash daemon                  # Use daemon.schedule
  xstash daemon --now            # Also sync once at startup
  xstash daemon --schedule "0 */4 * * *"`,
	Run: func(cmd *cobra.Command, args []string) {
		now, _ := cmd.Flags().GetBool("now")
		schedule, _ := cmd.Flags().GetString("schedule")

		a := mustLoadApp()
		if err := a.paths.Ensure(); err != nil {
			fatal("%v", err)
		}

		logger, closer, err := daemon.OpenLog(a.paths.LogDir(), true)
		if err != nil {
			fatal("%v", err)
		}
		defer closer.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		d, err := newDaemon(a, schedule, now, logger, nil)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("%s Daemon started (schedule: %s)\n", ui.RenderAccent("→"), d.Schedule())
		fmt.Printf("   Log: %s\n", a.paths.LogDir())
		fmt.Println("\nPress Ctrl+C to stop...")

		if err := d.Start(ctx); err != nil {
			fatal("%v", err)
		}
	},
}

func init() {
	daemonCmd.Flags().Bool("now", false, "Run a sync immediately at startup")
	daemonCmd.Flags().String("schedule", "", "Override daemon.schedule (disables schedule reload)")

	rootCmd.AddCommand(daemonCmd)
}

// newDaemon builds a scheduler whose job performs one sync under the data
// directory lock. A non-empty schedule pins the schedule; otherwise it
// follows daemon.schedule and reloads with the config file.
func newDaemon(a *app, schedule string, runOnStart bool, logger *log.Logger, observer xsync.Observer) (*daemon.Daemon, error) {
	var current atomic.Pointer[config.Config]
	current.Store(a.cfg)

	job := func(ctx context.Context) error {
		run := &app{paths: a.paths, cfg: current.Load()}
		return syncOnce(ctx, run, logger, observer)
	}

	dcfg := daemon.DefaultConfig()
	dcfg.Schedule = a.cfg.Daemon.Schedule
	dcfg.RunOnStart = runOnStart
	dcfg.Logger = logger
	if schedule != "" {
		dcfg.Schedule = schedule
	} else {
		dcfg.ConfigPath = a.paths.ConfigFile()
		dcfg.Reload = func() (string, error) {
			cfg, err := config.Load(a.paths.ConfigFile())
			if err != nil {
				return "", err
			}
			current.Store(cfg)
			return cfg.Daemon.Schedule, nil
		}
	}

	return daemon.New(job, dcfg)
}

// syncOnce performs one locked sync run. A held lock skips the run.
func syncOnce(ctx context.Context, a *app, logger *log.Logger, observer xsync.Observer) error {
	l, err := lock.TryAcquire(a.paths.LockFile())
	if errors.Is(err, lock.ErrLocked) {
		logger.Printf("Warning: %v, skipping run", err)
		return nil
	}
	if err != nil {
		return err
	}
	defer l.Release()

	db, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	syncLog := log.New(logger.Writer(), "[sync] ", logger.Flags())
	syncer, err := a.newSyncer(db, syncFlags{}, syncLog)
	if err != nil {
		return err
	}
	if observer != nil {
		syncer.SetObserver(observer)
	}

	res, err := syncer.Run(ctx)
	if err != nil {
		return err
	}
	logger.Printf("Sync %s: %d new bookmarks, %d new referenced posts, cost %s (total %s)",
		res.Mode, res.Counters.NewBookmarks, res.Counters.NewReferencedPosts,
		ui.USD(res.RunCostUSD), ui.USD(res.TotalCostUSD))
	return nil
}
