// Package daemon runs bookmark syncs on a schedule.
//
// # Architecture
//
// The daemon consists of three components:
//
//   - Daemon: owns a robfig/cron scheduler with a single sync entry and
//     makes sure runs never overlap
//   - ConfigWatcher: watches config.toml with fsnotify and reports
//     debounced changes so a new schedule applies without a restart
//   - OpenLog: a rotating log file under <dataDir>/logs, backed by
//     lumberjack
//
// # Usage
//
//	logger, closer, err := daemon.OpenLog(paths.LogDir(), verbose)
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
//	d, err := daemon.New(runSync, &daemon.Config{
//	    Schedule:   cfg.Daemon.Schedule,
//	    ConfigPath: paths.ConfigFile(),
//	    Reload:     reloadSchedule,
//	    RunOnStart: true,
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Start(ctx) // blocks until ctx is cancelled
//
// Schedules use the standard five-field cron syntax or descriptors such
// as "@hourly" and "@every 6h".
//
// # Error Handling
//
// A failed run is logged and the daemon keeps its schedule. A run that
// fires while the previous one is still going is skipped with a warning.
// A config change that fails to load or carries an invalid schedule is
// logged and the old schedule stays in effect.
package daemon
