package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrBusy is returned by RunNow while another run is in progress.
var ErrBusy = errors.New("a sync run is already in progress")

// Job performs one sync run.
type Job func(ctx context.Context) error

// Config holds configuration for the daemon.
type Config struct {
	// Schedule is a cron spec or descriptor such as "@every 6h"
	Schedule string

	// ConfigPath is watched for changes; empty disables reloading
	ConfigPath string

	// Reload re-reads the configuration and returns the schedule to use
	Reload func() (string, error)

	// RunOnStart runs the job once before waiting for the schedule
	RunOnStart bool

	// JobTimeout bounds a single run (default: 30m)
	JobTimeout time.Duration

	// DebounceInterval batches rapid config writes (default: 250ms)
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Schedule:         "@every 6h",
		JobTimeout:       30 * time.Minute,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync runs.
type Daemon struct {
	job    Job
	config *Config

	cron     *cron.Cron
	entryMu  sync.Mutex
	entry    cron.EntryID
	schedule string

	running sync.Mutex
	runs    int
	runsMu  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon that runs job on config.Schedule.
func New(job Job, config *Config) (*Daemon, error) {
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaults.JobTimeout
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		job:    job,
		config: config,
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := d.Reschedule(config.Schedule); err != nil {
		cancel()
		return nil, err
	}
	return d, nil
}

// Start runs the scheduler and, when configured, the config watcher.
// It blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (schedule: %s)", d.Schedule())

	if d.config.ConfigPath != "" && d.config.Reload != nil {
		watcher, err := NewConfigWatcher(d.config.ConfigPath, d.config.DebounceInterval)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		d.wg.Add(1)
		go d.watchConfig(watcher)
		d.config.Logger.Printf("Watching: %s", d.config.ConfigPath)
	}

	d.cron.Start()

	if d.config.RunOnStart {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.runScheduled()
		}()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop cancels any run in progress and waits for background work.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	<-d.cron.Stop().Done()
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// RunNow runs the job immediately. It returns ErrBusy when a run is
// already in progress.
func (d *Daemon) RunNow(ctx context.Context) error {
	if !d.running.TryLock() {
		return ErrBusy
	}
	defer d.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.config.JobTimeout)
	defer cancel()

	d.runsMu.Lock()
	d.runs++
	n := d.runs
	d.runsMu.Unlock()

	d.config.Logger.Printf("Starting run #%d", n)
	start := time.Now()
	if err := d.job(ctx); err != nil {
		d.config.Logger.Printf("Run #%d failed after %v: %v", n, time.Since(start).Round(time.Millisecond), err)
		return err
	}
	d.config.Logger.Printf("Run #%d completed in %v", n, time.Since(start).Round(time.Millisecond))
	return nil
}

// runScheduled is the cron callback.
func (d *Daemon) runScheduled() {
	if err := d.RunNow(d.ctx); errors.Is(err, ErrBusy) {
		d.config.Logger.Println("Warning: previous run still in progress, skipping")
	}
}

// Reschedule replaces the sync entry with spec.
func (d *Daemon) Reschedule(spec string) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	d.entryMu.Lock()
	defer d.entryMu.Unlock()

	if d.entry != 0 {
		d.cron.Remove(d.entry)
	}
	d.entry = d.cron.Schedule(sched, cron.FuncJob(d.runScheduled))
	d.schedule = spec
	return nil
}

// Schedule returns the active schedule spec.
func (d *Daemon) Schedule() string {
	d.entryMu.Lock()
	defer d.entryMu.Unlock()
	return d.schedule
}

// NextRun returns when the next scheduled run fires. It is zero before
// Start.
func (d *Daemon) NextRun() time.Time {
	d.entryMu.Lock()
	id := d.entry
	d.entryMu.Unlock()
	return d.cron.Entry(id).Next
}

// Runs returns how many runs have started.
func (d *Daemon) Runs() int {
	d.runsMu.Lock()
	defer d.runsMu.Unlock()
	return d.runs
}

// watchConfig applies config changes until shutdown.
func (d *Daemon) watchConfig(w *ConfigWatcher) {
	defer d.wg.Done()
	defer func() {
		if err := w.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return

		case _, ok := <-w.Changes():
			if !ok {
				return
			}
			d.reload()

		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) reload() {
	spec, err := d.config.Reload()
	if err != nil {
		d.config.Logger.Printf("Warning: config reload failed, keeping schedule %s: %v", d.Schedule(), err)
		return
	}
	if spec == d.Schedule() {
		d.config.Logger.Println("Config reloaded")
		return
	}
	if err := d.Reschedule(spec); err != nil {
		d.config.Logger.Printf("Warning: %v, keeping schedule %s", err, d.Schedule())
		return
	}
	d.config.Logger.Printf("Config reloaded, schedule is now %s", spec)
}
