package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func quietConfig() *Config {
	return &Config{
		Schedule:         "@every 1h",
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	noop := func(context.Context) error { return nil }

	if _, err := New(nil, quietConfig()); err == nil {
		t.Error("New(nil job) should fail")
	}

	cfg := quietConfig()
	cfg.Schedule = "every now and then"
	if _, err := New(noop, cfg); err == nil {
		t.Error("New() with invalid schedule should fail")
	}

	d, err := New(noop, nil)
	if err != nil {
		t.Fatalf("New(nil config) failed: %v", err)
	}
	if d.Schedule() != "@every 6h" {
		t.Errorf("Schedule() = %q, want @every 6h", d.Schedule())
	}
}

// TestRunNow_NoOverlap tests that a second run is refused while one is
// in progress.
func TestRunNow_NoOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	job := func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}

	d, err := New(job, quietConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- d.RunNow(context.Background()) }()
	<-started

	if err := d.RunNow(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("RunNow() during a run = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-errc; err != nil {
		t.Errorf("first RunNow() failed: %v", err)
	}
	if d.Runs() != 1 {
		t.Errorf("Runs() = %d, want 1", d.Runs())
	}
}

func TestRunNow_ReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	d, err := New(func(context.Context) error { return boom }, quietConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RunNow(context.Background()); !errors.Is(err, boom) {
		t.Errorf("RunNow() = %v, want boom", err)
	}
	// A failed run does not block the next one.
	if err := d.RunNow(context.Background()); !errors.Is(err, boom) {
		t.Errorf("second RunNow() = %v, want boom", err)
	}
}

func TestRunNow_Timeout(t *testing.T) {
	cfg := quietConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	d, err := New(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.RunNow(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunNow() = %v, want deadline exceeded", err)
	}
}

func TestStart_RunOnStartAndStop(t *testing.T) {
	var runs atomic.Int32
	cfg := quietConfig()
	cfg.RunOnStart = true

	d, err := New(func(context.Context) error {
		runs.Add(1)
		return nil
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, "initial run", func() bool { return runs.Load() == 1 })
	waitFor(t, "next run scheduled", func() bool { return !d.NextRun().IsZero() })
	if until := time.Until(d.NextRun()); until < 59*time.Minute || until > time.Hour {
		t.Errorf("NextRun() in %v, want about 1h", until)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestReschedule(t *testing.T) {
	d, err := New(func(context.Context) error { return nil }, quietConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Reschedule("*/5 * * * *"); err != nil {
		t.Fatalf("Reschedule() failed: %v", err)
	}
	if d.Schedule() != "*/5 * * * *" {
		t.Errorf("Schedule() = %q", d.Schedule())
	}
	if err := d.Reschedule("nonsense"); err == nil {
		t.Error("Reschedule(nonsense) should fail")
	}
	if d.Schedule() != "*/5 * * * *" {
		t.Errorf("failed Reschedule changed the schedule to %q", d.Schedule())
	}
	if n := len(d.cron.Entries()); n != 1 {
		t.Errorf("cron entries = %d, want 1", n)
	}
}

// TestStart_ReloadsSchedule tests that editing the config file applies
// the new schedule.
func TestStart_ReloadsSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("@every 1h"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := quietConfig()
	cfg.ConfigPath = path
	cfg.Reload = func() (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	d, err := New(func(context.Context) error { return nil }, cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("@every 2h"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "schedule reload", func() bool { return d.Schedule() == "@every 2h" })

	// An invalid schedule keeps the old one.
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if d.Schedule() != "@every 2h" {
		t.Errorf("Schedule() = %q after invalid reload, want @every 2h", d.Schedule())
	}
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := NewConfigWatcher(filepath.Join(dir, "config.toml"), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewConfigWatcher() failed: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	if err := os.WriteFile(filepath.Join(dir, "tokens.json"), []byte("{}"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-w.Changes():
		t.Fatal("change reported for an unrelated file")
	case <-time.After(150 * time.Millisecond):
	}

	// Several quick writes collapse into one change.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	select {
	case <-w.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported for config.toml")
	}
	select {
	case <-w.Changes():
		t.Error("burst produced more than one change")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestOpenLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, closer, err := OpenLog(dir, false)
	if err != nil {
		t.Fatalf("OpenLog() failed: %v", err)
	}
	logger.Println("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), "[daemon] ") || !strings.Contains(string(data), "hello") {
		t.Errorf("log content = %q", data)
	}
}
