package daemon

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the daemon log inside the log directory.
const LogFileName = "daemon.log"

// OpenLog returns a "[daemon] " logger writing to a rotating
// <logDir>/daemon.log, and to stderr as well when echo is set. Close the
// returned closer on shutdown.
func OpenLog(logDir string, echo bool) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFileName),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}

	var w io.Writer = file
	if echo {
		w = io.MultiWriter(os.Stderr, file)
	}
	return log.New(w, "[daemon] ", log.LstdFlags), file, nil
}
