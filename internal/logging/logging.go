// Package logging configures the process-wide logrus logger for a run.
package logging

import (
	"FlowSpectra/internal/config"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// TimeFormat names per-run directories.
const TimeFormat = "2006-01-02_15-04-05"

// LogFileName is the name of the log file inside a run directory.
const LogFileName = "flowprofile.log"

// RunInfo identifies one invocation of the tool.
type RunInfo struct {
	StartedAt time.Time
}

// NewRunInfo captures the start of a run.
func NewRunInfo() RunInfo {
	return RunInfo{StartedAt: time.Now()}
}

// Dir returns the run directory below base.
func (r RunInfo) Dir(base string) string {
	return filepath.Join(base, r.StartedAt.Format(TimeFormat))
}

// Setup applies the level from cfg to logger and, when cfg.Dir is set, tees
// the output into <dir>/<start time>/flowprofile.log. The returned closer
// closes that file; it is a no-op without a log directory.
func Setup(logger *log.Logger, cfg config.LogConfig, run RunInfo) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.Dir == "" {
		return nopCloser{}, nil
	}
	dir := run.Dir(cfg.Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(logger.Out, file))
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
