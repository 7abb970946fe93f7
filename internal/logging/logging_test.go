package logging

import (
	"FlowSpectra/internal/config"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestSetup_LogDirectory(t *testing.T) {
	base := t.TempDir()
	run := RunInfo{StartedAt: time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)}

	var console bytes.Buffer
	logger := log.New()
	logger.SetOutput(&console)

	closer, err := Setup(logger, config.LogConfig{Level: "debug", Dir: base}, run)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	logger.Debug("cache sweep finished")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	path := filepath.Join(base, "2024-05-06_07-08-09", LogFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "cache sweep finished") {
		t.Errorf("log file is missing the message:\n%s", data)
	}
	if !strings.Contains(console.String(), "cache sweep finished") {
		t.Errorf("console output is missing the message")
	}
}

func TestSetup_Level(t *testing.T) {
	logger := log.New()
	var out bytes.Buffer
	logger.SetOutput(&out)

	closer, err := Setup(logger, config.LogConfig{Level: "warn"}, NewRunInfo())
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(out.String(), "hidden") || !strings.Contains(out.String(), "shown") {
		t.Errorf("unexpected output %q", out.String())
	}

	if _, err := Setup(logger, config.LogConfig{Level: "loud"}, NewRunInfo()); err == nil {
		t.Errorf("expected error for unknown level")
	}
}
