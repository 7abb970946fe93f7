// Package snapshot persists the summary of a run next to its log.
package snapshot

import (
	"FlowSpectra/internal/engine/manager"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SummaryFileName is the name of the summary file inside a run directory.
const SummaryFileName = "summary.json"

// Writer writes run summaries into run directories.
type Writer struct{}

// NewWriter creates a new snapshot writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Write stores summary as indented JSON in dir, creating dir when needed, and
// returns the path of the written file. The file is replaced atomically.
func (w *Writer) Write(dir string, summary manager.Summary) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}

	path := filepath.Join(dir, SummaryFileName)
	tmp, err := os.CreateTemp(dir, SummaryFileName+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close summary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move summary file into place: %w", err)
	}
	return path, nil
}
