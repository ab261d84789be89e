// Package checkpoint persists partial progress during long index/reindex
// runs so an interrupted run can resume without reprocessing files it
// already finished.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// MaxAge is how long a checkpoint remains valid. Older checkpoints are
// treated as stale and discarded rather than resumed from.
const MaxAge = 24 * time.Hour

// Phase identifies which half of a reindex a checkpoint was taken during.
type Phase string

const (
	PhaseIndexing Phase = "indexing"
	PhaseDeleting Phase = "deleting"
)

// Checkpoint records the files already processed during an in-progress
// index/reindex run.
type Checkpoint struct {
	ProcessedFiles []string  `json:"processedFiles"`
	TotalFiles     int       `json:"totalFiles"`
	Timestamp      time.Time `json:"timestamp"`
	Phase          Phase     `json:"phase"`
}

// Store reads and writes a single checkpoint file for one collection.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore returns a Store that persists to <baseDir>/<collection>.checkpoint.json.
func NewStore(baseDir, collection string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   filepath.Join(baseDir, collection+".checkpoint.json"),
		logger: logger,
	}
}

// Save writes the checkpoint atomically (write to temp file, then rename).
func (s *Store) Save(processedFiles []string, totalFiles int, phase Phase) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: create dir: %w", err)
	}

	cp := Checkpoint{
		ProcessedFiles: append([]string{}, processedFiles...),
		TotalFiles:     totalFiles,
		Timestamp:      time.Now(),
		Phase:          phase,
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load returns the checkpoint, or (nil, nil) if it is missing, corrupted,
// or stale. A stale checkpoint is also deleted so the next Load doesn't
// have to repeat the staleness check.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("checkpoint corrupted, discarding", slog.String("error", err.Error()))
		return nil, nil
	}

	if time.Since(cp.Timestamp) > MaxAge {
		s.logger.Info("checkpoint stale, discarding", slog.Duration("age", time.Since(cp.Timestamp)))
		_ = s.Delete()
		return nil, nil
	}

	return &cp, nil
}

// Delete removes the checkpoint file. Missing files are not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: delete: %w", err)
	}
	return nil
}

// FilterProcessed returns the subset of currentFiles not yet recorded as
// processed in cp, preserving the order of currentFiles. A nil checkpoint
// means nothing has been processed yet.
func FilterProcessed(currentFiles []string, cp *Checkpoint) []string {
	if cp == nil || len(cp.ProcessedFiles) == 0 {
		return currentFiles
	}

	done := make(map[string]struct{}, len(cp.ProcessedFiles))
	for _, p := range cp.ProcessedFiles {
		done[p] = struct{}{}
	}

	remaining := make([]string, 0, len(currentFiles))
	for _, f := range currentFiles {
		if _, ok := done[f]; !ok {
			remaining = append(remaining, f)
		}
	}
	return remaining
}
