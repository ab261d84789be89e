package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// legacyRecord mirrors the pre-sharded, single-file snapshot format:
// one JSON file per collection holding the entire relativePath -> record
// map.
type legacyRecord struct {
	ModTime time.Time `json:"mtime"`
	Size    int64     `json:"size"`
	Hash    string    `json:"hash"`
}

// legacyPath returns the path of the old single-file snapshot for
// collection.
func legacyPath(baseDir, collection string) string {
	return filepath.Join(baseDir, collection+".snapshot.json")
}

// MigrationResult reports what SnapshotMigrator.Migrate did.
type MigrationResult struct {
	Migrated   bool
	Reason     string
	FileCount  int
	BackupPath string
}

// Migrator detects an old single-file snapshot and rewrites it into the
// sharded layout, preserving every file's metadata.
type Migrator struct {
	baseDir    string
	collection string
	shardCount int
	logger     *slog.Logger
}

// NewMigrator returns a Migrator for collection.
func NewMigrator(baseDir, collection string, shardCount int, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{baseDir: baseDir, collection: collection, shardCount: shardCount, logger: logger}
}

// Migrate is a no-op (returning Migrated=false) if the collection is
// already sharded or has no snapshot at all. Otherwise it parses the
// legacy file, backs it up, and writes the sharded equivalent.
func (m *Migrator) Migrate() (MigrationResult, error) {
	sharded := NewShardedSnapshot(m.baseDir, m.collection, m.shardCount)
	if sharded.Exists() {
		return MigrationResult{Migrated: false, Reason: "already sharded"}, nil
	}

	oldPath := legacyPath(m.baseDir, m.collection)
	data, err := os.ReadFile(oldPath)
	if err != nil {
		if os.IsNotExist(err) {
			return MigrationResult{Migrated: false, Reason: "no snapshot present"}, nil
		}
		return MigrationResult{}, fmt.Errorf("migrator: read legacy snapshot: %w", err)
	}

	var legacy map[string]legacyRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		m.logger.Warn("legacy snapshot corrupted, treating as absent", slog.String("error", err.Error()))
		return MigrationResult{Migrated: false, Reason: "legacy snapshot corrupted"}, nil
	}

	backupPath := oldPath + ".bak"
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return MigrationResult{}, fmt.Errorf("migrator: backup legacy snapshot: %w", err)
	}

	fileMap := make(FileMap, len(legacy))
	for path, rec := range legacy {
		fileMap[path] = FileRecord{ModTime: rec.ModTime, Size: rec.Size, Hash: rec.Hash}
	}

	if err := sharded.Save(fileMap); err != nil {
		return MigrationResult{}, fmt.Errorf("migrator: write sharded snapshot: %w", err)
	}

	if err := os.Remove(oldPath); err != nil {
		m.logger.Warn("failed to remove legacy snapshot after migration", slog.String("error", err.Error()))
	}

	m.logger.Info("migrated snapshot to sharded layout",
		slog.String("collection", m.collection), slog.Int("files", len(fileMap)))

	return MigrationResult{Migrated: true, FileCount: len(fileMap), BackupPath: backupPath}, nil
}
