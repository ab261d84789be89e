package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// MtimeTolerance is the window within which a file's mtime may have
// drifted (editors touching a file without changing its content) while
// still being eligible for the cached-hash fast path.
const MtimeTolerance = 1 * time.Second

// Changes is the result of diffing the current file set against the
// previous snapshot.
type Changes struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether no changes were detected.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// ChangeDetector diffs a current file listing against a persisted
// ShardedSnapshot, using a fast mtime/size check before falling back to
// content hashing.
type ChangeDetector struct {
	snap   *ShardedSnapshot
	logger *slog.Logger
}

// NewChangeDetector returns a detector backed by snap.
func NewChangeDetector(snap *ShardedSnapshot, logger *slog.Logger) *ChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeDetector{snap: snap, logger: logger}
}

// DetectChanges stats every file in currentFiles (absolute paths keyed by
// their path relative to the codebase root) and compares against the
// previous snapshot to produce {added, modified, deleted}. A corrupted or
// unreadable previous snapshot is treated as empty, forcing a full
// (non-incremental) detection where every current file is "added".
func (d *ChangeDetector) DetectChanges(currentFiles map[string]string) (Changes, error) {
	prev, err := d.snap.Load()
	if err != nil {
		d.logger.Warn("snapshot unreadable, treating as absent", slog.String("error", err.Error()))
		prev = FileMap{}
	}

	var changes Changes
	seen := make(map[string]struct{}, len(currentFiles))

	for relPath, absPath := range currentFiles {
		seen[relPath] = struct{}{}

		info, err := os.Stat(absPath)
		if err != nil {
			d.logger.Warn("stat failed, skipping file", slog.String("path", absPath), slog.String("error", err.Error()))
			continue
		}

		prevRec, existed := prev[relPath]

		hash, err := d.resolveHash(absPath, info, prevRec, existed)
		if err != nil {
			d.logger.Warn("hash failed, skipping file", slog.String("path", absPath), slog.String("error", err.Error()))
			continue
		}

		switch {
		case !existed:
			changes.Added = append(changes.Added, relPath)
		case prevRec.Hash != hash:
			changes.Modified = append(changes.Modified, relPath)
		}
	}

	for relPath := range prev {
		if _, ok := seen[relPath]; !ok {
			changes.Deleted = append(changes.Deleted, relPath)
		}
	}

	return changes, nil
}

// resolveHash implements the fast/slow path: same (mtime, size) as the
// snapshot and a cached hash exists ⇒ reuse it; otherwise hash the bytes.
func (d *ChangeDetector) resolveHash(absPath string, info os.FileInfo, prevRec FileRecord, existed bool) (string, error) {
	if existed && prevRec.Hash != "" && prevRec.Size == info.Size() {
		delta := info.ModTime().Sub(prevRec.ModTime)
		if delta < 0 {
			delta = -delta
		}
		if delta < MtimeTolerance {
			return prevRec.Hash, nil
		}
	}
	return HashFile(absPath)
}

// NeedsReindex is a cheap check equivalent to DetectChanges returning a
// non-empty result, suitable for calling frequently (e.g. a file-watcher
// debounce) without materializing the full diff.
func (d *ChangeDetector) NeedsReindex(currentFiles map[string]string) (bool, error) {
	changes, err := d.DetectChanges(currentFiles)
	if err != nil {
		return false, err
	}
	return !changes.Empty(), nil
}

// UpdateSnapshot replaces the persisted snapshot with the given
// relativePath -> absolutePath file set, recomputing every record from
// disk. Call only after a successful index/reindex run.
func (d *ChangeDetector) UpdateSnapshot(currentFiles map[string]string) error {
	fileMap := make(FileMap, len(currentFiles))
	for relPath, absPath := range currentFiles {
		info, err := os.Stat(absPath)
		if err != nil {
			continue
		}
		hash, err := HashFile(absPath)
		if err != nil {
			continue
		}
		fileMap[relPath] = FileRecord{
			ModTime: info.ModTime(),
			Size:    info.Size(),
			Hash:    hash,
		}
	}
	return d.snap.Save(fileMap)
}

// DeleteSnapshot removes the persisted snapshot entirely (used by
// clearIndex).
func (d *ChangeDetector) DeleteSnapshot() error {
	return d.snap.Delete()
}

// HashFile computes the SHA-256 of a file's raw bytes. Byte-identical
// content always yields the same hash regardless of line-ending
// normalization performed elsewhere; CRLF vs LF differences are detected
// as a change because they change the bytes. Empty files hash to the
// well-defined SHA-256 of zero bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
