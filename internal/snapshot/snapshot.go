package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// FileRecord is the per-file metadata tracked by a Snapshot: modification
// time, size, and content hash, keyed by relative path.
type FileRecord struct {
	ModTime time.Time
	Size    int64
	Hash    string // hex-encoded SHA-256
}

// FileMap is the in-memory form of a (possibly sharded) snapshot.
type FileMap map[string]FileRecord

// shardPath returns the on-disk path for shard index i of collection.
func shardPath(baseDir, collection string, shard int) string {
	return filepath.Join(baseDir, fmt.Sprintf("%s.shard%d.bin", collection, shard))
}

// ShardedSnapshot reads and writes a collection's FileMap across N shard
// files, the shard for a given path chosen by ConsistentHash.
type ShardedSnapshot struct {
	baseDir    string
	collection string
	shardCount int
	ring       *ConsistentHash
}

// NewShardedSnapshot returns a snapshot handle for collection with
// shardCount shards (and DefaultVirtualNodes virtual nodes per shard).
func NewShardedSnapshot(baseDir, collection string, shardCount int) *ShardedSnapshot {
	if shardCount <= 0 {
		shardCount = 4
	}
	return &ShardedSnapshot{
		baseDir:    baseDir,
		collection: collection,
		shardCount: shardCount,
		ring:       NewConsistentHash(shardCount, DefaultVirtualNodes),
	}
}

// Exists reports whether any shard file is present on disk.
func (s *ShardedSnapshot) Exists() bool {
	for i := 0; i < s.shardCount; i++ {
		if _, err := os.Stat(shardPath(s.baseDir, s.collection, i)); err == nil {
			return true
		}
	}
	return false
}

// Save partitions fileMap by consistent hash of the relative path and
// writes every shard in parallel, fsyncing each file before returning.
func (s *ShardedSnapshot) Save(fileMap FileMap) error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir: %w", err)
	}

	shards := make([]FileMap, s.shardCount)
	for i := range shards {
		shards[i] = make(FileMap)
	}
	for path, rec := range fileMap {
		shard := s.ring.GetShard(path)
		shards[shard][path] = rec
	}

	var g errgroup.Group
	for i, shard := range shards {
		i, shard := i, shard
		g.Go(func() error {
			return writeShard(shardPath(s.baseDir, s.collection, i), shard)
		})
	}
	return g.Wait()
}

// Load reads every shard in parallel and merges them into a single
// FileMap. Missing shard files contribute nothing (not an error).
func (s *ShardedSnapshot) Load() (FileMap, error) {
	shards := make([]FileMap, s.shardCount)
	var g errgroup.Group
	for i := range shards {
		i := i
		g.Go(func() error {
			m, err := readShard(shardPath(s.baseDir, s.collection, i))
			if err != nil {
				return err
			}
			shards[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(FileMap)
	for _, m := range shards {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged, nil
}

// Delete removes every shard file for this collection. Missing files are
// not an error.
func (s *ShardedSnapshot) Delete() error {
	for i := 0; i < s.shardCount; i++ {
		if err := os.Remove(shardPath(s.baseDir, s.collection, i)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("snapshot: delete shard %d: %w", i, err)
		}
	}
	return nil
}

// ShardCount returns the number of shards this snapshot is configured with.
func (s *ShardedSnapshot) ShardCount() int {
	return s.shardCount
}

// writeShard serializes m as a sequence of length-prefixed records:
// pathLen(uint32) path modTimeUnixNano(int64) size(int64) hashLen(uint32) hash.
func writeShard(path string, m FileMap) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("snapshot: create shard: %w", err)
	}

	w := bufio.NewWriter(f)
	for p, rec := range m {
		if err := writeRecord(w, p, rec); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("snapshot: flush shard: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("snapshot: fsync shard: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("snapshot: close shard: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeRecord(w *bufio.Writer, path string, rec FileRecord) error {
	if err := writeUint32(w, uint32(len(path))); err != nil {
		return err
	}
	if _, err := w.WriteString(path); err != nil {
		return err
	}
	if err := writeInt64(w, rec.ModTime.UnixNano()); err != nil {
		return err
	}
	if err := writeInt64(w, rec.Size); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(rec.Hash))); err != nil {
		return err
	}
	if _, err := w.WriteString(rec.Hash); err != nil {
		return err
	}
	return nil
}

func readShard(path string) (FileMap, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileMap{}, nil
		}
		return nil, fmt.Errorf("snapshot: open shard: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	m := make(FileMap)
	for {
		pathLen, err := readUint32(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot: corrupt shard %s: %w", path, err)
		}

		pathBuf := make([]byte, pathLen)
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return nil, fmt.Errorf("snapshot: corrupt shard %s: %w", path, err)
		}

		modNano, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: corrupt shard %s: %w", path, err)
		}
		size, err := readInt64(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: corrupt shard %s: %w", path, err)
		}
		hashLen, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("snapshot: corrupt shard %s: %w", path, err)
		}
		hashBuf := make([]byte, hashLen)
		if _, err := io.ReadFull(r, hashBuf); err != nil {
			return nil, fmt.Errorf("snapshot: corrupt shard %s: %w", path, err)
		}

		m[string(pathBuf)] = FileRecord{
			ModTime: time.Unix(0, modNano),
			Size:    size,
			Hash:    string(hashBuf),
		}
	}
	return m, nil
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeInt64(w *bufio.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readInt64(r *bufio.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}
