package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// ChunkID derives a deterministic point id from a chunk's position and
// content, per spec.md §6: sha256(relativePath || chunkIndex ||
// contentHash), truncated to a UUID-compatible representation so it can
// be used as a Qdrant point id directly.
func ChunkID(relativePath string, chunkIndex int, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	h := sha256.New()
	h.Write([]byte(relativePath))
	h.Write([]byte(strconv.Itoa(chunkIndex)))
	h.Write(contentHash[:])
	sum := h.Sum(nil)

	hexStr := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s",
		hexStr[0:8], hexStr[8:12], hexStr[12:16], hexStr[16:20], hexStr[20:32])
}
