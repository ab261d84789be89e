package snapshot

import (
	"hash/fnv"
	"sort"
	"strconv"
)

// DefaultVirtualNodes is the number of virtual nodes placed on the ring
// per shard. Higher values improve distribution at the cost of ring size.
const DefaultVirtualNodes = 150

// ConsistentHash maps keys to shard indices using a hash ring with
// virtual nodes, so that changing the shard count relocates only the
// keys that must move rather than the whole key space.
type ConsistentHash struct {
	shardCount   int
	virtualNodes int
	ring         []ringEntry
}

type ringEntry struct {
	token uint32
	shard int
}

// NewConsistentHash builds a ring of shardCount*virtualNodesPerShard
// tokens. virtualNodesPerShard of 0 uses DefaultVirtualNodes.
func NewConsistentHash(shardCount, virtualNodesPerShard int) *ConsistentHash {
	if virtualNodesPerShard <= 0 {
		virtualNodesPerShard = DefaultVirtualNodes
	}
	if shardCount <= 0 {
		shardCount = 1
	}

	ring := make([]ringEntry, 0, shardCount*virtualNodesPerShard)
	for shard := 0; shard < shardCount; shard++ {
		for v := 0; v < virtualNodesPerShard; v++ {
			token := hashToken(shard, v)
			ring = append(ring, ringEntry{token: token, shard: shard})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].token < ring[j].token })

	return &ConsistentHash{
		shardCount:   shardCount,
		virtualNodes: virtualNodesPerShard,
		ring:         ring,
	}
}

// GetShard returns the shard index for key: hash the key, then walk the
// ring to the next token at or after that hash, wrapping around to the
// first token if necessary.
func (c *ConsistentHash) GetShard(key string) int {
	if len(c.ring) == 0 {
		return 0
	}

	h := hashString(key)
	idx := sort.Search(len(c.ring), func(i int) bool { return c.ring[i].token >= h })
	if idx == len(c.ring) {
		idx = 0
	}
	return c.ring[idx].shard
}

// ShardCount returns the number of shards this ring was built with.
func (c *ConsistentHash) ShardCount() int {
	return c.shardCount
}

func hashToken(shard, vnode int) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte("shard:" + strconv.Itoa(shard) + ":vnode:" + strconv.Itoa(vnode)))
	return h.Sum32()
}

func hashString(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}
