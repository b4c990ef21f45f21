// Package hash provides a consistent hash ring with virtual nodes, used by
// the placement package to choose a destination subtask for a key group
// during scale-out/repartition planning.
package hash

import (
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"
)

// Ring implements a consistent hash ring with virtual nodes.
//
// The ring maps string keys (key-group IDs, formatted as decimal strings) to
// node IDs (subtask indices, formatted as decimal strings) using consistent
// hashing, which provides stable assignments with minimal churn across scale
// events.
type Ring struct {
	// nodes contains all virtual nodes on the ring, sorted by hash
	nodes []virtualNode

	// ids holds the unique list of node IDs present on the ring
	ids []string

	// seed for hash function (0 means no seed)
	seed uint64
}

// virtualNode represents a virtual node on the hash ring.
type virtualNode struct {
	hash    uint64 // Position on the ring
	nodeID  string // Node owning this virtual node
	nodeIdx int    // Index of the node in ids slice
}

// NewRing creates a new consistent hash ring.
//
// Parameters:
//   - ids: List of node IDs to place on the ring
//   - virtualNodesPerID: Number of virtual nodes per node (higher = better distribution)
//   - seed: Seed for hash function (0 means unseeded xxh3; zero and non-zero seeds are both deterministic)
func NewRing(ids []string, virtualNodesPerID int, seed uint64) *Ring {
	ring := &Ring{
		nodes: make([]virtualNode, 0, len(ids)*virtualNodesPerID),
		seed:  seed,
	}

	if len(ids) > 0 {
		seen := make(map[string]struct{}, len(ids))
		uniq := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			uniq = append(uniq, id)
		}
		ring.ids = uniq
	} else {
		ring.ids = []string{}
	}

	for i, id := range ring.ids {
		ring.addNode(id, i, virtualNodesPerID)
	}

	slices.SortFunc(ring.nodes, func(a, b virtualNode) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		default:
			return 0
		}
	})

	return ring
}

// GetNode finds the node responsible for key.
//
// Uses binary search to find the first virtual node whose hash is >= the
// key's hash. If no such node exists, wraps around to the first node.
func (r *Ring) GetNode(key string) string {
	if len(r.nodes) == 0 {
		return ""
	}

	return r.getNodeByHash(r.hash(key))
}

// GetNodeIndex returns the node index responsible for key, or -1 if the
// ring has no nodes. Avoids a map lookup in hot assignment paths.
func (r *Ring) GetNodeIndex(key string) int {
	if len(r.nodes) == 0 {
		return -1
	}

	h := r.hash(key)
	idx, found := slices.BinarySearchFunc(r.nodes, h, func(node virtualNode, t uint64) int {
		switch {
		case node.hash < t:
			return -1
		case node.hash > t:
			return 1
		default:
			return 0
		}
	})

	if !found && idx >= len(r.nodes) {
		idx = 0
	}

	return r.nodes[idx].nodeIdx
}

// Nodes returns the list of unique node IDs on the ring.
func (r *Ring) Nodes() []string {
	return append([]string(nil), r.ids...)
}

// Size returns the total number of virtual nodes on the ring.
func (r *Ring) Size() int {
	return len(r.nodes)
}

// addNode adds virtual nodes for a node to the ring.
func (r *Ring) addNode(nodeID string, nodeIdx int, virtualNodes int) {
	for i := range virtualNodes {
		var h uint64
		if r.seed != 0 {
			h = xxh3.HashStringSeed(nodeID, r.seed)
		} else {
			h = xxh3.HashString(nodeID)
		}

		var ib [8]byte
		binary.LittleEndian.PutUint64(ib[:], uint64(i)) //nolint:gosec
		h = xxh3.HashSeed(ib[:], h)

		r.nodes = append(r.nodes, virtualNode{hash: h, nodeID: nodeID, nodeIdx: nodeIdx})
	}
}

// hash computes a 64-bit hash of key using XXH3.
func (r *Ring) hash(key string) uint64 {
	if r.seed != 0 {
		return xxh3.HashStringSeed(key, r.seed)
	}

	return xxh3.HashString(key)
}

// getNodeByHash returns the node for a given hash value using binary search.
func (r *Ring) getNodeByHash(target uint64) string {
	idx, found := slices.BinarySearchFunc(r.nodes, target, func(node virtualNode, t uint64) int {
		switch {
		case node.hash < t:
			return -1
		case node.hash > t:
			return 1
		default:
			return 0
		}
	})

	if !found && idx >= len(r.nodes) {
		idx = 0
	}

	return r.nodes[idx].nodeID
}

// WeightedKey is a hash ring input that carries a relative cost, used by
// WeightedRing to avoid overloading a single node with expensive key groups.
type WeightedKey struct {
	Key    string
	Weight int64
}

// WeightedRing extends Ring with weight awareness.
//
// Assigns keys considering both consistent hashing and per-key weight to
// achieve better load balancing when key-group state sizes vary
// significantly (e.g. hot key groups after a skewed repartition).
type WeightedRing struct {
	*Ring

	nodeWeights map[string]int64
}

// NewWeighted creates a weighted consistent hash ring.
func NewWeighted(ids []string, virtualNodesPerID int, seed uint64) *WeightedRing {
	return &WeightedRing{
		Ring:        NewRing(ids, virtualNodesPerID, seed),
		nodeWeights: make(map[string]int64),
	}
}

// AssignKeys assigns weighted keys to nodes using weighted consistent hashing.
//
// Algorithm:
//  1. Use the consistent hash ring to get an initial candidate node for each key.
//  2. Track cumulative weight assigned to each node.
//  3. If a node becomes overloaded (weight > avgWeight * 1.15), assign to the
//     currently lightest node instead.
//
// This balances load while preserving high cache/state affinity for the
// common case.
func (wr *WeightedRing) AssignKeys(keys []WeightedKey) map[string][]string {
	assignments := make(map[string][]string)
	wr.nodeWeights = make(map[string]int64)

	if len(keys) == 0 {
		return assignments
	}

	var totalWeight int64
	for _, k := range keys {
		w := k.Weight
		if w == 0 {
			w = 100
		}
		totalWeight += w
	}

	nodes := wr.Nodes()
	if len(nodes) == 0 {
		return assignments
	}

	avgWeight := totalWeight / int64(len(nodes))
	maxWeight := avgWeight * 115 / 100

	for _, k := range keys {
		w := k.Weight
		if w == 0 {
			w = 100
		}

		nodeID := wr.GetNode(k.Key)
		if wr.nodeWeights[nodeID]+w > maxWeight {
			nodeID = wr.findLightestNode()
		}

		assignments[nodeID] = append(assignments[nodeID], k.Key)
		wr.nodeWeights[nodeID] += w
	}

	return assignments
}

// GetNodeWeight returns the total weight assigned to a node.
func (wr *WeightedRing) GetNodeWeight(nodeID string) int64 {
	return wr.nodeWeights[nodeID]
}

func (wr *WeightedRing) findLightestNode() string {
	nodes := wr.Nodes()
	if len(nodes) == 0 {
		return ""
	}

	minNode := nodes[0]
	minWeight := wr.nodeWeights[minNode]

	for _, n := range nodes[1:] {
		if wr.nodeWeights[n] < minWeight {
			minNode = n
			minWeight = wr.nodeWeights[n]
		}
	}

	return minNode
}
