// Package placement chooses which subtask should receive each key-group
// being moved during a reconfiguration. JobExecutionPlan construction (§4.4)
// uses a Placer to decide destinations for scale-out/repartition scenarios
// selected by the reconfig.scenario configuration option (§6).
package placement

import (
	"errors"

	"github.com/arloliu/spacker/internal/hash"
	"github.com/arloliu/spacker/keygroup"
)

// ErrNoSubtasks is returned when Place is called with an empty subtask list.
var ErrNoSubtasks = errors.New("placement: no subtasks available")

// Placer assigns a set of key-groups to a set of candidate subtasks.
//
// Implementations need not be aware of the previous assignment; callers that
// want cache affinity should restrict kgs to only the key-groups that are
// actually moving and pass the already-stable subtasks separately.
type Placer interface {
	Place(subtasks []string, kgs []keygroup.ID) (map[string][]keygroup.ID, error)
}

// RoundRobin distributes key-groups evenly across subtasks in index order,
// used for the "shuffle" reconfig.scenario.
type RoundRobin struct{}

var _ Placer = RoundRobin{}

// NewRoundRobin creates a round-robin placer.
func NewRoundRobin() RoundRobin { return RoundRobin{} }

// Place distributes kgs round-robin across subtasks.
func (RoundRobin) Place(subtasks []string, kgs []keygroup.ID) (map[string][]keygroup.ID, error) {
	if len(subtasks) == 0 {
		return nil, ErrNoSubtasks
	}

	assignments := make(map[string][]keygroup.ID, len(subtasks))
	for _, s := range subtasks {
		assignments[s] = nil
	}

	for i, kg := range kgs {
		s := subtasks[i%len(subtasks)]
		assignments[s] = append(assignments[s], kg)
	}

	return assignments, nil
}

// ConsistentHashOption configures a ConsistentHash placer.
type ConsistentHashOption func(*ConsistentHash)

// ConsistentHash places key-groups on a hash ring with virtual nodes,
// minimizing churn across successive reconfigurations, used for the
// "load_balance" reconfig.scenario.
type ConsistentHash struct {
	virtualNodes int
	hashSeed     uint64
}

var _ Placer = (*ConsistentHash)(nil)

// NewConsistentHash creates a ConsistentHash placer with 150 virtual nodes
// per subtask by default.
func NewConsistentHash(opts ...ConsistentHashOption) *ConsistentHash {
	ch := &ConsistentHash{virtualNodes: 150}
	for _, opt := range opts {
		opt(ch)
	}

	return ch
}

// WithVirtualNodes sets the number of virtual nodes per subtask.
func WithVirtualNodes(n int) ConsistentHashOption {
	return func(ch *ConsistentHash) { ch.virtualNodes = n }
}

// WithHashSeed sets a deterministic hash seed.
func WithHashSeed(seed uint64) ConsistentHashOption {
	return func(ch *ConsistentHash) { ch.hashSeed = seed }
}

// Place assigns each kg to a subtask using consistent hashing over its
// decimal string representation.
func (ch *ConsistentHash) Place(subtasks []string, kgs []keygroup.ID) (map[string][]keygroup.ID, error) {
	if len(subtasks) == 0 {
		return nil, ErrNoSubtasks
	}

	ring := hash.NewRing(subtasks, ch.virtualNodes, ch.hashSeed)

	assignments := make(map[string][]keygroup.ID, len(subtasks))
	for _, s := range subtasks {
		assignments[s] = nil
	}

	for _, kg := range kgs {
		s := ring.GetNode(kgKey(kg))
		assignments[s] = append(assignments[s], kg)
	}

	return assignments, nil
}

// Weighted places key-groups on a hash ring while limiting how much relative
// weight (e.g. estimated state size) any single subtask accumulates. It does
// not implement Placer, and no reconfig.scenario value selects it
// ("load_balance_zipf" uses ConsistentHash); callers use PlaceWeighted
// directly.
type Weighted struct {
	virtualNodes int
	hashSeed     uint64
}

var _ interface {
	PlaceWeighted(subtasks []string, weights map[keygroup.ID]int64) (map[string][]keygroup.ID, error)
} = (*Weighted)(nil)

// NewWeighted creates a Weighted placer.
func NewWeighted(virtualNodes int, hashSeed uint64) *Weighted {
	return &Weighted{virtualNodes: virtualNodes, hashSeed: hashSeed}
}

// PlaceWeighted assigns kgs (keyed by weight, e.g. bytes of state) to
// subtasks. A kg whose ring position would push its subtask past 115% of
// the average weight goes to the currently lightest subtask instead; a
// single kg heavier than that bound still leaves its subtask above it.
func (w *Weighted) PlaceWeighted(subtasks []string, weights map[keygroup.ID]int64) (map[string][]keygroup.ID, error) {
	if len(subtasks) == 0 {
		return nil, ErrNoSubtasks
	}

	wr := hash.NewWeighted(subtasks, w.virtualNodes, w.hashSeed)

	keys := make([]hash.WeightedKey, 0, len(weights))
	for kg, weight := range weights {
		keys = append(keys, hash.WeightedKey{Key: kgKey(kg), Weight: weight})
	}

	byKey := wr.AssignKeys(keys)

	assignments := make(map[string][]keygroup.ID, len(subtasks))
	for _, s := range subtasks {
		assignments[s] = nil
	}
	for subtask, assignedKeys := range byKey {
		for _, k := range assignedKeys {
			assignments[subtask] = append(assignments[subtask], parseKgKey(k))
		}
	}

	return assignments, nil
}

func kgKey(kg keygroup.ID) string {
	// Decimal formatting keeps the ring's hash input stable and human
	// readable in logs/traces without pulling in strconv's allocation-heavy
	// Itoa for a hot path; key-group ids fit comfortably in this buffer.
	var buf [10]byte
	n := len(buf)
	v := uint32(kg)
	if v == 0 {
		n--
		buf[n] = '0'
	}
	for v > 0 {
		n--
		buf[n] = byte('0' + v%10)
		v /= 10
	}

	return string(buf[n:])
}

func parseKgKey(s string) keygroup.ID {
	var v uint32
	for i := 0; i < len(s); i++ {
		v = v*10 + uint32(s[i]-'0')
	}

	return keygroup.ID(v)
}
