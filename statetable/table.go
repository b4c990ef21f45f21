// Package statetable implements the per-operator KeyedStateTable (C2): state
// partitioned by key-group, with a changelog of key-groups modified since
// they were last cleared (ClearChangelog or ReleaseChangelogs).
package statetable

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/spacker/keygroup"
)

// Entry is a single (namespace, userKey) -> value pair inside a key-group's
// state, corresponding to the StateEntry of the data model (§3).
type Entry struct {
	Namespace string
	UserKey   string
	Value     any
}

// kgState holds all namespaces for one key-group.
type kgState struct {
	mu sync.RWMutex
	ns map[string]map[string]any
}

func newKgState() *kgState {
	return &kgState{ns: make(map[string]map[string]any)}
}

// Table is the per-operator KeyedStateTable.
//
// Reads and writes name their key group, namespace and user key explicitly
// (Get/Put/Remove); Table keeps no current-key context, so it only needs to
// guard the kg-indexed map, not per-record state.
//
// Internally it uses an xsync.Map for lock-free concurrent access: the hot
// path (Get/Put for the current record) only ever touches one kg's *kgState,
// so per-kg locking under a lock-free top-level map avoids a single
// operator-wide mutex becoming a bottleneck during migration, when
// migration-queue access and operator dispatch can be concurrent across the
// task lock boundary (§5).
type Table struct {
	kgs       *xsync.Map[keygroup.ID, *kgState]
	changelog *xsync.Map[keygroup.ID, struct{}]
}

// New creates an empty KeyedStateTable.
func New() *Table {
	return &Table{
		kgs:       xsync.NewMap[keygroup.ID, *kgState](),
		changelog: xsync.NewMap[keygroup.ID, struct{}](),
	}
}

func (t *Table) kgStateFor(kg keygroup.ID) *kgState {
	st, _ := t.kgs.LoadOrStore(kg, newKgState())

	return st
}

// Get returns the value stored for (kg, namespace, userKey), and whether it
// was present.
func (t *Table) Get(kg keygroup.ID, namespace, userKey string) (any, bool) {
	st, ok := t.kgs.Load(kg)
	if !ok {
		return nil, false
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	keyMap, ok := st.ns[namespace]
	if !ok {
		return nil, false
	}

	v, ok := keyMap[userKey]

	return v, ok
}

// Put stores value for (kg, namespace, userKey) and marks kg dirty in the
// changelog.
func (t *Table) Put(kg keygroup.ID, namespace, userKey string, value any) {
	st := t.kgStateFor(kg)

	st.mu.Lock()
	keyMap, ok := st.ns[namespace]
	if !ok {
		keyMap = make(map[string]any)
		st.ns[namespace] = keyMap
	}
	keyMap[userKey] = value
	st.mu.Unlock()

	t.changelog.Store(kg, struct{}{})
}

// Remove deletes (kg, namespace, userKey) and marks kg dirty in the changelog.
func (t *Table) Remove(kg keygroup.ID, namespace, userKey string) {
	st, ok := t.kgs.Load(kg)
	if !ok {
		return
	}

	st.mu.Lock()
	if keyMap, ok := st.ns[namespace]; ok {
		delete(keyMap, userKey)
	}
	st.mu.Unlock()

	t.changelog.Store(kg, struct{}{})
}

// Entries returns every (namespace, userKey, value) triple owned by kg.
func (t *Table) Entries(kg keygroup.ID) []Entry {
	st, ok := t.kgs.Load(kg)
	if !ok {
		return nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	var out []Entry
	for ns, keyMap := range st.ns {
		for k, v := range keyMap {
			out = append(out, Entry{Namespace: ns, UserKey: k, Value: v})
		}
	}

	return out
}

// Changelog returns the set of key-groups modified since they were last
// cleared by ClearChangelog or ReleaseChangelogs; taking a snapshot does
// not clear it.
func (t *Table) Changelog() []keygroup.ID {
	var out []keygroup.ID
	t.changelog.Range(func(kg keygroup.ID, _ struct{}) bool {
		out = append(out, kg)

		return true
	})

	return out
}

// ReleaseChangelogs removes kgs from the changelog AND drops their in-memory
// entries entirely. This is how a source task relinquishes ownership after a
// successful migration (§4.2): the destination now owns the only copy.
func (t *Table) ReleaseChangelogs(kgs []keygroup.ID) {
	for _, kg := range kgs {
		t.changelog.Delete(kg)
		t.kgs.Delete(kg)
	}
}

// ClearChangelog removes kgs from the changelog without deleting their
// in-memory state, used after a successful replication cycle (§4.7) where the
// source keeps owning the key-groups.
func (t *Table) ClearChangelog(kgs []keygroup.ID) {
	for _, kg := range kgs {
		t.changelog.Delete(kg)
	}
}

// Ingest writes a batch of entries into kg, used by a destination task when
// it receives a KeyGroupStateHandle's decoded contents. Ingest does not mark
// kg dirty in the changelog: the destination did not "modify" this state,
// it received ownership of state that was already considered current.
func (t *Table) Ingest(kg keygroup.ID, entries []Entry) {
	st := t.kgStateFor(kg)

	st.mu.Lock()
	defer st.mu.Unlock()

	for _, e := range entries {
		keyMap, ok := st.ns[e.Namespace]
		if !ok {
			keyMap = make(map[string]any)
			st.ns[e.Namespace] = keyMap
		}
		keyMap[e.UserKey] = e.Value
	}
}
