package node

import (
	"sync"
	"sync/atomic"

	"github.com/brensch/neuralmcts/game"
)

// Table is the process-wide transposition index: position hash to node,
// guarded by a single mutex. The table holds non-owning references; nodes
// belong to the tree and live until the search is dropped.
//
// The table also counts the nodes linked into the tree, which is what the
// node based search limits are checked against.
type Table struct {
	mu        sync.Mutex
	nodes     map[uint64]*Node
	allocated atomic.Uint64
}

func NewTable() *Table {
	return &Table{nodes: make(map[uint64]*Node)}
}

// NodeCount is the number of nodes linked into the tree so far.
// Allocations discarded in favor of a transposition hit are not counted.
func (t *Table) NodeCount() uint64 { return t.allocated.Load() }

// Len is the number of distinct positions currently indexed.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// Lookup returns the node indexed under hash, or nil.
func (t *Table) Lookup(hash uint64) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[hash]
}

// Clear drops all index entries. Allocation counts are kept.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = make(map[uint64]*Node)
}

func (t *Table) register(n *Node, index bool) {
	t.allocated.Add(1)
	if !index {
		return
	}
	t.mu.Lock()
	t.nodes[n.hash] = n
	t.mu.Unlock()
}

// AddChild attaches the position reached through slot childIdx. The caller
// holds the parent lock across the nil check and this call, which is what
// guarantees at most one worker allocates a given child.
//
// With the transposition table enabled, a hash hit links the existing node
// into the child slot instead of allocating, marks it as a transposition
// and classifies the descent accordingly. The table mutex is the innermost
// lock and is held only for the lookup or insert.
func (parent *Node) AddChild(table *Table, state game.State, childIdx int, params *Params, storeState bool) (*Node, Backup) {
	if existing := parent.children[childIdx]; existing != nil {
		// lost a race that the parent lock should have prevented
		panic("node: child slot already populated")
	}

	child := newNode(state, storeState)

	if params.UseTranspositionTable && !child.terminal {
		table.mu.Lock()
		if existing := table.nodes[child.hash]; existing != nil {
			table.mu.Unlock()
			// discard the fresh allocation in favor of the shared node
			existing.transposition.Store(true)
			parent.children[childIdx] = existing
			return existing, BackupTransposition
		}
		table.nodes[child.hash] = child
		table.mu.Unlock()
		table.allocated.Add(1)
		parent.children[childIdx] = child
		return child, BackupNewNode
	}

	parent.children[childIdx] = child
	table.allocated.Add(1)
	if child.terminal {
		return child, BackupTerminal
	}
	return child, BackupNewNode
}
