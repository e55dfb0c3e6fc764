// Package search implements the batched parallel tree-search worker: leaf
// collection under virtual loss, mini-batch evaluation with per-phase
// network routing, and value backup along recorded trajectories.
package search

import (
	"github.com/brensch/neuralmcts/game"
	"github.com/brensch/neuralmcts/node"
)

// Settings is the immutable per-search configuration shared by all
// workers. The embedded node.Params carries the constants the tree math
// needs; the fields here drive the worker loop itself.
type Settings struct {
	node.Params

	// BatchSize is the mini-batch capacity per worker.
	BatchSize int

	// EpsilonGreedyCounter enables the random-playout exploration prelude
	// with probability 1/N. 0 disables it.
	EpsilonGreedyCounter int

	// EpsilonChecksCounter enables the check-preferring exploration
	// prelude with probability 1/N. 0 disables it.
	EpsilonChecksCounter int

	// PhaseCount is the number of game phases routed to networks.
	PhaseCount int

	// PhaseDefinition selects how phases are derived from positions.
	PhaseDefinition game.PhaseDefinition

	// StoreStates keeps a position snapshot on every node, trading memory
	// for skipping the root replay during leaf expansion.
	StoreStates bool

	// RolloutMode replaces network evaluation with random rollouts.
	RolloutMode bool

	// PlanesVersion is forwarded to the state encoder.
	PlanesVersion int
}

// DefaultSettings is a two-player configuration with a single network.
func DefaultSettings() Settings {
	return Settings{
		Params:     node.DefaultParams(),
		BatchSize:  16,
		PhaseCount: 1,
	}
}

// Limits bounds one driver run. A zero cap means unbounded.
type Limits struct {
	Nodes       uint64
	Simulations uint64
	NodesLimit  uint64
}
