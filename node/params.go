package node

// Params carries the per-search constants the tree math needs. It is
// immutable for the lifetime of a search and shared by all workers.
type Params struct {
	// CPuct weighs the prior-driven exploration term in child selection.
	CPuct float32

	// VirtualLoss is the pessimistic weight applied to an in-flight edge so
	// parallel workers diversify.
	VirtualLoss float32

	// PolicyTemperature flattens (>1) or sharpens (<1) priors after the
	// network evaluation. 1 or 0 leaves them untouched.
	PolicyTemperature float32

	// CheckPriorWeight boosts the prior of check-giving moves relative to
	// the strongest prior. 0 disables move enhancement.
	CheckPriorWeight float32

	// SinglePlayer disables the sign flip during backup: values are
	// absolute rather than alternating between the two players.
	SinglePlayer bool

	// SolverEnabled propagates proven win/loss/draw outcomes up the tree.
	SolverEnabled bool

	// TablebaseSupport adds the tablebase node kinds and the averaged value
	// assignment for tablebase hits.
	TablebaseSupport bool

	// UseTranspositionTable shares nodes between move orders that reach the
	// same position.
	UseTranspositionTable bool
}

// DefaultParams are reasonable starting values for two-player search.
func DefaultParams() Params {
	return Params{
		CPuct:                 2.5,
		VirtualLoss:           1,
		PolicyTemperature:     1,
		CheckPriorWeight:      0.5,
		UseTranspositionTable: true,
	}
}
