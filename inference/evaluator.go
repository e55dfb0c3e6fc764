// Package inference provides batched neural network evaluation for the
// search workers. Each worker assembles its own mini-batch and hands the
// whole batch to one Evaluator call, so backends do not need request
// batching of their own.
package inference

// Evaluator scores a mini-batch of encoded positions.
//
// PredictBatch reads batch positions from planes (laid out back to back)
// and writes one value per position into values and one policy slice per
// position into policies. Both output buffers are caller-owned and sized
// at worker construction; a backend must not retain them.
type Evaluator interface {
	PredictBatch(planes []float32, batch int, values []float32, policies []float32) error

	// NumInputValues is the number of floats one position occupies.
	NumInputValues() int

	// PolicySize is the length of one policy slice.
	PolicySize() int

	// IsPolicyMap reports whether policy outputs are indexed by action id
	// rather than by legal-move order.
	IsPolicyMap() bool

	// Version selects the input plane format the backend was trained on.
	Version() int
}
