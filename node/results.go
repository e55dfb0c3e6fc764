package node

import "math"

// Network result application. The worker calls these in order on each new
// leaf after the batched prediction: SetProbabilities, EnhanceMoves,
// ApplyTemperature, then value assignment and EnableHasNNResults. None of
// them take the node lock: until the hasNNResults store publishes the
// node, the evaluating worker is the only writer.

// SetProbabilities binds one policy slice of the batch output as priors.
//
// With a policy map the network emits one logit per action id and priors
// are gathered by action index; otherwise the output is already ordered by
// legal move. When mirror is set the action indexing is mirrored to match
// the mirrored input planes. Logits are normalized with a softmax over the
// legal moves.
func (n *Node) SetProbabilities(policy []float32, mirror bool, isPolicyMap bool) {
	if isPolicyMap {
		for i, a := range n.actions {
			idx := int(a)
			if mirror {
				idx = len(policy) - 1 - idx
			}
			n.priors[i] = policy[idx]
		}
	} else {
		copy(n.priors, policy[:len(n.actions)])
	}
	softmaxInPlace(n.priors)
}

// EnhanceMoves raises the prior of unpromising check-giving moves so the
// search tries each check at least once. The exploration prelude favors
// checks separately, by choosing a check-giving child directly.
func (n *Node) EnhanceMoves(params *Params) {
	if params.CheckPriorWeight <= 0 {
		return
	}
	maxPrior := float32(0)
	for _, p := range n.priors {
		if p > maxPrior {
			maxPrior = p
		}
	}
	boost := params.CheckPriorWeight * maxPrior
	changed := false
	for i := range n.priors {
		if n.checks[i] && n.priors[i] < boost {
			n.priors[i] = boost
			changed = true
		}
	}
	if changed {
		normalizeInPlace(n.priors)
	}
}

// ApplyTemperature sharpens or flattens the priors: p^(1/T), renormalized.
func (n *Node) ApplyTemperature(temperature float32) {
	if temperature <= 0 || temperature == 1 || len(n.priors) == 0 {
		return
	}
	inv := 1 / float64(temperature)
	for i, p := range n.priors {
		n.priors[i] = float32(math.Pow(float64(p), inv))
	}
	normalizeInPlace(n.priors)
}

// SetUniformPriors spreads the prior mass evenly over the legal moves.
// Used when rollouts stand in for the network.
func (n *Node) SetUniformPriors() {
	if len(n.priors) == 0 {
		return
	}
	p := 1 / float32(len(n.priors))
	for i := range n.priors {
		n.priors[i] = p
	}
}

// Prior returns the prior probability of the move in slot idx.
func (n *Node) Prior(idx int) float32 { return n.priors[idx] }

func softmaxInPlace(v []float32) {
	if len(v) == 0 {
		return
	}
	maxV := v[0]
	for _, x := range v[1:] {
		if x > maxV {
			maxV = x
		}
	}
	sum := float32(0)
	for i, x := range v {
		e := float32(math.Exp(float64(x - maxV)))
		v[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range v {
			v[i] *= inv
		}
	}
}

func normalizeInPlace(v []float32) {
	sum := float32(0)
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return
	}
	inv := 1 / sum
	for i := range v {
		v[i] *= inv
	}
}
