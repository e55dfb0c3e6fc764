package search

import (
	"fmt"

	"github.com/brensch/neuralmcts/game"
	"github.com/brensch/neuralmcts/inference"
	"github.com/brensch/neuralmcts/node"
)

// ExpandRoot evaluates the root position and publishes its priors and
// value, giving the workers a playout node to descend from. In rollout
// mode (or with no evaluator) the priors are uniform.
func ExpandRoot(root *node.Node, state game.State, eval inference.Evaluator, settings *Settings) {
	if root.IsTerminal() {
		return
	}
	if settings.RolloutMode || eval == nil {
		root.SetUniformPriors()
		root.EnableHasNNResults()
		return
	}

	mirror := state.MirrorPolicy(state.SideToMove())
	planes := make([]float32, state.NumPlaneValues())
	state.StatePlanes(mirror, planes, settings.PlanesVersion)

	values := make([]float32, 1)
	policy := make([]float32, state.PolicySize())
	if err := eval.PredictBatch(planes, 1, values, policy); err != nil {
		panic(fmt.Sprintf("search: root prediction failed: %v", err))
	}

	root.SetProbabilities(policy, mirror, eval.IsPolicyMap())
	root.EnhanceMoves(&settings.Params)
	root.ApplyTemperature(settings.PolicyTemperature)
	root.SetValue(values[0])
	root.EnableHasNNResults()
}
