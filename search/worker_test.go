package search

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/neuralmcts/game"
	"github.com/brensch/neuralmcts/inference"
	"github.com/brensch/neuralmcts/node"
)

// scriptGraph is a hand-built transition graph standing in for a real
// game, so tests control exactly which positions exist, which are
// terminal, how they hash and which phase they belong to.
type scriptGraph struct {
	nodes map[string]*scriptPosition
}

type scriptPosition struct {
	actions  []game.Action
	next     map[game.Action]string
	terminal bool
	value    float32
	phase    game.Phase
	hash     uint64
	side     game.Side
	checks   map[game.Action]bool
}

type scriptState struct {
	graph *scriptGraph
	id    string
}

const scriptPolicySize = 8

func (s *scriptState) pos() *scriptPosition { return s.graph.nodes[s.id] }

func (s *scriptState) Clone() game.State {
	return &scriptState{graph: s.graph, id: s.id}
}

func (s *scriptState) DoAction(action game.Action) {
	next, ok := s.pos().next[action]
	if !ok {
		panic("scriptState: illegal action")
	}
	s.id = next
}

func (s *scriptState) LegalActions() []game.Action {
	return append([]game.Action(nil), s.pos().actions...)
}

func (s *scriptState) GivesCheck(action game.Action) bool {
	return s.pos().checks[action]
}

func (s *scriptState) StatePlanes(mirror bool, out []float32, version int) {
	out[0] = float32(s.pos().hash)
}

func (s *scriptState) NumPlaneValues() int { return 4 }

func (s *scriptState) PolicySize() int { return scriptPolicySize }

func (s *scriptState) SideToMove() game.Side { return s.pos().side }

func (s *scriptState) MirrorPolicy(side game.Side) bool { return false }

func (s *scriptState) Phase(numPhases int, def game.PhaseDefinition) game.Phase {
	p := s.pos().phase
	if int(p) >= numPhases {
		p = game.Phase(numPhases - 1)
	}
	return p
}

func (s *scriptState) Terminal() bool { return s.pos().terminal }

func (s *scriptState) TerminalValue() float32 { return s.pos().value }

func (s *scriptState) Hash() uint64 { return s.pos().hash }

func (s *scriptState) RandomRollout(rng *rand.Rand) float32 { return s.pos().value }

// newScriptGraph assigns hashes and alternating sides automatically; the
// test overrides whatever it needs afterwards.
func newScriptGraph() *scriptGraph {
	return &scriptGraph{nodes: make(map[string]*scriptPosition)}
}

func (g *scriptGraph) add(id string, side game.Side, transitions map[game.Action]string) *scriptPosition {
	actions := make([]game.Action, 0, len(transitions))
	for a := game.Action(0); int(a) < scriptPolicySize; a++ {
		if _, ok := transitions[a]; ok {
			actions = append(actions, a)
		}
	}
	p := &scriptPosition{
		actions: actions,
		next:    transitions,
		side:    side,
		hash:    uint64(len(g.nodes) + 1<<16),
		checks:  make(map[game.Action]bool),
	}
	g.nodes[id] = p
	return p
}

func (g *scriptGraph) addTerminal(id string, side game.Side, value float32) *scriptPosition {
	p := &scriptPosition{
		side:     side,
		terminal: true,
		value:    value,
		next:     map[game.Action]string{},
		hash:     uint64(len(g.nodes) + 1<<16),
		checks:   make(map[game.Action]bool),
	}
	g.nodes[id] = p
	return p
}

func (g *scriptGraph) state(id string) *scriptState {
	return &scriptState{graph: g, id: id}
}

// mockEvaluator answers every position with a fixed value and flat policy
// logits, and counts how many batches it served.
type mockEvaluator struct {
	calls int
	value float32
}

func (e *mockEvaluator) PredictBatch(planes []float32, batch int, values []float32, policies []float32) error {
	e.calls++
	for i := 0; i < batch; i++ {
		values[i] = e.value
	}
	for i := range policies[:batch*scriptPolicySize] {
		policies[i] = 0
	}
	return nil
}

func (e *mockEvaluator) NumInputValues() int { return 4 }
func (e *mockEvaluator) PolicySize() int     { return scriptPolicySize }
func (e *mockEvaluator) IsPolicyMap() bool   { return false }
func (e *mockEvaluator) Version() int        { return 1 }

func newTestSettings(batch int) *Settings {
	s := DefaultSettings()
	s.BatchSize = batch
	return &s
}

func newTestWorker(t *testing.T, g *scriptGraph, rootID string, settings *Settings, nets ...*mockEvaluator) (*Worker, *node.Node, *node.Table) {
	t.Helper()
	table := node.NewTable()
	rootState := g.state(rootID)
	root := node.NewRoot(table, rootState, &settings.Params, settings.StoreStates)

	evals := make([]inference.Evaluator, len(nets))
	for i, n := range nets {
		evals[i] = n
	}
	var first inference.Evaluator
	if len(nets) > 0 {
		first = nets[0]
	}

	w := NewWorker(evals, settings, table, 1)
	w.SetRootState(rootState.Clone())
	ExpandRoot(root, rootState, first, settings)
	// count only the batches the worker sends, not the root expansion
	for _, n := range nets {
		n.calls = 0
	}
	w.SetRootNode(root)
	w.SetSearchLimits(&Limits{})
	return w, root, table
}

// Scenario: a root with two unexpanded children and a batch of one must
// produce exactly one new leaf at depth one, with its virtual loss
// reversed by the backup.
func TestSingleLeafBatch(t *testing.T) {
	g := newScriptGraph()
	g.add("root", game.Black, map[game.Action]string{0: "a", 1: "b"})
	g.add("a", game.White, map[game.Action]string{0: "a0", 1: "a1"})
	g.add("b", game.White, map[game.Action]string{0: "b0", 1: "b1"})
	for _, id := range []string{"a0", "a1", "b0", "b1"} {
		g.addTerminal(id, game.Black, -1)
	}

	eval := &mockEvaluator{value: 0.25}
	w, root, table := newTestWorker(t, g, "root", newTestSettings(1), eval)

	w.ThreadIteration()

	assert.Equal(t, uint64(2), table.NodeCount(), "root plus one new leaf")
	assert.Equal(t, 1, eval.calls)
	assert.Equal(t, uint64(1), w.Stats().DepthSum.Load(), "single descent of depth 1")

	expanded := 0
	for i := 0; i < root.NumChildren(); i++ {
		assert.Zero(t, root.PendingVirtualLoss(i), "virtual loss reversed on edge %d", i)
		if child := root.ChildNode(i); child != nil {
			expanded++
			assert.True(t, child.HasNNResults())
			assert.Equal(t, float32(0.25), child.Value())
		}
	}
	assert.Equal(t, 1, expanded)
}

// Scenario: a second descent reaching a leaf that is still waiting for its
// evaluation must register a collision and revert the virtual loss
// without touching values.
func TestCollisionRevertsVirtualLoss(t *testing.T) {
	g := newScriptGraph()
	// a single forced move guarantees both descents pick the same edge
	g.add("root", game.Black, map[game.Action]string{2: "only"})
	g.add("only", game.White, map[game.Action]string{0: "x", 1: "y"})
	g.addTerminal("x", game.Black, -1)
	g.addTerminal("y", game.Black, -1)

	eval := &mockEvaluator{value: 0.5}
	w, root, _ := newTestWorker(t, g, "root", newTestSettings(2), eval)

	w.ThreadIteration()

	root.Lock()
	defer root.Unlock()
	assert.Equal(t, uint32(1), root.RealVisits(0, &w.settings.Params), "one real visit from the new-node backup")
	assert.Equal(t, uint64(1), w.Stats().DepthMax.Load(), "both descents stopped at depth 1")
	// collision contributed no value: the edge mean is exactly the
	// (sign-flipped) leaf evaluation
	assert.InDelta(t, -0.5, root.QValue(0), 1e-6)
}

// Scenario: two move orders reaching the same position must converge on
// one shared node through the transposition index.
func TestTranspositionSharesNode(t *testing.T) {
	g := newScriptGraph()
	g.add("root", game.Black, map[game.Action]string{0: "x", 1: "y"})
	g.add("x", game.White, map[game.Action]string{0: "shared"})
	g.add("y", game.White, map[game.Action]string{0: "shared2"})
	g.add("shared", game.Black, map[game.Action]string{0: "t1", 1: "t2"})
	shared2 := g.add("shared2", game.Black, map[game.Action]string{0: "t1", 1: "t2"})
	shared2.hash = g.nodes["shared"].hash // same position, different path
	g.addTerminal("t1", game.White, -1)
	g.addTerminal("t2", game.White, 0)

	eval := &mockEvaluator{value: 0.1}
	w, root, _ := newTestWorker(t, g, "root", newTestSettings(8), eval)

	for i := 0; i < 6; i++ {
		w.ThreadIteration()
	}

	nx := root.ChildNode(0)
	ny := root.ChildNode(1)
	require.NotNil(t, nx)
	require.NotNil(t, ny)
	cx := nx.ChildNode(0)
	cy := ny.ChildNode(0)
	require.NotNil(t, cx, "first path expanded")
	require.NotNil(t, cy, "second path expanded")

	assert.Same(t, cx, cy, "both paths point at the shared node")
	assert.True(t, cx.IsTransposition())
}

// Scenario: a terminal loss three plies deep must add one visit per edge
// with the sign alternating up the path.
func TestTerminalBackupFlipsSigns(t *testing.T) {
	g := newScriptGraph()
	g.add("root", game.Black, map[game.Action]string{0: "s1"})
	g.add("s1", game.White, map[game.Action]string{0: "s2"})
	g.add("s2", game.Black, map[game.Action]string{0: "loss"})
	g.addTerminal("loss", game.White, -1)

	eval := &mockEvaluator{value: 0} // only the terminal contributes value
	settings := newTestSettings(1)
	settings.SolverEnabled = false
	w, root, _ := newTestWorker(t, g, "root", settings, eval)

	for i := 0; i < 3; i++ {
		w.ThreadIteration()
	}

	s1 := root.ChildNode(0)
	require.NotNil(t, s1)
	s2 := s1.ChildNode(0)
	require.NotNil(t, s2)
	require.NotNil(t, s2.ChildNode(0), "terminal attached")

	root.Lock()
	rootQ := root.QValue(0)
	root.Unlock()
	s1.Lock()
	q1 := s1.QValue(0)
	s1.Unlock()
	s2.Lock()
	q2 := s2.QValue(0)
	s2.Unlock()

	assert.Equal(t, float32(1), q2, "mating edge is a certain win for the mover")
	assert.Less(t, q1, float32(0), "the reply edge is losing")
	assert.Greater(t, rootQ, float32(0))

	for i := 0; i < root.NumChildren(); i++ {
		assert.Zero(t, root.PendingVirtualLoss(i))
	}
}

// Scenario: with two routed networks, a batch whose majority phase is
// opening must call the opening network exactly once.
func TestMajorityPhaseRouting(t *testing.T) {
	g := newScriptGraph()
	g.add("root", game.Black, map[game.Action]string{0: "l0", 1: "l1", 2: "l2", 3: "l3", 4: "l4"})
	for i, phase := range []game.Phase{game.PhaseOpening, game.PhaseOpening, game.PhaseOpening, game.PhaseMidgame, game.PhaseMidgame} {
		id := []string{"l0", "l1", "l2", "l3", "l4"}[i]
		p := g.add(id, game.White, map[game.Action]string{0: "t" + id})
		p.phase = phase
		g.addTerminal("t"+id, game.Black, 0)
	}

	opening := &mockEvaluator{}
	endgame := &mockEvaluator{}
	settings := newTestSettings(5)
	settings.PhaseCount = 2
	w, _, _ := newTestWorker(t, g, "root", settings, opening, endgame)

	w.ThreadIteration()

	expanded := 0
	for i := 0; i < 5; i++ {
		if w.rootNode.ChildNode(i) != nil {
			expanded++
		}
	}
	assert.Equal(t, 5, expanded, "five fresh leaves in the batch")
	assert.Equal(t, 1, opening.calls)
	assert.Zero(t, endgame.calls)
}

// Boundary: single-player mode caches at most one terminal per batch.
func TestSinglePlayerTerminalCache(t *testing.T) {
	settings := newTestSettings(4)
	settings.SinglePlayer = true
	w := NewWorker([]inference.Evaluator{&mockEvaluator{}}, settings, node.NewTable(), 1)
	assert.Equal(t, 1, w.terminalNodeCache)

	two := newTestSettings(4)
	w2 := NewWorker([]inference.Evaluator{&mockEvaluator{}}, two, node.NewTable(), 1)
	assert.Equal(t, 8, w2.terminalNodeCache)
}

// Boundary: one configured network short-circuits phase routing.
func TestSelectNNIndexSingleNetwork(t *testing.T) {
	g := newScriptGraph()
	g.add("root", game.Black, map[game.Action]string{0: "a"})
	g.addTerminal("a", game.White, 0)

	settings := newTestSettings(1)
	settings.PhaseCount = 3
	w, _, _ := newTestWorker(t, g, "root", settings, &mockEvaluator{})

	w.phaseCountMap[game.PhaseEndgame] = 10
	assert.Zero(t, w.selectNNIndex())
}

// Scenario: the driver stops once the node cap is crossed.
func TestDriverStopsOnNodeLimit(t *testing.T) {
	settings := newTestSettings(4)
	settings.EpsilonGreedyCounter = 0
	settings.EpsilonChecksCounter = 0

	table := node.NewTable()
	rootState := game.NewPosition(7)
	root := node.NewRoot(table, rootState, &settings.Params, false)

	eval := &positionEvaluator{}
	w := NewWorker([]inference.Evaluator{eval}, settings, table, 42)
	w.SetRootState(rootState.Clone())
	ExpandRoot(root, rootState, eval, settings)
	w.SetRootNode(root)
	w.SetSearchLimits(&Limits{Nodes: 100})

	RunSearchWorker(w)

	assert.False(t, w.IsRunning())
	assert.GreaterOrEqual(t, table.NodeCount(), uint64(100))
	assert.Less(t, table.NodeCount(), uint64(130), "overshoot bounded by one iteration")
}

// positionEvaluator is a flat evaluator sized for game.Position boards.
type positionEvaluator struct{ calls int }

func (e *positionEvaluator) PredictBatch(planes []float32, batch int, values []float32, policies []float32) error {
	e.calls++
	for i := 0; i < batch; i++ {
		values[i] = 0
	}
	for i := range policies {
		policies[i] = 0
	}
	return nil
}

func (e *positionEvaluator) NumInputValues() int { return 3 * 7 * 7 }
func (e *positionEvaluator) PolicySize() int     { return 7 * 7 }
func (e *positionEvaluator) IsPolicyMap() bool   { return true }
func (e *positionEvaluator) Version() int        { return 1 }
