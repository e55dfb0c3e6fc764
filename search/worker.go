package search

import (
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/brensch/neuralmcts/game"
	"github.com/brensch/neuralmcts/inference"
	"github.com/brensch/neuralmcts/node"
)

// noIdx marks "no child slot chosen yet" during descent.
const noIdx = -1

// preludeDepthCap bounds the random starting depth of the exploration
// prelude; the greedy walk usually stops far earlier.
const preludeDepthCap = 63

// NodeDescription classifies the outcome of one leaf descent.
type NodeDescription struct {
	Type  node.Backup
	Depth int
}

// Stats are the per-worker search counters. They are atomics so monitors
// can read them while the worker runs.
type Stats struct {
	Iterations atomic.Uint64
	TBHits     atomic.Uint64
	DepthSum   atomic.Uint64
	DepthMax   atomic.Uint64
}

func (s *Stats) reset() {
	s.Iterations.Store(0)
	s.TBHits.Store(0)
	s.DepthSum.Store(0)
	s.DepthMax.Store(0)
}

// Worker owns one search thread's buffers and runs the
// collect-evaluate-backup iteration against the shared tree.
//
// A worker is bound to one root per search via SetRootNode/SetRootState
// and is not safe for concurrent use; run several workers for parallel
// search.
type Worker struct {
	nets     []inference.Evaluator
	settings *Settings
	table    *node.Table
	rng      *rand.Rand

	rootNode  *node.Node
	rootState game.State
	limits    *Limits

	newNodes            *FixedVector[*node.Node]
	newSideToMove       *FixedVector[game.Side]
	transpositionValues *FixedVector[float32]

	trajectoryBuffer Trajectory
	actionsBuffer    []game.Action

	newTrajectories           []Trajectory
	collisionTrajectories     []Trajectory
	transpositionTrajectories []Trajectory

	inputPlanes  []float32
	valueOutputs []float32
	probOutputs  []float32
	planeStride  int
	policySize   int

	phaseCountMap map[game.Phase]int
	phaseToNetIdx map[game.Phase]int

	running           atomic.Bool
	terminalNodeCache int
	visitsPreSearch   float32

	stats Stats
}

// NewWorker builds a worker over the given networks (one per routed game
// phase; may be empty in rollout mode), settings and shared transposition
// index. seed initializes the worker-local PRNG.
func NewWorker(nets []inference.Evaluator, settings *Settings, table *node.Table, seed int64) *Worker {
	if settings.BatchSize <= 0 {
		panic("search: batch size must be positive")
	}
	if len(nets) == 0 && !settings.RolloutMode {
		panic("search: need at least one network outside rollout mode")
	}

	w := &Worker{
		nets:                nets,
		settings:            settings,
		table:               table,
		rng:                 rand.New(rand.NewSource(seed)),
		newNodes:            NewFixedVector[*node.Node](settings.BatchSize),
		newSideToMove:       NewFixedVector[game.Side](settings.BatchSize),
		transpositionValues: NewFixedVector[float32](settings.BatchSize * 2),
		phaseCountMap:       make(map[game.Phase]int),
		phaseToNetIdx:       make(map[game.Phase]int),
		terminalNodeCache:   settings.BatchSize * 2,
	}
	if settings.SinglePlayer {
		w.terminalNodeCache = 1
	}

	phases := settings.PhaseCount
	if phases <= 0 {
		phases = 1
	}
	for p := 0; p < phases; p++ {
		idx := p
		if len(nets) > 0 && idx >= len(nets) {
			idx = len(nets) - 1
		}
		w.phaseToNetIdx[game.Phase(p)] = idx
	}

	return w
}

// SetRootNode binds the already-expanded root for the next driver run.
func (w *Worker) SetRootNode(n *node.Node) {
	w.rootNode = n
	w.visitsPreSearch = n.VisitsAtomic()
}

// SetRootState binds the root position and sizes the per-worker batch
// buffers to its encoding.
func (w *Worker) SetRootState(s game.State) {
	w.rootState = s
	w.planeStride = s.NumPlaneValues()
	w.policySize = s.PolicySize()
	if len(w.inputPlanes) != w.settings.BatchSize*w.planeStride {
		w.inputPlanes = make([]float32, w.settings.BatchSize*w.planeStride)
		w.valueOutputs = make([]float32, w.settings.BatchSize)
		w.probOutputs = make([]float32, w.settings.BatchSize*w.policySize)
	}
}

// SetSearchLimits binds the caps checked between iterations.
func (w *Worker) SetSearchLimits(l *Limits) { w.limits = l }

func (w *Worker) RootNode() *node.Node { return w.rootNode }

func (w *Worker) IsRunning() bool { return w.running.Load() }

// Stop asks the driver loop to exit. The current iteration completes,
// including its backups, before the worker returns.
func (w *Worker) Stop() { w.running.Store(false) }

func (w *Worker) Stats() *Stats { return &w.stats }

// TBHits is the number of tablebase-backed leaves evaluated so far.
func (w *Worker) TBHits() uint64 { return w.stats.TBHits.Load() }

// MaxDepth is the deepest descent seen since the last stats reset.
func (w *Worker) MaxDepth() int { return int(w.stats.DepthMax.Load()) }

// AvgDepth is the mean descent depth over the visits added this search.
func (w *Worker) AvgDepth() int {
	delta := w.rootNode.VisitsAtomic() - w.visitsPreSearch
	if delta <= 0 {
		return 0
	}
	return int(float64(w.stats.DepthSum.Load())/float64(delta) + 0.5)
}

func (w *Worker) resetStats() { w.stats.reset() }

// ThreadIteration is one cycle of the worker loop: collect leaves until
// the mini-batch is bounded, evaluate, apply results, back up.
func (w *Worker) ThreadIteration() {
	w.createMiniBatch()
	if !w.settings.RolloutMode && w.newNodes.Len() != 0 {
		net := w.nets[w.selectNNIndex()]
		batch := w.newNodes.Len()
		err := net.PredictBatch(w.inputPlanes[:batch*w.planeStride], batch, w.valueOutputs, w.probOutputs)
		if err != nil {
			// the evaluator contract is infallible; anything else is fatal
			panic(fmt.Sprintf("search: prediction failed: %v", err))
		}
		w.setNNResultsToChildNodes()
	}
	w.backupValueOutputs()
	w.backupCollisions()
	w.stats.Iterations.Add(1)
}

// createMiniBatch repeats leaf descents until the batch is full, the
// collision or transposition buffers are exhausted, or enough terminal
// nodes were seen.
func (w *Worker) createMiniBatch() {
	var description NodeDescription
	numTerminalNodes := 0

	for !w.newNodes.Full() &&
		len(w.collisionTrajectories) != w.settings.BatchSize &&
		!w.transpositionValues.Full() &&
		numTerminalNodes < w.terminalNodeCache {

		w.trajectoryBuffer = w.trajectoryBuffer[:0]
		w.actionsBuffer = w.actionsBuffer[:0]
		newNode := w.getNewChildToEvaluate(&description)
		w.stats.DepthSum.Add(uint64(description.Depth))
		if d := uint64(description.Depth); d > w.stats.DepthMax.Load() {
			w.stats.DepthMax.Store(d)
		}

		switch description.Type {
		case node.BackupTerminal:
			numTerminalNodes++
			node.BackupValue(w.trajectoryBuffer, newNode.Value(), &w.settings.Params, w.settings.SolverEnabled)
		case node.BackupCollision:
			w.collisionTrajectories = append(w.collisionTrajectories, w.copyTrajectory())
		case node.BackupTransposition:
			w.transpositionTrajectories = append(w.transpositionTrajectories, w.copyTrajectory())
		default: // a fresh leaf for the batch
			w.newNodes.Add(newNode)
			w.newTrajectories = append(w.newTrajectories, w.copyTrajectory())
		}
	}
}

func (w *Worker) copyTrajectory() Trajectory {
	return append(Trajectory(nil), w.trajectoryBuffer...)
}

// getNewChildToEvaluate walks from the root to a leaf that must enter the
// batch, applying virtual loss along the way and recording the path.
func (w *Worker) getNewChildToEvaluate(description *NodeDescription) *node.Node {
	description.Depth = 0
	params := &w.settings.Params
	current := w.rootNode
	childIdx := noIdx

	if w.settings.EpsilonGreedyCounter > 0 && current.IsPlayoutNode() &&
		w.rng.Intn(w.settings.EpsilonGreedyCounter) == 0 {
		current = w.getStartingNode(current, description)
		current.Lock()
		childIdx = w.randomPlayout(current)
		current.Unlock()
	} else if w.settings.EpsilonChecksCounter > 0 && current.IsPlayoutNode() &&
		w.rng.Intn(w.settings.EpsilonChecksCounter) == 0 {
		current = w.getStartingNode(current, description)
		current.Lock()
		childIdx = w.selectEnhancedMove(current)
		if childIdx == noIdx {
			childIdx = w.randomPlayout(current)
		}
		current.Unlock()
	}

	for {
		current.Lock()
		if childIdx == noIdx {
			childIdx = current.SelectChild(params)
		}
		current.ApplyVirtualLossToChild(childIdx, params)
		w.trajectoryBuffer = append(w.trajectoryBuffer, node.Edge{Parent: current, ChildIdx: childIdx})

		next := current.ChildNode(childIdx)
		description.Depth++
		if next == nil {
			var newState game.State
			if w.settings.StoreStates {
				newState = current.State().Clone()
			} else {
				newState = w.rootState.Clone()
				if len(w.actionsBuffer) != description.Depth-1 {
					panic(fmt.Sprintf("search: action buffer holds %d actions at depth %d",
						len(w.actionsBuffer), description.Depth))
				}
				for _, action := range w.actionsBuffer {
					newState.DoAction(action)
				}
			}
			newState.DoAction(current.Action(childIdx))
			current.IncrementNoVisitIdx()
			next, description.Type = w.addNewNodeToTree(newState, current, childIdx)
			current.Unlock()

			if description.Type == node.BackupNewNode {
				if w.settings.RolloutMode {
					value := newState.RandomRollout(w.rng)
					next.Lock()
					next.SetUniformPriors()
					next.SetValue(value)
					next.Unlock()
					next.EnableHasNNResults()
				} else {
					mirror := newState.MirrorPolicy(newState.SideToMove())
					offset := w.newNodes.Len() * w.planeStride
					newState.StatePlanes(mirror, w.inputPlanes[offset:offset+w.planeStride], w.settings.PlanesVersion)
					phase := newState.Phase(w.settings.PhaseCount, w.settings.PhaseDefinition)
					w.phaseCountMap[phase]++
					w.newSideToMove.Add(newState.SideToMove())
				}
			}
			return next
		}
		if next.IsTerminal() {
			description.Type = node.BackupTerminal
			current.Unlock()
			return next
		}
		if !next.HasNNResults() {
			// another worker holds this leaf; its virtual loss is undone
			// by the collision backup
			description.Type = node.BackupCollision
			current.Unlock()
			return next
		}
		if next.IsTransposition() {
			next.Lock()
			transposVisits := current.RealVisits(childIdx, params)
			transposQ := current.TranspositionQValue(params, childIdx, transposVisits)
			if next.IsTranspositionReturn(transposVisits) {
				backupValue := node.TranspositionBackupValue(transposVisits, transposQ, next.Value())
				next.Unlock()
				description.Type = node.BackupTransposition
				w.transpositionValues.Add(backupValue)
				current.Unlock()
				return next
			}
			next.Unlock()
		}
		current.Unlock()
		if !w.settings.StoreStates {
			w.actionsBuffer = append(w.actionsBuffer, current.Action(childIdx))
		}
		current = next
		childIdx = noIdx
	}
}

// addNewNodeToTree attaches the new position below parent, consulting the
// transposition index. On a hit, the shared node's value is queued for the
// transposition backup.
func (w *Worker) addNewNodeToTree(newState game.State, parent *node.Node, childIdx int) (*node.Node, node.Backup) {
	child, backup := parent.AddChild(w.table, newState, childIdx, &w.settings.Params, w.settings.StoreStates)
	if backup == node.BackupTransposition {
		child.Lock()
		qValue := child.Value()
		child.Unlock()
		w.transpositionValues.Add(qValue)
	}
	return child, backup
}

// randomDepth draws the prelude starting depth: d = ceil(-log2(1-u) - 1),
// a geometric-like distribution with P(d=0) = 0.5.
func (w *Worker) randomDepth() int {
	u := float64(w.rng.Intn(100)+1) / 100
	if u >= 1 {
		return preludeDepthCap
	}
	d := int(math.Ceil(-math.Log2(1-u) - 1))
	if d > preludeDepthCap {
		d = preludeDepthCap
	}
	return d
}

// getStartingNode drops to a node at random depth along the greedy path,
// stopping early when the path runs out of well-visited unsolved nodes.
func (w *Worker) getStartingNode(current *node.Node, description *NodeDescription) *node.Node {
	depth := w.randomDepth()
	for d := 0; d < depth; d++ {
		current.Lock()
		childIdx := current.BestChildIdx()
		next := current.ChildNode(childIdx)
		usable := next != nil
		if usable {
			next.Lock()
			usable = next.IsPlayoutNode() &&
				next.Visits() >= float32(w.settings.EpsilonGreedyCounter) &&
				next.Type() == node.Unsolved
			next.Unlock()
		}
		if !usable {
			current.Unlock()
			break
		}
		action := current.Action(childIdx)
		current.Unlock()
		w.actionsBuffer = append(w.actionsBuffer, action)
		current = next
		description.Depth++
	}
	return current
}

// randomPlayout picks an exploration child: the next unvisited slot while
// one exists, otherwise a uniformly random slot; when that slot holds a
// solved child it returns noIdx instead. Caller holds the node lock.
func (w *Worker) randomPlayout(current *node.Node) int {
	if current.FullyExpanded() {
		idx := w.rng.Intn(current.NumChildren())
		child := current.ChildNode(idx)
		if child == nil || !child.IsPlayoutNode() {
			return idx
		}
		child.Lock()
		unsolved := child.Type() == node.Unsolved
		child.Unlock()
		if unsolved {
			return idx
		}
		return noIdx
	}
	idx := current.NoVisitIdx()
	if idx > current.NumChildren()-1 {
		idx = current.NumChildren() - 1
	}
	current.IncrementNoVisitIdx()
	return idx
}

// selectEnhancedMove returns the first unvisited child whose move gives
// check, advancing the unvisited cursor past it. A node whose scan finds no
// check is marked inspected and is not scanned again. Caller holds the node
// lock.
func (w *Worker) selectEnhancedMove(current *node.Node) int {
	if current.IsPlayoutNode() && !current.WasInspected() && !current.IsTerminal() {
		pos := w.rootState.Clone()
		for _, action := range w.actionsBuffer {
			pos.DoAction(action)
		}

		for childIdx := current.NoVisitIdx(); childIdx < current.NumChildren(); childIdx++ {
			if pos.GivesCheck(current.Action(childIdx)) {
				for idx := current.NoVisitIdx(); idx < childIdx+1; idx++ {
					current.IncrementNoVisitIdx()
				}
				return childIdx
			}
		}
		current.SetInspected()
	}
	return noIdx
}

// selectNNIndex routes the batch to the network of the majority game phase
// observed among its new leaves. Ties break toward the lower phase.
func (w *Worker) selectNNIndex() int {
	if len(w.nets) == 1 {
		return 0
	}
	majority := game.Phase(0)
	bestCount := -1
	for p := 0; p < w.settings.PhaseCount; p++ {
		phase := game.Phase(p)
		if count := w.phaseCountMap[phase]; count > bestCount {
			bestCount = count
			majority = phase
		}
	}
	clear(w.phaseCountMap)
	return w.phaseToNetIdx[majority]
}

// setNNResultsToChildNodes applies the batch outputs to the new leaves:
// priors, move enhancement, temperature, value, then the publication flag.
func (w *Worker) setNNResultsToChildNodes() {
	params := &w.settings.Params
	isPolicyMap := w.nets[0].IsPolicyMap()
	for b := 0; b < w.newNodes.Len(); b++ {
		n := w.newNodes.Get(b)
		mirror := w.rootState.MirrorPolicy(w.newSideToMove.Get(b))
		policy := w.probOutputs[b*w.policySize : (b+1)*w.policySize]
		// the node lock keeps the value write consistent with readers that
		// reached this leaf as a transposition
		n.Lock()
		n.SetProbabilities(policy, mirror, isPolicyMap)
		n.EnhanceMoves(params)
		n.ApplyTemperature(params.PolicyTemperature)
		w.assignValue(n, w.valueOutputs[b])
		n.Unlock()
		n.EnableHasNNResults()
	}
}

// assignValue sets the leaf value, averaging a non-draw tablebase entry
// with the network estimate while the root itself is in tablebase range.
func (w *Worker) assignValue(n *node.Node, value float32) {
	if w.settings.TablebaseSupport && n.IsTablebase() {
		w.stats.TBHits.Add(1)
		if n.Value() != 0 && w.rootNode.IsTablebase() {
			n.SetValue((value + n.Value()) * 0.5)
		}
		return
	}
	n.SetValue(value)
}

// backupValueOutputs propagates the evaluated leaf values and the fused
// transposition values, then resets the batch buffers.
func (w *Worker) backupValueOutputs() {
	params := &w.settings.Params
	for i := 0; i < w.newNodes.Len(); i++ {
		n := w.newNodes.Get(i)
		solveForTerminal := false
		if w.settings.TablebaseSupport {
			solveForTerminal = w.settings.SolverEnabled && n.IsTablebase()
		}
		n.Lock()
		value := n.Value()
		n.Unlock()
		node.BackupValue(w.newTrajectories[i], value, params, solveForTerminal)
	}
	w.newNodes.Reset()
	w.newSideToMove.Reset()
	w.newTrajectories = w.newTrajectories[:0]

	for i := 0; i < w.transpositionValues.Len(); i++ {
		node.BackupValue(w.transpositionTrajectories[i], w.transpositionValues.Get(i), params, false)
	}
	w.transpositionValues.Reset()
	w.transpositionTrajectories = w.transpositionTrajectories[:0]
}

// backupCollisions reverts the virtual loss of every collision trajectory.
func (w *Worker) backupCollisions() {
	params := &w.settings.Params
	for _, trajectory := range w.collisionTrajectories {
		node.BackupCollision(trajectory, params)
	}
	w.collisionTrajectories = w.collisionTrajectories[:0]
}

// nodesLimitsOK checks the three independent node caps; zero means
// unbounded.
func (w *Worker) nodesLimitsOK() bool {
	nodes := w.table.NodeCount()
	return (w.limits.Nodes == 0 || nodes < w.limits.Nodes) &&
		(w.limits.Simulations == 0 || uint64(w.rootNode.VisitsAtomic()) < w.limits.Simulations) &&
		(w.limits.NodesLimit == 0 || nodes < w.limits.NodesLimit)
}

// isRootUnsolved reports whether the root still needs search. With
// tablebase support, tablebase-proven roots keep searching for the best
// conversion.
func (w *Worker) isRootUnsolved() bool {
	t := w.rootNode.SolverStatus()
	if w.settings.TablebaseSupport {
		return t == node.Unsolved || t.Tablebase()
	}
	return t == node.Unsolved
}
