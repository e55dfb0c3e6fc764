package node

// BackupValue propagates value along the trajectory in reverse descent
// order. value is given from the leaf node's side to move; in two-player
// mode it is negated once per level so every edge receives the value from
// its parent mover's perspective. Each edge update converts one
// outstanding virtual loss back into a real visit.
//
// When solveForTerminal is set, proven outcomes are propagated: a child
// whose subtree is a proven loss for its mover makes the parent a proven
// win, and a parent whose children are all proven becomes proven itself.
func BackupValue(trajectory []Edge, value float32, params *Params, solveForTerminal bool) {
	for i := len(trajectory) - 1; i >= 0; i-- {
		e := trajectory[i]
		if !params.SinglePlayer {
			value = -value
		}
		e.Parent.mu.Lock()
		e.Parent.backupEdgeLocked(e.ChildIdx, value, params)
		if solveForTerminal && params.SolverEnabled {
			e.Parent.updateSolvedLocked(e.ChildIdx, params)
		}
		e.Parent.mu.Unlock()
	}
}

// BackupCollision reverts the virtual loss applied along a collision
// trajectory. No visit or value changes are made.
func BackupCollision(trajectory []Edge, params *Params) {
	for i := len(trajectory) - 1; i >= 0; i-- {
		e := trajectory[i]
		e.Parent.mu.Lock()
		e.Parent.revertVirtualLossLocked(e.ChildIdx, params)
		e.Parent.mu.Unlock()
	}
}

// updateSolvedLocked re-derives this node's solver status after the child
// in slot idx changed. Caller holds the node lock.
func (n *Node) updateSolvedLocked(idx int, params *Params) {
	if n.nodeType.Solved() {
		return
	}
	child := n.children[idx]
	if child == nil || !child.nodeType.Solved() {
		return
	}

	// a proven loss for the child's mover is a proven win for ours
	if child.nodeType == SolvedLoss || child.nodeType == TablebaseLoss {
		if params.TablebaseSupport && child.nodeType.Tablebase() {
			n.nodeType = TablebaseWin
		} else {
			n.nodeType = SolvedWin
		}
		n.value = 1
		return
	}

	// otherwise the node is only decided once every child is proven
	hasDraw := false
	tb := true
	for _, c := range n.children {
		if c == nil || !c.nodeType.Solved() {
			return
		}
		switch c.nodeType {
		case SolvedDraw, TablebaseDraw:
			hasDraw = true
		}
		if !c.nodeType.Tablebase() {
			tb = false
		}
	}
	if hasDraw {
		if params.TablebaseSupport && tb {
			n.nodeType = TablebaseDraw
		} else {
			n.nodeType = SolvedDraw
		}
		n.value = 0
		return
	}
	// every reply is a proven win for the opponent
	if params.TablebaseSupport && tb {
		n.nodeType = TablebaseLoss
	} else {
		n.nodeType = SolvedLoss
	}
	n.value = -1
}
