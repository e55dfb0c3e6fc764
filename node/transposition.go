package node

// Transposition support. Two move orders reaching the same position share a
// single node through the Table. When a descent meets a shared node whose
// statistics are fresher than the edge leading to it, the descent stops and
// backs up a fused value instead of re-walking the shared subtree.

// TranspositionQValue is the mean value of the edge with all outstanding
// virtual loss removed, converted to the child's perspective. Caller holds
// the node lock; transposVisits is RealVisits of the same edge.
func (n *Node) TranspositionQValue(params *Params, idx int, transposVisits uint32) float64 {
	if transposVisits == 0 {
		return 0
	}
	sum := n.childValueSums[idx] + float32(n.childVirtual[idx])*params.VirtualLoss
	q := float64(sum) / float64(transposVisits)
	if !params.SinglePlayer {
		q = -q
	}
	return q
}

// IsTranspositionReturn reports whether the fused estimate is usable: the
// shared node has accumulated strictly more visits than the edge pointing
// at it, so it carries information the edge has not seen yet. Caller holds
// this node's lock (and the parent's, per the descent lock order).
func (n *Node) IsTranspositionReturn(transposVisits uint32) bool {
	return n.visitSum > float32(transposVisits)
}

// TranspositionBackupValue is the correction value whose backup moves the
// edge mean onto the shared node's current estimate:
//
//	(n+1)*v - n*q
//
// where n is the edge's real visits, q the edge mean and v the shared
// node's value, all from the child's perspective.
func TranspositionBackupValue(transposVisits uint32, transposQ float64, nodeValue float32) float32 {
	tv := float64(transposVisits)
	return float32((tv+1)*float64(nodeValue) - tv*transposQ)
}
