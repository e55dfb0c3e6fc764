package game

import "math/rand"

// Position is a five-in-a-row position on a square board. It implements
// State and is the reference game used by the benchmark harness and tests.
type Position struct {
	size   int
	cells  []int8 // 0 empty, 1 black, 2 white
	stm    Side
	stones int
	hash   uint64
	over   bool
	drawn  bool
}

// winLength is the number of aligned stones that ends the game.
const winLength = 5

// planesPerPosition is the number of feature planes StatePlanes emits:
// own stones, opponent stones, side to move.
const planesPerPosition = 3

var lineDirs = [4][2]int{{1, 0}, {0, 1}, {1, 1}, {1, -1}}

// NewPosition returns an empty board with black to move.
func NewPosition(size int) *Position {
	if size < winLength {
		panic("game: board smaller than the winning line")
	}
	return &Position{
		size:  size,
		cells: make([]int8, size*size),
	}
}

func (p *Position) Size() int { return p.size }

func (p *Position) Clone() State {
	clone := *p
	clone.cells = make([]int8, len(p.cells))
	copy(clone.cells, p.cells)
	return &clone
}

func (p *Position) cellOwner(x, y int) int8 {
	if x < 0 || x >= p.size || y < 0 || y >= p.size {
		return 0
	}
	return p.cells[y*p.size+x]
}

// lineLength counts the contiguous run of stones owned by stone through
// (x, y) along (dx, dy), including the stone at (x, y) itself.
func (p *Position) lineLength(x, y, dx, dy int, stone int8) int {
	run := 1
	for i := 1; ; i++ {
		if p.cellOwner(x+dx*i, y+dy*i) != stone {
			break
		}
		run++
	}
	for i := 1; ; i++ {
		if p.cellOwner(x-dx*i, y-dy*i) != stone {
			break
		}
		run++
	}
	return run
}

func stoneFor(side Side) int8 {
	if side == Black {
		return 1
	}
	return 2
}

func (p *Position) DoAction(action Action) {
	cell := int(action)
	if cell < 0 || cell >= len(p.cells) || p.cells[cell] != 0 || p.over {
		panic("game: illegal action")
	}
	stone := stoneFor(p.stm)
	p.cells[cell] = stone
	p.stones++
	z := getZobrist(p.size)
	p.hash ^= z.stone(cell, p.stm)

	x, y := cell%p.size, cell/p.size
	for _, d := range lineDirs {
		if p.lineLength(x, y, d[0], d[1], stone) >= winLength {
			p.over = true
			break
		}
	}
	if !p.over && p.stones == len(p.cells) {
		p.over = true
		p.drawn = true
	}

	p.stm = p.stm.Flip()
	p.hash ^= z.side
}

func (p *Position) LegalActions() []Action {
	if p.over {
		return nil
	}
	actions := make([]Action, 0, len(p.cells)-p.stones)
	for i, c := range p.cells {
		if c == 0 {
			actions = append(actions, Action(i))
		}
	}
	return actions
}

// GivesCheck reports whether placing the mover's stone at action creates a
// run of four or more, threatening to complete the winning line next turn.
func (p *Position) GivesCheck(action Action) bool {
	cell := int(action)
	if cell < 0 || cell >= len(p.cells) || p.cells[cell] != 0 || p.over {
		return false
	}
	stone := stoneFor(p.stm)
	p.cells[cell] = stone
	x, y := cell%p.size, cell/p.size
	check := false
	for _, d := range lineDirs {
		if p.lineLength(x, y, d[0], d[1], stone) >= winLength-1 {
			check = true
			break
		}
	}
	p.cells[cell] = 0
	return check
}

func (p *Position) StatePlanes(mirror bool, out []float32, version int) {
	_ = version // plane format v1 is the only one
	n := p.size * p.size
	if len(out) < planesPerPosition*n {
		panic("game: plane buffer too small")
	}
	own := stoneFor(p.stm)
	for i := 0; i < n; i++ {
		src := i
		if mirror {
			// flip rows so the mover always looks "up" the board
			x, y := i%p.size, i/p.size
			src = (p.size-1-y)*p.size + x
		}
		out[i] = 0
		out[n+i] = 0
		switch p.cells[src] {
		case own:
			out[i] = 1
		case 0:
		default:
			out[n+i] = 1
		}
		out[2*n+i] = float32(p.stm)
	}
}

func (p *Position) NumPlaneValues() int { return planesPerPosition * p.size * p.size }

func (p *Position) PolicySize() int { return p.size * p.size }

func (p *Position) SideToMove() Side { return p.stm }

// MirrorPolicy is false for this game: the planes already encode stones
// relative to the side to move, so no policy mirroring is needed.
func (p *Position) MirrorPolicy(side Side) bool {
	_ = side
	return false
}

func (p *Position) Phase(numPhases int, def PhaseDefinition) Phase {
	_ = def // PhaseByStoneCount is the only definition
	if numPhases <= 1 {
		return PhaseOpening
	}
	filled := float64(p.stones) / float64(len(p.cells))
	var phase Phase
	switch {
	case filled < 0.25:
		phase = PhaseOpening
	case filled < 0.625:
		phase = PhaseMidgame
	default:
		phase = PhaseEndgame
	}
	if int(phase) >= numPhases {
		phase = Phase(numPhases - 1)
	}
	return phase
}

func (p *Position) Terminal() bool { return p.over }

// TerminalValue is from the side to move: the player who completed the
// line has already moved, so a decided game is always a loss for the mover.
func (p *Position) TerminalValue() float32 {
	if !p.over || p.drawn {
		return 0
	}
	return -1
}

func (p *Position) Hash() uint64 { return p.hash }

func (p *Position) RandomRollout(rng *rand.Rand) float32 {
	playout := p.Clone().(*Position)
	plies := 0
	for !playout.over {
		actions := playout.LegalActions()
		playout.DoAction(actions[rng.Intn(len(actions))])
		plies++
	}
	value := playout.TerminalValue()
	if plies%2 == 1 {
		value = -value
	}
	return value
}
