// Package monitor renders a live terminal view of a running search.
package monitor

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Snapshot is one observation of the search, taken by the polling closure
// the caller provides. All counters are cumulative.
type Snapshot struct {
	Nodes      uint64
	RootVisits float32
	Iterations uint64
	MaxDepth   int
	Done       bool
}

type model struct {
	poll      func() Snapshot
	last      Snapshot
	prev      Snapshot
	prevAt    time.Time
	startTime time.Time
	nps       float64
}

// New builds the bubbletea program. poll is called on every tick and must
// be safe to invoke while workers run (the search counters are atomics).
func New(poll func() Snapshot) *tea.Program {
	m := model{poll: poll, startTime: time.Now(), prevAt: time.Now()}
	return tea.NewProgram(m)
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tickMsg:
		m.prev = m.last
		m.last = m.poll()
		now := time.Time(msg)
		if dt := now.Sub(m.prevAt).Seconds(); dt > 0 {
			m.nps = float64(m.last.Nodes-m.prev.Nodes) / dt
		}
		m.prevAt = now
		if m.last.Done {
			return m, tea.Quit
		}
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)

	s := fmt.Sprintf("Nodes:       %d\n", m.last.Nodes)
	s += fmt.Sprintf("Root Visits: %.0f\n", m.last.RootVisits)
	s += fmt.Sprintf("Iterations:  %d\n", m.last.Iterations)
	s += fmt.Sprintf("Max Depth:   %d\n", m.last.MaxDepth)
	s += fmt.Sprintf("Nodes/s:     %.0f\n", m.nps)
	s += fmt.Sprintf("Duration:    %s\n", duration.Round(time.Second))
	s += "\nPress q to quit.\n"
	return s
}
