package monitoring

import "github.com/John-MustangGT/raven-uptime/internal/database"

// TransitionEngine applies the flap-damping rule to a monitor's published
// status. It holds no state of its own: the outcome window lives on the
// monitor and is persisted with it.
type TransitionEngine struct{}

// debounce returns the effective threshold and window size for a monitor.
func debounce(mon *database.Monitor) (n, m int) {
	n, m = mon.N, mon.M
	if n < 1 {
		n = 1
	}
	if m < n {
		m = n
	}
	return n, m
}

// Apply records outcome in the monitor's window and reports whether the
// published status changed. The monitor is mutated in place; the caller
// persists it.
func (TransitionEngine) Apply(mon *database.Monitor, outcome database.Status) bool {
	n, m := debounce(mon)

	window := NewOutcomeWindow(m, mon.LastStatuses)
	window.Push(outcome)
	mon.LastStatuses = window.Slice()

	switch mon.Status {
	case database.StatusInitializing, database.StatusPaused, "":
		mon.Status = outcome
		return true
	}

	recent := window.Recent(n)
	if len(recent) < n {
		return false
	}
	for _, s := range recent {
		if s == mon.Status {
			return false
		}
	}
	if outcome == mon.Status {
		return false
	}

	mon.Status = outcome
	return true
}
