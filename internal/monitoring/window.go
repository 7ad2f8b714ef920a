package monitoring

import "github.com/John-MustangGT/raven-uptime/internal/database"

// OutcomeWindow is a fixed-capacity ring of raw probe outcomes. Pushing into
// a full window evicts the oldest entry.
type OutcomeWindow struct {
	buf   []database.Status
	start int
	size  int
}

// NewOutcomeWindow builds a window of the given capacity seeded with the
// newest entries of initial (oldest first).
func NewOutcomeWindow(capacity int, initial []database.Status) *OutcomeWindow {
	if capacity < 1 {
		capacity = 1
	}
	w := &OutcomeWindow{buf: make([]database.Status, capacity)}
	if len(initial) > capacity {
		initial = initial[len(initial)-capacity:]
	}
	for _, s := range initial {
		w.Push(s)
	}
	return w
}

func (w *OutcomeWindow) Push(s database.Status) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = s
		w.size++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

func (w *OutcomeWindow) Len() int { return w.size }
func (w *OutcomeWindow) Cap() int { return len(w.buf) }

// Recent returns the newest n entries, oldest first. It returns fewer when
// the window holds fewer.
func (w *OutcomeWindow) Recent(n int) []database.Status {
	if n > w.size {
		n = w.size
	}
	if n < 0 {
		n = 0
	}
	out := make([]database.Status, n)
	offset := w.size - n
	for i := 0; i < n; i++ {
		out[i] = w.buf[(w.start+offset+i)%len(w.buf)]
	}
	return out
}

// Slice returns the whole window, oldest first.
func (w *OutcomeWindow) Slice() []database.Status {
	return w.Recent(w.size)
}
