package monitoring

import (
	"reflect"
	"testing"

	"github.com/John-MustangGT/raven-uptime/internal/database"
)

const (
	up   = database.StatusUp
	down = database.StatusDown
)

func TestOutcomeWindowEvictsOldestFirst(t *testing.T) {
	w := NewOutcomeWindow(3, nil)
	for _, s := range []database.Status{up, up, down, down} {
		w.Push(s)
	}
	if w.Len() != 3 {
		t.Fatalf("len = %d, want 3", w.Len())
	}
	if got, want := w.Slice(), []database.Status{up, down, down}; !reflect.DeepEqual(got, want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
	if got, want := w.Recent(2), []database.Status{down, down}; !reflect.DeepEqual(got, want) {
		t.Fatalf("recent = %v, want %v", got, want)
	}
	if got := w.Recent(10); len(got) != 3 {
		t.Fatalf("recent beyond size returned %d entries", len(got))
	}
}

func TestOutcomeWindowSeedKeepsNewest(t *testing.T) {
	w := NewOutcomeWindow(2, []database.Status{down, up, down})
	if got, want := w.Slice(), []database.Status{up, down}; !reflect.DeepEqual(got, want) {
		t.Fatalf("window = %v, want %v", got, want)
	}
}

func TestInitializingAdoptsFirstOutcome(t *testing.T) {
	for _, outcome := range []database.Status{up, down} {
		mon := &database.Monitor{Status: database.StatusInitializing, N: 3, M: 5}
		if !(TransitionEngine{}).Apply(mon, outcome) {
			t.Fatalf("first outcome %s not reported as change", outcome)
		}
		if mon.Status != outcome {
			t.Fatalf("status = %s, want %s", mon.Status, outcome)
		}
	}
}

func TestPausedMonitorBootstrapsOnResume(t *testing.T) {
	mon := &database.Monitor{Status: database.StatusPaused, N: 3, M: 5, LastStatuses: []database.Status{up, up}}
	if !(TransitionEngine{}).Apply(mon, down) || mon.Status != down {
		t.Fatalf("paused monitor status = %s", mon.Status)
	}
}

func TestThreeConsecutiveDownsFlip(t *testing.T) {
	mon := &database.Monitor{Status: up, N: 3, M: 5, LastStatuses: []database.Status{up, up}}
	engine := TransitionEngine{}

	if engine.Apply(mon, down) || engine.Apply(mon, down) {
		t.Fatal("flipped before threshold")
	}
	if !engine.Apply(mon, down) {
		t.Fatal("third consecutive down did not flip")
	}
	if mon.Status != down {
		t.Fatalf("status = %s, want down", mon.Status)
	}
}

func TestInterruptedRunDoesNotFlip(t *testing.T) {
	mon := &database.Monitor{Status: up, N: 3, M: 5}
	engine := TransitionEngine{}

	for _, s := range []database.Status{down, down, up} {
		if engine.Apply(mon, s) {
			t.Fatalf("unexpected flip on %s", s)
		}
	}
	if mon.Status != up {
		t.Fatalf("status = %s, want up", mon.Status)
	}
	// The run restarts after the interruption.
	engine.Apply(mon, down)
	engine.Apply(mon, down)
	if !engine.Apply(mon, down) || mon.Status != down {
		t.Fatal("fresh run of three downs did not flip")
	}
}

func TestTooFewSamplesNeverFlips(t *testing.T) {
	mon := &database.Monitor{Status: up, N: 4, M: 4}
	engine := TransitionEngine{}
	for i := 0; i < 3; i++ {
		if engine.Apply(mon, down) {
			t.Fatalf("flipped with %d samples", i+1)
		}
	}
}

func TestAgreeingOutcomeIsNotAChange(t *testing.T) {
	mon := &database.Monitor{Status: down, N: 1, M: 1}
	if (TransitionEngine{}).Apply(mon, down) {
		t.Fatal("same status reported as change")
	}
	if !(TransitionEngine{}).Apply(mon, up) || mon.Status != up {
		t.Fatal("n=1 should flip on first disagreement")
	}
}

func TestWindowNeverExceedsM(t *testing.T) {
	mon := &database.Monitor{Status: database.StatusInitializing, N: 2, M: 4}
	engine := TransitionEngine{}
	seq := []database.Status{up, down, up, down, down, up, up, down, up}
	for i, s := range seq {
		engine.Apply(mon, s)
		if len(mon.LastStatuses) > mon.M {
			t.Fatalf("after %d outcomes window has %d entries", i+1, len(mon.LastStatuses))
		}
	}
	if want := seq[len(seq)-4:]; !reflect.DeepEqual(mon.LastStatuses, want) {
		t.Fatalf("window = %v, want %v", mon.LastStatuses, want)
	}
}
