package monitoring

import "time"

// job is the scheduler's private record for one monitor.
type job struct {
	monitorID string
	interval  time.Duration
	next      time.Time
	inFlight  bool
	// removed marks a job unregistered while its execution was running.
	removed bool
	// gen counts registrations; runGen is gen when the running execution
	// was dispatched.
	gen    uint64
	runGen uint64
	// index in the heap, -1 when not queued.
	index int
}

// jobQueue is a container/heap ordered by next fire time.
type jobQueue []*job

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].monitorID < q[j].monitorID
	}
	return q[i].next.Before(q[j].next)
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x any) {
	j := x.(*job)
	j.index = len(*q)
	*q = append(*q, j)
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*q = old[:n-1]
	return j
}

func (q jobQueue) peek() *job {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
