package transfer

import (
	"runtime"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

const fallbackConcurrency = 4

// DefaultConcurrency returns the number of files uploaded at once when no cap is configured:
// the number of logical CPUs, or 4 when that is unknown.
func DefaultConcurrency() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return fallbackConcurrency
}

// Queue admits files in FIFO order while fewer than capacity jobs are active.
// Completion order is not constrained.
type Queue struct {
	capacity int
	events   *dispatcher
	logger   log.Logger
	start    func(f *File, release func())

	mu      sync.Mutex
	pending []*File
	active  int
	idle    chan struct{}
}

func newQueue(capacity int, events *dispatcher, logger log.Logger, start func(*File, func())) *Queue {
	if capacity <= 0 {
		capacity = DefaultConcurrency()
	}
	idle := make(chan struct{})
	close(idle)

	return &Queue{
		capacity: capacity,
		events:   events,
		logger:   logger,
		start:    start,
		idle:     idle,
	}
}

// Capacity ...
func (q *Queue) Capacity() int {
	return q.capacity
}

// Enqueue appends files to the pending list and admits as many as the cap allows.
func (q *Queue) Enqueue(files ...*File) {
	if len(files) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isIdleLocked() {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, files...)
	q.logger.Debugf("Enqueued %d file(s) [pending=%d] [active=%d/%d]", len(files), len(q.pending), q.active, q.capacity)

	q.admitLocked()
}

// Idle returns a channel that is closed once nothing is pending or active.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// Counts returns the number of pending and active files.
func (q *Queue) Counts() (pending, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.active
}

func (q *Queue) admitLocked() {
	for q.active < q.capacity && len(q.pending) > 0 {
		file := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.active++

		q.events.fileStarted(file.Name)
		go q.start(file, q.jobDone)
	}
}

// jobDone frees the slot of a finished job. Jobs call it exactly once.
func (q *Queue) jobDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.active--
	q.admitLocked()

	if len(q.pending) == 0 && q.active == 0 {
		q.pending = nil
		q.events.queueIdle()
		close(q.idle)
	}
}

func (q *Queue) isIdleLocked() bool {
	select {
	case <-q.idle:
		return true
	default:
		return false
	}
}
