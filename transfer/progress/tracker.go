// Package progress tracks the chunk completion of a single file transfer.
package progress

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// State is the lifecycle state of a Tracker.
type State int

const (
	// Idle means Start has not been called yet.
	Idle State = iota
	// Active means chunks are being transferred.
	Active
	// Completed means every chunk was transferred.
	Completed
	// Failed means the transfer was abandoned.
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Direction tells whether a tracked transfer is an upload or a download.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// ErrIncomplete is returned by Complete when not every chunk has been recorded.
var ErrIncomplete = errors.New("not every chunk has been transferred")

// Snapshot is a point-in-time copy of a tracker's counters.
type Snapshot struct {
	FileName        string
	Direction       Direction
	State           State
	CompletedChunks uint32
	TotalChunks     uint32
	CompletedBytes  uint64
	Percent         int
	ThroughputKBps  int64
	Elapsed         time.Duration
}

// Emitter receives a snapshot after every recorded chunk.
// It is called with the tracker's lock held, so it must not call back into the tracker.
type Emitter func(Snapshot)

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker counts completed chunks and bytes of one file.
type Tracker struct {
	mu sync.Mutex

	fileName  string
	direction Direction
	emit      Emitter
	now       func() time.Time

	state     State
	total     uint32
	completed uint32
	bytes     uint64
	startedAt time.Time
}

// NewTracker returns an Idle tracker. emit may be nil.
func NewTracker(fileName string, direction Direction, emit Emitter, opts ...Option) *Tracker {
	t := &Tracker{
		fileName:  fileName,
		direction: direction,
		emit:      emit,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start resets the counters and moves the tracker to Active.
func (t *Tracker) Start(totalChunks uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = Active
	t.total = totalChunks
	t.completed = 0
	t.bytes = 0
	t.startedAt = t.now()
}

// RecordChunkDone adds one finished chunk of the given size and emits a snapshot.
// Calls outside the Active state, or past the total chunk count, are dropped.
func (t *Tracker) RecordChunkDone(bytes uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Active || t.completed >= t.total {
		return false
	}

	t.completed++
	t.bytes += bytes

	if t.emit != nil {
		t.emit(t.snapshotLocked())
	}
	return true
}

// Complete moves an Active tracker whose chunks are all recorded to Completed.
func (t *Tracker) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Active {
		return fmt.Errorf("cannot complete a %s transfer", t.state)
	}
	if t.completed != t.total {
		return fmt.Errorf("%d/%d chunks: %w", t.completed, t.total, ErrIncomplete)
	}
	t.state = Completed
	return nil
}

// Fail moves the tracker to Failed unless it already reached a terminal state.
func (t *Tracker) Fail() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Completed || t.state == Failed {
		return false
	}
	t.state = Failed
	return true
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		FileName:        t.fileName,
		Direction:       t.direction,
		State:           t.state,
		CompletedChunks: t.completed,
		TotalChunks:     t.total,
		CompletedBytes:  t.bytes,
	}
	if t.state == Idle {
		return s
	}

	s.Elapsed = t.now().Sub(t.startedAt)
	if t.total > 0 {
		s.Percent = int(math.Round(100 * float64(t.completed) / float64(t.total)))
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.ThroughputKBps = int64(math.Round(float64(t.bytes) / secs / 1024))
	}
	return s
}
