package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualJobs records admitted files and lets the test finish them.
type manualJobs struct {
	mu       sync.Mutex
	started  []string
	releases map[string]func()
}

func (m *manualJobs) start(f *File, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, f.Name)
	m.releases[f.Name] = release
}

func (m *manualJobs) finish(t *testing.T, name string) {
	t.Helper()
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.releases[name]
		return ok
	}, time.Second, time.Millisecond)

	m.mu.Lock()
	release := m.releases[name]
	delete(m.releases, name)
	m.mu.Unlock()
	release()
}

func (m *manualJobs) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestQueue_AdmitsUpToCapacityInFIFOOrder(t *testing.T) {
	sink := newRecordingSink()
	events := newDispatcher(sink)
	defer events.close()
	jobs := &manualJobs{releases: map[string]func(){}}
	q := newQueue(2, events, log.NewLogger(), jobs.start)

	assert.True(t, isClosed(q.Idle()), "a new queue is idle")

	q.Enqueue(testFile("a", 1), testFile("b", 1), testFile("c", 1), testFile("d", 1))
	assert.False(t, isClosed(q.Idle()))
	pending, active := q.Counts()
	assert.Equal(t, 2, pending)
	assert.Equal(t, 2, active)

	jobs.finish(t, "b")
	pending, active = q.Counts()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 2, active)

	jobs.finish(t, "a")
	jobs.finish(t, "c")
	assert.False(t, isClosed(q.Idle()))
	jobs.finish(t, "d")

	assert.True(t, isClosed(q.Idle()))
	pending, active = q.Counts()
	assert.Zero(t, pending)
	assert.Zero(t, active)

	require.Eventually(t, func() bool { return len(jobs.Started()) == 4 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, jobs.Started())

	require.NoError(t, events.flush(context.Background()))
	assert.Equal(t, []string{"a", "b", "c", "d"}, sink.eventsWithPrefix("started:"))
	delivered := sink.Events()
	assert.Equal(t, "idle", delivered[len(delivered)-1])
	assert.Len(t, sink.eventsWithPrefix("idle"), 1)
}

func TestQueue_EmptyEnqueueKeepsIdle(t *testing.T) {
	events := newDispatcher(nil)
	defer events.close()
	q := newQueue(0, events, log.NewLogger(), func(*File, func()) {})

	q.Enqueue()
	assert.True(t, isClosed(q.Idle()))
	assert.Equal(t, DefaultConcurrency(), q.Capacity())
}
