package transfer

import (
	"context"
	"sync"

	"github.com/bitrise-io/go-chunktransfer/transfer/progress"
)

type event func(Sink)

// dispatcher delivers sink events in the order they were posted from one goroutine.
// Posting never blocks, so it is safe under the queue and tracker locks.
type dispatcher struct {
	sink Sink

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []event
	pending int
	closed  bool
	done    chan struct{}
}

func newDispatcher(sink Sink) *dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	d := &dispatcher{
		sink: sink,
		done: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) post(ev event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.queue = append(d.queue, ev)
	d.pending++
	d.cond.Broadcast()
}

func (d *dispatcher) fileStarted(name string) {
	d.post(func(s Sink) { s.FileStarted(name) })
}

func (d *dispatcher) progress(snapshot progress.Snapshot) {
	d.post(func(s Sink) { s.Progress(snapshot) })
}

func (d *dispatcher) fileSucceeded(name string) {
	d.post(func(s Sink) { s.FileSucceeded(name) })
}

func (d *dispatcher) fileFailed(name string, err error) {
	d.post(func(s Sink) { s.FileFailed(name, err) })
}

func (d *dispatcher) queueIdle() {
	d.post(func(s Sink) { s.QueueIdle() })
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		ev(d.sink)

		d.mu.Lock()
		d.pending--
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

// flush blocks until every event posted so far has been delivered.
func (d *dispatcher) flush(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		d.mu.Lock()
		for d.pending > 0 {
			d.cond.Wait()
		}
		d.mu.Unlock()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close delivers the queued events and stops the delivery goroutine. Later posts are dropped.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()

	<-d.done
}
