package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversInPostOrder(t *testing.T) {
	sink := newRecordingSink()
	d := newDispatcher(sink)

	var want []string
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("f%d", i)
		d.fileStarted(name)
		d.fileSucceeded(name)
		want = append(want, "started:"+name, "succeeded:"+name)
	}
	d.queueIdle()
	want = append(want, "idle")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.flush(ctx))
	assert.Equal(t, want, sink.Events())

	d.close()
}

func TestDispatcher_FlushHonoursContext(t *testing.T) {
	release := make(chan struct{})
	sink := newRecordingSink()
	sink.onIdle = func() { <-release }
	d := newDispatcher(sink)
	defer d.close()
	defer close(release)

	d.queueIdle()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.flush(ctx), context.DeadlineExceeded)
}

func TestDispatcher_DropsEventsAfterClose(t *testing.T) {
	sink := newRecordingSink()
	d := newDispatcher(sink)
	d.fileStarted("a")
	d.close()
	d.fileStarted("b")

	assert.Equal(t, []string{"started:a"}, sink.Events())
	assert.NoError(t, d.flush(context.Background()))
}

func TestDispatcher_NilSink(t *testing.T) {
	d := newDispatcher(nil)
	d.fileStarted("a")
	d.close()
}
