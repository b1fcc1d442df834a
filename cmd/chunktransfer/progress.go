package main

import (
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-chunktransfer/transfer/progress"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/schollz/progressbar/v3"
)

// progressSink renders one bar for a whole batch of transfers.
// Sink callbacks are serialized by the session, so it needs no locking.
type progressSink struct {
	bar    *progressbar.ProgressBar
	logger log.Logger

	completed map[string]uint64
	succeeded []string
	failures  map[string]error
}

// newProgressSink creates a bar for totalBytes. A non-positive total renders a spinner.
func newProgressSink(w io.Writer, operation string, totalBytes int64, logger log.Logger) *progressSink {
	if totalBytes <= 0 {
		totalBytes = -1
	}
	bar := progressbar.NewOptions64(totalBytes,
		progressbar.OptionSetDescription(operation),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)

	return &progressSink{
		bar:       bar,
		logger:    logger,
		completed: map[string]uint64{},
		failures:  map[string]error{},
	}
}

func (s *progressSink) FileStarted(name string) {
	s.bar.Describe(name)
}

func (s *progressSink) Progress(snapshot progress.Snapshot) {
	s.completed[snapshot.FileName] = snapshot.CompletedBytes

	var total uint64
	for _, n := range s.completed {
		total += n
	}
	_ = s.bar.Set64(int64(total))
	s.bar.Describe(fmt.Sprintf("%s %d%% (%d/%d chunks, %d KB/s)", snapshot.FileName, snapshot.Percent,
		snapshot.CompletedChunks, snapshot.TotalChunks, snapshot.ThroughputKBps))
}

func (s *progressSink) FileSucceeded(name string) {
	s.succeeded = append(s.succeeded, name)
}

func (s *progressSink) FileFailed(name string, err error) {
	// Progress of a failed file no longer counts.
	delete(s.completed, name)
	s.failures[name] = err

	_ = s.bar.Clear()
	s.logger.Errorf("%s: %s", name, err)
}

func (s *progressSink) QueueIdle() {
	if len(s.failures) == 0 {
		_ = s.bar.Finish()
		return
	}
	_ = s.bar.Exit()
}

// failed returns the number of failed transfers. Only call it after the session is idle.
func (s *progressSink) failed() int {
	return len(s.failures)
}
