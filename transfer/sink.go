package transfer

import (
	"github.com/bitrise-io/go-chunktransfer/transfer/progress"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Sink receives the events of a Session. Callbacks arrive one at a time, in order,
// from a single goroutine, so implementations need no locking of their own.
// A sink may enqueue more files but must not call Session.Wait or Session.Close.
type Sink interface {
	FileStarted(name string)
	Progress(snapshot progress.Snapshot)
	FileSucceeded(name string)
	FileFailed(name string, err error)
	QueueIdle()
}

// NopSink ignores every event.
type NopSink struct{}

func (NopSink) FileStarted(string)         {}
func (NopSink) Progress(progress.Snapshot) {}
func (NopSink) FileSucceeded(string)       {}
func (NopSink) FileFailed(string, error)   {}
func (NopSink) QueueIdle()                 {}

// LogSink writes every event to a logger.
type LogSink struct {
	logger log.Logger
}

// NewLogSink ...
func NewLogSink(logger log.Logger) LogSink {
	return LogSink{logger: logger}
}

func (s LogSink) FileStarted(name string) {
	s.logger.Infof("Transfer of %s started", name)
}

func (s LogSink) Progress(snapshot progress.Snapshot) {
	s.logger.Printf("%s: %d%% (%d/%d chunks, %s, %d KB/s)",
		snapshot.FileName, snapshot.Percent, snapshot.CompletedChunks, snapshot.TotalChunks,
		units.HumanSizeWithPrecision(float64(snapshot.CompletedBytes), 3), snapshot.ThroughputKBps)
}

func (s LogSink) FileSucceeded(name string) {
	s.logger.Donef("%s transferred", name)
}

func (s LogSink) FileFailed(name string, err error) {
	s.logger.Errorf("Failed to transfer %s: %s", name, err)
}

func (s LogSink) QueueIdle() {
	s.logger.Infof("All queued transfers finished")
}
