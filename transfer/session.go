// Package transfer uploads and downloads files as independently transferred chunks.
//
// A Session owns a FIFO upload queue with a global cap on concurrently uploaded files.
// Each admitted file becomes a Job that initializes a transfer on the backend and
// uploads all of its chunks at once. Progress and lifecycle events are delivered to a Sink.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bitrise-io/go-chunktransfer/transfer/chunkplan"
	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ConfirmFunc asks the user whether a transfer may be deleted.
type ConfirmFunc func(id network.FileID) bool

// Option configures a Session.
type Option func(*Session)

// WithConcurrencyCap sets how many files are uploaded at once. Values below 1 select DefaultConcurrency.
func WithConcurrencyCap(n int) Option {
	return func(s *Session) {
		s.capacity = n
	}
}

// WithCancelSiblingsOnFailure cancels the chunks still in flight when a chunk of the same file fails.
// By default they run to completion and their results are ignored.
func WithCancelSiblingsOnFailure(cancel bool) Option {
	return func(s *Session) {
		s.cancelSiblings = cancel
	}
}

// WithLogger ...
func WithLogger(logger log.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithAnalytics enqueues transfer events to tracker.
func WithAnalytics(tracker analytics.Tracker) Option {
	return func(s *Session) {
		s.analytics = newTransferTracker(tracker)
	}
}

// Session coordinates the uploads, downloads and deletions of one client.
type Session struct {
	client         network.Client
	logger         log.Logger
	analytics      transferTracker
	capacity       int
	cancelSiblings bool

	events     *dispatcher
	queue      *Queue
	downloader *Downloader
	background sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSession starts a session. Close must be called to release its event goroutine.
func NewSession(client network.Client, sink Sink, opts ...Option) *Session {
	s := &Session{
		client: client,
		logger: log.NewLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.events = newDispatcher(sink)
	s.queue = newQueue(s.capacity, s.events, s.logger, s.runJob)
	s.downloader = &Downloader{
		client:    client,
		logger:    s.logger,
		emit:      s.events.progress,
		analytics: s.analytics,
	}

	return s
}

// Queue exposes the upload queue, mostly for inspection.
func (s *Session) Queue() *Queue {
	return s.queue
}

// Enqueue queues files for upload. Empty files are rejected with chunkplan.ErrEmptyFile,
// the other files of the call are still queued.
func (s *Session) Enqueue(files ...*File) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	accepted := make([]*File, 0, len(files))
	var errs []error
	for _, f := range files {
		if f.Size == 0 {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, chunkplan.ErrEmptyFile))
			if err := f.close(); err != nil {
				s.logger.Warnf("Failed to close %s: %s", f.Name, err)
			}
			continue
		}
		accepted = append(accepted, f)
	}
	s.queue.Enqueue(accepted...)

	return errors.Join(errs...)
}

// Wait blocks until the queue is idle and every event up to that point reached the sink.
func (s *Session) Wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.queue.Idle():
		}

		if err := s.events.flush(ctx); err != nil {
			return err
		}

		// The sink may have queued more files while handling the last events.
		select {
		case <-s.queue.Idle():
			return nil
		default:
		}
	}
}

// Close rejects further work, waits for queued uploads and background chunk uploads,
// then stops event delivery and flushes analytics.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Wait(ctx)
	if err == nil {
		done := make(chan struct{})
		go func() {
			s.background.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	s.events.close()
	s.analytics.wait()

	return err
}

// RequestDelete deletes a stored transfer after confirm approves it.
// A declined confirmation returns false without contacting the backend. A nil confirm deletes unconditionally.
func (s *Session) RequestDelete(ctx context.Context, id network.FileID, confirm ConfirmFunc) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if confirm != nil && !confirm(id) {
		s.logger.Infof("Deletion of %s cancelled", id)
		return false, nil
	}

	if err := s.client.DeleteTransfer(ctx, id); err != nil {
		return false, err
	}
	s.logger.Donef("Deleted %s", id)

	return true, nil
}

// Download reassembles a stored transfer into w.
func (s *Session) Download(ctx context.Context, req DownloadRequest, w io.Writer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.downloader.Download(ctx, req, w)
}

// RequestDownload saves a stored transfer to saveAs. The file only appears once every chunk
// has been fetched; on failure nothing is left behind.
func (s *Session) RequestDownload(ctx context.Context, req DownloadRequest, saveAs string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(saveAs), "."+filepath.Base(saveAs)+".*.part")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	removeTmp := func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			s.logger.Warnf("Failed to remove %s: %s", tmp.Name(), err)
		}
	}

	if err := s.downloader.Download(ctx, req, tmp); err != nil {
		_ = tmp.Close()
		removeTmp()
		return err
	}
	if err := tmp.Close(); err != nil {
		removeTmp()
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), saveAs); err != nil {
		removeTmp()
		return fmt.Errorf("move download to %s: %w", saveAs, err)
	}

	return nil
}

// ResolveDownload looks up the chunk layout of a completed transfer.
func (s *Session) ResolveDownload(ctx context.Context, id network.FileID) (DownloadRequest, error) {
	lister, ok := s.client.(network.Lister)
	if !ok {
		return DownloadRequest{}, ErrListUnsupported
	}

	info, err := lister.Stat(ctx, id)
	if err != nil {
		return DownloadRequest{}, err
	}
	if !info.Completed {
		return DownloadRequest{}, fmt.Errorf("transfer %s is not complete (%d/%d chunks uploaded)", id, info.UploadedChunks, info.TotalChunks)
	}

	chunkSize := info.ChunkSize
	if chunkSize == 0 {
		chunkSize = network.DefaultChunkSize
	}
	return DownloadRequest{
		FileID:      id,
		FileName:    info.FileName,
		ChunkSize:   chunkSize,
		TotalChunks: info.TotalChunks,
	}, nil
}

// List returns the transfers known to the backend.
func (s *Session) List(ctx context.Context) ([]network.TransferInfo, error) {
	lister, ok := s.client.(network.Lister)
	if !ok {
		return nil, ErrListUnsupported
	}
	return lister.List(ctx)
}

func (s *Session) runJob(file *File, release func()) {
	job := &Job{
		file:           file,
		client:         s.client,
		events:         s.events,
		analytics:      s.analytics,
		logger:         s.logger,
		cancelSiblings: s.cancelSiblings,
		background:     &s.background,
		release:        release,
	}
	// Failures reach the sink as FileFailed events.
	_ = job.Run(context.Background())
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}
