package transfer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-chunktransfer/transfer/chunkplan"
	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-chunktransfer/transfer/progress"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"
)

// Downloads are reassembled in memory, requests beyond these bounds are rejected
// before anything is fetched or allocated.
const (
	MaxDownloadSize   uint64 = 8 << 30
	MaxDownloadChunks uint32 = 1 << 20
)

// DownloadRequest identifies a stored transfer and the shape of its chunks.
type DownloadRequest struct {
	FileID      network.FileID
	FileName    string
	ChunkSize   uint32
	TotalChunks uint32
}

func (r DownloadRequest) name() string {
	if r.FileName != "" {
		return r.FileName
	}
	return string(r.FileID)
}

// Downloader fetches every chunk of a transfer concurrently and writes them out in index order.
type Downloader struct {
	client    network.Client
	logger    log.Logger
	emit      progress.Emitter
	analytics transferTracker
}

// NewDownloader ...
func NewDownloader(client network.Client, logger log.Logger) *Downloader {
	return &Downloader{client: client, logger: logger}
}

// Download writes the reassembled file to w. Nothing is written unless every chunk arrived,
// so a failure never leaves partial output behind. Failures are reported as *ReassemblyError.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest, w io.Writer) error {
	if req.ChunkSize == 0 {
		return &ReassemblyError{FileID: req.FileID, Err: chunkplan.ErrZeroChunkSize}
	}
	if req.TotalChunks == 0 {
		return &ReassemblyError{FileID: req.FileID, Err: fmt.Errorf("transfer has no chunks")}
	}
	if err := d.checkLayout(ctx, req); err != nil {
		return &ReassemblyError{FileID: req.FileID, Err: err}
	}

	start := time.Now()
	tracker := progress.NewTracker(req.name(), progress.Download, d.emit)
	tracker.Start(req.TotalChunks)

	d.logger.Debugf("Downloading %d chunks of %s", req.TotalChunks, req.name())

	slots := make([][]byte, req.TotalChunks)
	var g errgroup.Group
	for i := uint32(0); i < req.TotalChunks; i++ {
		index := i
		g.Go(func() error {
			data, err := d.client.GetChunk(ctx, req.FileID, index)
			if err != nil {
				return err
			}
			if err := chunkplan.CheckLength(index, req.TotalChunks, req.ChunkSize, len(data)); err != nil {
				return &network.ChunkError{Index: index, Op: "download", Err: err}
			}
			slots[index] = data
			tracker.RecordChunkDone(uint64(len(data)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracker.Fail()
		return &ReassemblyError{FileID: req.FileID, Err: err}
	}

	var size uint64
	for index, data := range slots {
		if _, err := w.Write(data); err != nil {
			tracker.Fail()
			return &ReassemblyError{FileID: req.FileID, Err: fmt.Errorf("write chunk %d: %w", index, err)}
		}
		size += uint64(len(data))
	}

	if err := tracker.Complete(); err != nil {
		return &ReassemblyError{FileID: req.FileID, Err: err}
	}

	took := time.Since(start)
	d.logger.Donef("Downloaded %s (%s) in %s", req.name(), units.HumanSizeWithPrecision(float64(size), 3), took.Round(time.Millisecond))
	d.analytics.logFileDownloaded(took, size, req.TotalChunks)

	return nil
}

// checkLayout bounds the request and, on backends that can describe a transfer,
// verifies that the requested layout matches the stored one.
func (d *Downloader) checkLayout(ctx context.Context, req DownloadRequest) error {
	if req.TotalChunks > MaxDownloadChunks {
		return fmt.Errorf("%w: %d chunks, at most %d are supported", ErrDownloadTooLarge, req.TotalChunks, MaxDownloadChunks)
	}
	// Every chunk but the last is full, so this is the smallest file the layout describes.
	if minSize := uint64(req.TotalChunks-1)*uint64(req.ChunkSize) + 1; minSize > MaxDownloadSize {
		return fmt.Errorf("%w: at least %s, at most %s is supported", ErrDownloadTooLarge,
			units.BytesSize(float64(minSize)), units.BytesSize(float64(MaxDownloadSize)))
	}

	lister, ok := d.client.(network.Lister)
	if !ok {
		return nil
	}
	info, err := lister.Stat(ctx, req.FileID)
	if err != nil {
		return err
	}
	if info.TotalChunks != req.TotalChunks || (info.ChunkSize != 0 && info.ChunkSize != req.ChunkSize) {
		return fmt.Errorf("%w: requested %d chunks of %d bytes, stored as %d chunks of %d bytes", ErrLayoutMismatch,
			req.TotalChunks, req.ChunkSize, info.TotalChunks, info.ChunkSize)
	}
	return nil
}
