package transfer

import (
	"errors"
	"time"

	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-utils/v2/analytics"
)

type transferTracker struct {
	tracker analytics.Tracker
}

func newTransferTracker(tracker analytics.Tracker) transferTracker {
	return transferTracker{tracker: tracker}
}

func (t transferTracker) logFileUploaded(took time.Duration, file *File, chunkCount int, avgChunk time.Duration) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("chunktransfer_file_uploaded", analytics.Properties{
		"upload_time_s":     took.Truncate(time.Second).Seconds(),
		"upload_size_bytes": file.Size,
		"chunk_count":       chunkCount,
		"avg_chunk_time_ms": avgChunk.Milliseconds(),
		"content_type":      file.MimeType,
	})
}

func (t transferTracker) logFileFailed(took time.Duration, file *File, err error) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("chunktransfer_file_failed", analytics.Properties{
		"upload_time_s":     took.Truncate(time.Second).Seconds(),
		"upload_size_bytes": file.Size,
		"error_kind":        errorKind(err),
	})
}

func (t transferTracker) logFileDownloaded(took time.Duration, size uint64, chunkCount uint32) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue("chunktransfer_file_downloaded", analytics.Properties{
		"download_time_s":     took.Truncate(time.Second).Seconds(),
		"download_size_bytes": size,
		"chunk_count":         chunkCount,
	})
}

func (t transferTracker) wait() {
	if t.tracker == nil {
		return
	}
	t.tracker.Wait()
}

func errorKind(err error) string {
	var initErr *network.InitError
	var chunkErr *network.ChunkError
	switch {
	case errors.As(err, &initErr):
		return "init"
	case errors.As(err, &chunkErr):
		return "chunk"
	default:
		return "other"
	}
}
