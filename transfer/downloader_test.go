package transfer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bitrise-io/go-chunktransfer/transfer/chunkplan"
	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-chunktransfer/transfer/progress"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
)

// seed uploads data to client as chunks of chunkSize without a session.
func seed(t *testing.T, client *fakeClient, name string, data []byte) network.Descriptor {
	t.Helper()
	ctx := context.Background()
	d, err := client.Initialize(ctx, name, "application/octet-stream", uint64(len(data)))
	require.NoError(t, err)
	ranges, err := chunkplan.Plan(uint64(len(data)), d.ChunkSize)
	require.NoError(t, err)
	for _, r := range ranges {
		_, err := client.PutChunk(ctx, d.FileID, r.Index, data[r.Offset:r.End()])
		require.NoError(t, err)
	}
	return d
}

func TestDownloader_ReassemblesInIndexOrder(t *testing.T) {
	client := newFakeClient(7)
	data := testData(50)
	d := seed(t, client, "a.bin", data)

	var snapshots []progress.Snapshot
	downloader := NewDownloader(client, log.NewLogger())
	downloader.emit = func(s progress.Snapshot) { snapshots = append(snapshots, s) }

	var out bytes.Buffer
	err := downloader.Download(context.Background(), DownloadRequest{FileID: d.FileID, ChunkSize: 7, TotalChunks: d.TotalChunks}, &out)
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())

	require.Len(t, snapshots, int(d.TotalChunks))
	last := snapshots[len(snapshots)-1]
	assert.Equal(t, progress.Download, last.Direction)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, uint64(50), last.CompletedBytes)
}

func TestDownloader_Failures(t *testing.T) {
	client := newFakeClient(10)
	d := seed(t, client, "a.bin", testData(25))

	tests := []struct {
		name    string
		req     DownloadRequest
		wantErr error
	}{
		{
			name:    "Zero chunk size",
			req:     DownloadRequest{FileID: d.FileID, TotalChunks: 3},
			wantErr: chunkplan.ErrZeroChunkSize,
		},
		{
			name: "No chunks",
			req:  DownloadRequest{FileID: d.FileID, ChunkSize: 10},
		},
		{
			name:    "Unknown transfer",
			req:     DownloadRequest{FileID: "missing", ChunkSize: 10, TotalChunks: 3},
			wantErr: network.ErrNotFound,
		},
		{
			name:    "Chunk past the end",
			req:     DownloadRequest{FileID: d.FileID, ChunkSize: 10, TotalChunks: 4},
			wantErr: network.ErrNotFound,
		},
		{
			name: "Chunk size does not match the stored chunks",
			req:  DownloadRequest{FileID: d.FileID, ChunkSize: 8, TotalChunks: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := NewDownloader(client, log.NewLogger()).Download(context.Background(), tt.req, &out)

			var reassemblyErr *ReassemblyError
			require.True(t, errors.As(err, &reassemblyErr), "got %v", err)
			assert.Equal(t, tt.req.FileID, reassemblyErr.FileID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Zero(t, out.Len(), "nothing is written on failure")
		})
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errInjected
}

func TestDownloader_WriteFailure(t *testing.T) {
	client := newFakeClient(10)
	d := seed(t, client, "a.bin", testData(25))

	err := NewDownloader(client, log.NewLogger()).Download(context.Background(),
		DownloadRequest{FileID: d.FileID, ChunkSize: 10, TotalChunks: d.TotalChunks}, failingWriter{})
	assert.ErrorIs(t, err, errInjected)
}

// gatedClient holds every GetChunk call until its index is released.
type gatedClient struct {
	*fakeClient

	gates    map[uint32]chan struct{}
	returned map[uint32]chan struct{}

	mu    sync.Mutex
	order []uint32
}

func newGatedClient(client *fakeClient, totalChunks uint32) *gatedClient {
	c := &gatedClient{fakeClient: client, gates: map[uint32]chan struct{}{}, returned: map[uint32]chan struct{}{}}
	for i := uint32(0); i < totalChunks; i++ {
		c.gates[i] = make(chan struct{})
		c.returned[i] = make(chan struct{})
	}
	return c
}

func (c *gatedClient) GetChunk(ctx context.Context, id network.FileID, index uint32) ([]byte, error) {
	<-c.gates[index]
	defer close(c.returned[index])

	data, err := c.fakeClient.GetChunk(ctx, id, index)
	c.mu.Lock()
	c.order = append(c.order, index)
	c.mu.Unlock()
	return data, err
}

func (c *gatedClient) release(t *testing.T, index uint32) {
	t.Helper()
	close(c.gates[index])
	select {
	case <-c.returned[index]:
	case <-time.After(5 * time.Second):
		t.Fatalf("chunk %d was not fetched", index)
	}
}

func TestDownloader_ChunksCompletingOutOfOrder(t *testing.T) {
	fake := newFakeClient(10)
	data := testData(25)
	d := seed(t, fake, "a.bin", data)
	require.Equal(t, uint32(3), d.TotalChunks)

	client := newGatedClient(fake, d.TotalChunks)
	downloader := NewDownloader(client, log.NewLogger())

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- downloader.Download(context.Background(), DownloadRequest{FileID: d.FileID, ChunkSize: 10, TotalChunks: 3}, &out)
	}()

	for _, index := range []uint32{2, 0, 1} {
		client.release(t, index)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not finish")
	}
	assert.Equal(t, []uint32{2, 0, 1}, client.order)
	assert.Equal(t, data, out.Bytes())
}

func TestDownloader_RejectsOversizedLayoutBeforeFetching(t *testing.T) {
	tests := []struct {
		name string
		req  DownloadRequest
	}{
		{
			name: "Too many chunks",
			req:  DownloadRequest{FileID: "1", ChunkSize: 1, TotalChunks: 4000000000},
		},
		{
			name: "Too many bytes",
			req:  DownloadRequest{FileID: "1", ChunkSize: 64 << 20, TotalChunks: 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(10)
			client.getErr = func(index uint32) error {
				t.Errorf("chunk %d fetched for a rejected request", index)
				return errInjected
			}

			var out bytes.Buffer
			err := NewDownloader(client, log.NewLogger()).Download(context.Background(), tt.req, &out)

			var reassemblyErr *ReassemblyError
			require.True(t, errors.As(err, &reassemblyErr), "got %v", err)
			assert.ErrorIs(t, err, ErrDownloadTooLarge)
			assert.Zero(t, out.Len())
		})
	}
}

func TestDownloader_ChecksLayoutAgainstStoredTransfer(t *testing.T) {
	ctx := context.Background()
	client := network.NewBlobClient(memblob.OpenBucket(nil), network.BlobConfig{ChunkSize: 10}, log.NewLogger())
	data := testData(25)

	d, err := client.Initialize(ctx, "a.bin", "application/octet-stream", uint64(len(data)))
	require.NoError(t, err)
	ranges, err := chunkplan.Plan(uint64(len(data)), d.ChunkSize)
	require.NoError(t, err)
	for _, r := range ranges {
		_, err := client.PutChunk(ctx, d.FileID, r.Index, data[r.Offset:r.End()])
		require.NoError(t, err)
	}

	downloader := NewDownloader(client, log.NewLogger())

	var out bytes.Buffer
	err = downloader.Download(ctx, DownloadRequest{FileID: d.FileID, ChunkSize: 10, TotalChunks: 1 << 20}, &out)
	assert.ErrorIs(t, err, ErrLayoutMismatch)
	err = downloader.Download(ctx, DownloadRequest{FileID: d.FileID, ChunkSize: 5, TotalChunks: 3}, &out)
	assert.ErrorIs(t, err, ErrLayoutMismatch)
	assert.Zero(t, out.Len())

	require.NoError(t, downloader.Download(ctx, DownloadRequest{FileID: d.FileID, ChunkSize: 10, TotalChunks: 3}, &out))
	assert.Equal(t, data, out.Bytes())
}
