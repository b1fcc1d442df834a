// Package network holds the storage backend boundary of a chunked transfer and its adapters.
package network

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultChunkSize is used when a backend does not dictate its own chunk size.
const DefaultChunkSize uint32 = 1024 * 1024

// FileID is the backend assigned identifier of a transfer.
// It decodes from both JSON strings and JSON numbers.
type FileID string

// UnmarshalJSON ...
func (id *FileID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = FileID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("file id must be a string or a number, got %s", b)
	}
	*id = FileID(n.String())
	return nil
}

// Descriptor is what the backend returns when a transfer is initialized.
type Descriptor struct {
	FileID      FileID `json:"fileId"`
	TotalChunks uint32 `json:"totalChunks"`
	ChunkSize   uint32 `json:"chunkSize"`
}

// ChunkAck is the backend's acknowledgement of an uploaded chunk.
type ChunkAck struct {
	ChunkNumber    uint32 `json:"chunkNumber"`
	Uploaded       bool   `json:"uploaded"`
	Completed      bool   `json:"completed"`
	UploadedChunks uint32 `json:"uploadedChunks"`
}

// TransferInfo describes a transfer known to the backend.
type TransferInfo struct {
	FileID         FileID `json:"id"`
	FileName       string `json:"originalFilename"`
	ContentType    string `json:"contentType"`
	Size           uint64 `json:"size"`
	ChunkSize      uint32 `json:"chunkSize,omitempty"`
	TotalChunks    uint32 `json:"totalChunks"`
	UploadedChunks uint32 `json:"uploadedChunks"`
	Completed      bool   `json:"completed"`
}

// Client is the storage backend a transfer talks to.
// Implementations must be safe for concurrent use and must not retry on their own unless configured to.
type Client interface {
	// Initialize registers a new transfer and returns its descriptor.
	// Failures are reported as *InitError.
	Initialize(ctx context.Context, fileName, mimeType string, size uint64) (Descriptor, error)
	// PutChunk stores the chunk with the given index. Failures are reported as *ChunkError.
	PutChunk(ctx context.Context, id FileID, index uint32, data []byte) (ChunkAck, error)
	// GetChunk fetches the chunk with the given index. Failures are reported as *ChunkError.
	GetChunk(ctx context.Context, id FileID, index uint32) ([]byte, error)
	// DeleteTransfer removes a transfer. Failures are reported as *DeleteError,
	// wrapping ErrNotFound when the id is unknown.
	DeleteTransfer(ctx context.Context, id FileID) error
}

// Lister is implemented by backends that can enumerate their transfers.
type Lister interface {
	List(ctx context.Context) ([]TransferInfo, error)
	Stat(ctx context.Context, id FileID) (TransferInfo, error)
}
