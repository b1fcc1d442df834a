package network

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNotFound is wrapped by errors about transfers or chunks the backend does not know.
var ErrNotFound = errors.New("transfer not found")

// InitError means the backend refused or failed to register a transfer.
type InitError struct {
	FileName string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initialize transfer of %s: %s", e.FileName, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ChunkError means a single chunk could not be uploaded or downloaded.
type ChunkError struct {
	Index uint32
	Op    string
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s chunk %d: %s", e.Op, e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// DeleteError means a transfer could not be deleted.
type DeleteError struct {
	FileID FileID
	Err    error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete transfer %s: %s", e.FileID, e.Err)
}

func (e *DeleteError) Unwrap() error {
	return e.Err
}

const (
	opUpload   = "upload"
	opDownload = "download"
)

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("HTTP %d: %s: %w", resp.StatusCode, errorResp, ErrNotFound)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
