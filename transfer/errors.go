package transfer

import (
	"errors"
	"fmt"

	"github.com/bitrise-io/go-chunktransfer/transfer/network"
)

// ErrSessionClosed is returned when work is submitted to a closed Session.
var ErrSessionClosed = errors.New("transfer session is closed")

// ErrListUnsupported is returned by Session.List when the client cannot enumerate transfers.
var ErrListUnsupported = errors.New("backend does not support listing transfers")

// ErrDownloadTooLarge is returned for download requests whose layout exceeds the in-memory reassembly bounds.
var ErrDownloadTooLarge = errors.New("download too large")

// ErrLayoutMismatch is returned when a requested chunk layout differs from the stored transfer.
var ErrLayoutMismatch = errors.New("chunk layout does not match the stored transfer")

// ReassemblyError means a download failed and no output was produced.
type ReassemblyError struct {
	FileID network.FileID
	Err    error
}

func (e *ReassemblyError) Error() string {
	return fmt.Sprintf("reassemble transfer %s: %s", e.FileID, e.Err)
}

func (e *ReassemblyError) Unwrap() error {
	return e.Err
}
