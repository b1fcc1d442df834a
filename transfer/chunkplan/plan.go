// Package chunkplan splits a file of known size into fixed-size chunk ranges.
package chunkplan

import (
	"errors"
	"fmt"
	"math"
)

// ErrZeroChunkSize is returned when a plan is requested with a zero chunk size.
var ErrZeroChunkSize = errors.New("chunk size must be greater than zero")

// ErrEmptyFile is returned for zero-length files, which have no chunks to transfer.
var ErrEmptyFile = errors.New("file is empty")

// Range is a contiguous byte span of a file identified by its chunk index.
type Range struct {
	Index  uint32
	Offset uint64
	Length uint32
}

// End returns the exclusive end offset of the range.
func (r Range) End() uint64 {
	return r.Offset + uint64(r.Length)
}

// TotalChunks returns ceil(fileSize/chunkSize), or 0 when chunkSize is 0.
func TotalChunks(fileSize uint64, chunkSize uint32) uint64 {
	if chunkSize == 0 {
		return 0
	}
	n := fileSize / uint64(chunkSize)
	if fileSize%uint64(chunkSize) != 0 {
		n++
	}
	return n
}

// Plan returns the ordered chunk ranges covering [0, fileSize).
// Every range except the last is exactly chunkSize long.
func Plan(fileSize uint64, chunkSize uint32) ([]Range, error) {
	if chunkSize == 0 {
		return nil, ErrZeroChunkSize
	}
	if fileSize == 0 {
		return nil, ErrEmptyFile
	}

	n := TotalChunks(fileSize, chunkSize)
	if n > math.MaxUint32 {
		return nil, fmt.Errorf("%d chunks of %d bytes exceed the maximum chunk count", n, chunkSize)
	}

	ranges := make([]Range, n)
	for i := uint64(0); i < n; i++ {
		offset := i * uint64(chunkSize)
		length := uint64(chunkSize)
		if i == n-1 {
			length = fileSize - offset
		}
		ranges[i] = Range{Index: uint32(i), Offset: offset, Length: uint32(length)}
	}

	return ranges, nil
}

// CheckLength reports whether a chunk of the given length fits the shape of a plan
// with totalChunks chunks of chunkSize bytes.
func CheckLength(index, totalChunks, chunkSize uint32, length int) error {
	if index >= totalChunks {
		return fmt.Errorf("chunk %d out of range, plan has %d chunks", index, totalChunks)
	}
	if index < totalChunks-1 {
		if length != int(chunkSize) {
			return fmt.Errorf("chunk %d is %d bytes, expected %d", index, length, chunkSize)
		}
		return nil
	}
	if length <= 0 || length > int(chunkSize) {
		return fmt.Errorf("last chunk %d is %d bytes, expected 1..%d", index, length, chunkSize)
	}
	return nil
}
