package transfer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-chunktransfer/transfer/chunkplan"
	"github.com/gabriel-vasile/mimetype"
)

var errFileNotOpen = errors.New("file is not open")

// File is a local file queued for upload. It is read, never modified.
//
// Files created from a path hold no descriptor while they wait in the queue,
// the path is opened when the upload starts and closed once it ends.
type File struct {
	Name     string
	Size     uint64
	MimeType string

	path   string
	source io.ReaderAt
	closer io.Closer
}

// NewFileFromPath stats the file at path and detects its content type.
func NewFileFromPath(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("detect content type of %s: %w", path, err)
	}

	return &File{
		Name:     filepath.Base(path),
		Size:     uint64(info.Size()),
		MimeType: mtype.String(),
		path:     path,
	}, nil
}

// NewFileFromBytes wraps in-memory content.
func NewFileFromBytes(name string, data []byte) *File {
	return &File{
		Name:     name,
		Size:     uint64(len(data)),
		MimeType: mimetype.Detect(data).String(),
		source:   bytes.NewReader(data),
	}
}

// open opens a path backed file. It is a no-op for in-memory files and for
// files that are already open.
func (f *File) open() error {
	if f.source != nil || f.path == "" {
		return nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	f.source = file
	f.closer = file

	return nil
}

func (f *File) isOpen() bool {
	return f.closer != nil
}

// ReadChunk reads exactly the bytes of r.
func (f *File) ReadChunk(r chunkplan.Range) ([]byte, error) {
	if f.source == nil {
		return nil, fmt.Errorf("read chunk %d of %s: %w", r.Index, f.Name, errFileNotOpen)
	}
	data, err := io.ReadAll(io.NewSectionReader(f.source, int64(r.Offset), int64(r.Length)))
	if err != nil {
		return nil, fmt.Errorf("read chunk %d of %s: %w", r.Index, f.Name, err)
	}
	if len(data) != int(r.Length) {
		return nil, fmt.Errorf("read chunk %d of %s: got %d bytes, expected %d", r.Index, f.Name, len(data), r.Length)
	}
	return data, nil
}

func (f *File) close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.source = nil
	f.closer = nil
	return err
}
