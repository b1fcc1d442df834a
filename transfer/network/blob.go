package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// Bucket URL schemes understood by OpenBlobClient.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// BlobConfig ...
type BlobConfig struct {
	// BucketURL is a gocloud bucket URL such as s3://bucket?region=us-east-1, gs://bucket,
	// file:///tmp/transfers or mem://.
	BucketURL string
	// Prefix is prepended to every object key.
	Prefix string
	// ChunkSize is returned to callers on Initialize. Default: DefaultChunkSize
	ChunkSize uint32
	// Encoding is applied to chunk objects of new transfers.
	Encoding Encoding
}

// BlobClient stores transfers directly in a gocloud.dev bucket.
type BlobClient struct {
	bucket    *blob.Bucket
	layout    layout
	chunkSize uint32
	encoding  Encoding
	logger    log.Logger

	encodings sync.Map // FileID -> Encoding
}

// OpenBlobClient opens the bucket named by cfg.BucketURL.
func OpenBlobClient(ctx context.Context, cfg BlobConfig, logger log.Logger) (*BlobClient, error) {
	if cfg.BucketURL == "" {
		return nil, fmt.Errorf("bucket URL is empty")
	}
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	return NewBlobClient(bucket, cfg, logger), nil
}

// NewBlobClient wraps an already opened bucket. Closing the client closes the bucket.
func NewBlobClient(bucket *blob.Bucket, cfg BlobConfig, logger log.Logger) *BlobClient {
	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &BlobClient{
		bucket:    bucket,
		layout:    newLayout(cfg.Prefix),
		chunkSize: chunkSize,
		encoding:  cfg.Encoding,
		logger:    logger,
	}
}

// Close ...
func (c *BlobClient) Close() error {
	return c.bucket.Close()
}

// Initialize writes the manifest of a new transfer.
func (c *BlobClient) Initialize(ctx context.Context, fileName, mimeType string, size uint64) (Descriptor, error) {
	if size == 0 {
		return Descriptor{}, &InitError{FileName: fileName, Err: fmt.Errorf("file size must be greater than zero")}
	}

	id := c.layout.newID()
	totalChunks := uint32((size + uint64(c.chunkSize) - 1) / uint64(c.chunkSize))
	m := newManifest(id, fileName, mimeType, size, c.chunkSize, totalChunks, c.encoding)

	data, err := json.Marshal(m)
	if err != nil {
		return Descriptor{}, &InitError{FileName: fileName, Err: err}
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := c.bucket.WriteAll(ctx, c.layout.manifestKey(id), data, opts); err != nil {
		return Descriptor{}, &InitError{FileName: fileName, Err: fmt.Errorf("write manifest: %w", err)}
	}
	c.encodings.Store(id, c.encoding)

	c.logger.Debugf("Initialized transfer %s (%s) with %d chunks", id, fileName, totalChunks)

	return Descriptor{FileID: id, TotalChunks: totalChunks, ChunkSize: c.chunkSize}, nil
}

// PutChunk ...
func (c *BlobClient) PutChunk(ctx context.Context, id FileID, index uint32, data []byte) (ChunkAck, error) {
	m, err := c.manifest(ctx, id)
	if err != nil {
		return ChunkAck{}, &ChunkError{Index: index, Op: opUpload, Err: err}
	}
	if index >= m.TotalChunks {
		return ChunkAck{}, &ChunkError{Index: index, Op: opUpload, Err: fmt.Errorf("transfer has %d chunks", m.TotalChunks)}
	}

	encoded, err := encodeChunk(m.Encoding, data)
	if err != nil {
		return ChunkAck{}, &ChunkError{Index: index, Op: opUpload, Err: err}
	}
	opts := &blob.WriterOptions{ContentType: "application/octet-stream"}
	if err := c.bucket.WriteAll(ctx, c.layout.chunkKey(id, index), encoded, opts); err != nil {
		return ChunkAck{}, &ChunkError{Index: index, Op: opUpload, Err: err}
	}

	return ChunkAck{ChunkNumber: index, Uploaded: true}, nil
}

// GetChunk ...
func (c *BlobClient) GetChunk(ctx context.Context, id FileID, index uint32) ([]byte, error) {
	encoding, err := c.encodingOf(ctx, id)
	if err != nil {
		return nil, &ChunkError{Index: index, Op: opDownload, Err: err}
	}

	data, err := c.bucket.ReadAll(ctx, c.layout.chunkKey(id, index))
	if err != nil {
		return nil, &ChunkError{Index: index, Op: opDownload, Err: blobError(err)}
	}

	decoded, err := decodeChunk(encoding, data)
	if err != nil {
		return nil, &ChunkError{Index: index, Op: opDownload, Err: err}
	}
	return decoded, nil
}

// DeleteTransfer removes every chunk object, then the manifest.
func (c *BlobClient) DeleteTransfer(ctx context.Context, id FileID) error {
	if _, err := c.manifest(ctx, id); err != nil {
		return &DeleteError{FileID: id, Err: err}
	}

	iter := c.bucket.List(&blob.ListOptions{Prefix: c.layout.chunksPrefix(id)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return &DeleteError{FileID: id, Err: fmt.Errorf("list chunks: %w", err)}
		}
		if err := c.bucket.Delete(ctx, obj.Key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return &DeleteError{FileID: id, Err: fmt.Errorf("delete %s: %w", obj.Key, err)}
		}
	}

	if err := c.bucket.Delete(ctx, c.layout.manifestKey(id)); err != nil {
		return &DeleteError{FileID: id, Err: blobError(err)}
	}
	c.encodings.Delete(id)

	return nil
}

// List ...
func (c *BlobClient) List(ctx context.Context) ([]TransferInfo, error) {
	var infos []TransferInfo

	iter := c.bucket.List(&blob.ListOptions{Prefix: c.layout.prefix, Delimiter: "/"})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list transfers: %w", err)
		}
		if !obj.IsDir {
			continue
		}

		id, ok := c.layout.idFromManifestKey(obj.Key + manifestName)
		if !ok {
			continue
		}
		info, err := c.Stat(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, nil
}

// Stat ...
func (c *BlobClient) Stat(ctx context.Context, id FileID) (TransferInfo, error) {
	m, err := c.manifest(ctx, id)
	if err != nil {
		return TransferInfo{}, fmt.Errorf("get transfer %s: %w", id, err)
	}

	var uploaded uint32
	iter := c.bucket.List(&blob.ListOptions{Prefix: c.layout.chunksPrefix(id)})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return TransferInfo{}, fmt.Errorf("list chunks of %s: %w", id, err)
		}
		if _, ok := c.layout.chunkIndexFromKey(id, obj.Key); ok {
			uploaded++
		}
	}

	return m.info(uploaded), nil
}

func (c *BlobClient) manifest(ctx context.Context, id FileID) (manifest, error) {
	data, err := c.bucket.ReadAll(ctx, c.layout.manifestKey(id))
	if err != nil {
		return manifest{}, blobError(err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return manifest{}, err
	}
	c.encodings.Store(id, m.Encoding)
	return m, nil
}

func (c *BlobClient) encodingOf(ctx context.Context, id FileID) (Encoding, error) {
	if v, ok := c.encodings.Load(id); ok {
		return v.(Encoding), nil
	}
	m, err := c.manifest(ctx, id)
	if err != nil {
		return EncodingNone, err
	}
	return m.Encoding, nil
}

func blobError(err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s: %w", err, ErrNotFound)
	}
	return err
}
