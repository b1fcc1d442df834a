package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
)

// S3 limits a DeleteObjects request to this many keys.
const maxDeleteBatch = 1000

// s3API is the subset of *s3.Client used by S3Client.
type s3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3Config ...
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Profile selects a shared config profile when no static keys are given.
	Profile string
	// Endpoint overrides the S3 endpoint, for S3 compatible stores. Path style addressing is used with it.
	Endpoint string
	Prefix   string
	// ChunkSize is returned to callers on Initialize. Default: DefaultChunkSize
	ChunkSize uint32
	Encoding  Encoding
}

// S3Client stores transfers in an S3 bucket with the same object layout as BlobClient.
type S3Client struct {
	client    s3API
	uploader  *manager.Uploader
	bucket    string
	layout    layout
	chunkSize uint32
	encoding  Encoding
	logger    log.Logger

	encodings sync.Map // FileID -> Encoding
}

// NewS3Client loads AWS credentials and creates an S3 backed client.
// SDK level retries are disabled.
func NewS3Client(ctx context.Context, cfg S3Config, logger log.Logger) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Client(client, cfg, logger), nil
}

func newS3Client(client s3API, cfg S3Config, logger log.Logger) *S3Client {
	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.Concurrency = 1
		u.PartSize = manager.MinUploadPartSize
		if int64(chunkSize) > u.PartSize {
			u.PartSize = int64(chunkSize)
		}
	})

	return &S3Client{
		client:    client,
		uploader:  uploader,
		bucket:    cfg.Bucket,
		layout:    newLayout(cfg.Prefix),
		chunkSize: chunkSize,
		encoding:  cfg.Encoding,
		logger:    logger,
	}
}

// Initialize ...
func (c *S3Client) Initialize(ctx context.Context, fileName, mimeType string, size uint64) (Descriptor, error) {
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
	if err := c.put(ctx, c.layout.manifestKey(id), data, "application/json"); err != nil {
		return Descriptor{}, &InitError{FileName: fileName, Err: fmt.Errorf("write manifest: %w", err)}
	}
	c.encodings.Store(id, c.encoding)

	c.logger.Debugf("Initialized transfer %s (%s) in s3://%s with %d chunks", id, fileName, c.bucket, totalChunks)

	return Descriptor{FileID: id, TotalChunks: totalChunks, ChunkSize: c.chunkSize}, nil
}

// PutChunk ...
func (c *S3Client) PutChunk(ctx context.Context, id FileID, index uint32, data []byte) (ChunkAck, error) {
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
	if err := c.put(ctx, c.layout.chunkKey(id, index), encoded, "application/octet-stream"); err != nil {
		return ChunkAck{}, &ChunkError{Index: index, Op: opUpload, Err: err}
	}

	return ChunkAck{ChunkNumber: index, Uploaded: true}, nil
}

// GetChunk ...
func (c *S3Client) GetChunk(ctx context.Context, id FileID, index uint32) ([]byte, error) {
	encoding, err := c.encodingOf(ctx, id)
	if err != nil {
		return nil, &ChunkError{Index: index, Op: opDownload, Err: err}
	}

	data, err := c.get(ctx, c.layout.chunkKey(id, index))
	if err != nil {
		return nil, &ChunkError{Index: index, Op: opDownload, Err: err}
	}

	decoded, err := decodeChunk(encoding, data)
	if err != nil {
		return nil, &ChunkError{Index: index, Op: opDownload, Err: err}
	}
	return decoded, nil
}

// DeleteTransfer ...
func (c *S3Client) DeleteTransfer(ctx context.Context, id FileID) error {
	if _, err := c.manifest(ctx, id); err != nil {
		return &DeleteError{FileID: id, Err: err}
	}

	keys, err := c.listKeys(ctx, c.layout.chunksPrefix(id))
	if err != nil {
		return &DeleteError{FileID: id, Err: fmt.Errorf("list chunks: %w", err)}
	}
	// The manifest goes last so a partially deleted transfer stays visible.
	keys = append(keys, c.layout.manifestKey(id))

	for start := 0; start < len(keys); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := c.deleteKeys(ctx, keys[start:end]); err != nil {
			return &DeleteError{FileID: id, Err: err}
		}
	}
	c.encodings.Delete(id)

	return nil
}

// List ...
func (c *S3Client) List(ctx context.Context) ([]TransferInfo, error) {
	var infos []TransferInfo

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(c.layout.prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list transfers: %w", err)
		}
		for _, p := range page.CommonPrefixes {
			id, ok := c.layout.idFromManifestKey(aws.ToString(p.Prefix) + manifestName)
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
	}

	return infos, nil
}

// Stat ...
func (c *S3Client) Stat(ctx context.Context, id FileID) (TransferInfo, error) {
	m, err := c.manifest(ctx, id)
	if err != nil {
		return TransferInfo{}, fmt.Errorf("get transfer %s: %w", id, err)
	}

	keys, err := c.listKeys(ctx, c.layout.chunksPrefix(id))
	if err != nil {
		return TransferInfo{}, fmt.Errorf("list chunks of %s: %w", id, err)
	}
	var uploaded uint32
	for _, key := range keys {
		if _, ok := c.layout.chunkIndexFromKey(id, key); ok {
			uploaded++
		}
	}

	return m.info(uploaded), nil
}

func (c *S3Client) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (c *S3Client) get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Printf(err.Error())
		}
	}(out.Body)

	return io.ReadAll(out.Body)
}

func (c *S3Client) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (c *S3Client) deleteKeys(ctx context.Context, keys []string) error {
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	out, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("delete objects: %w", err)
	}
	if len(out.Errors) > 0 {
		first := out.Errors[0]
		return fmt.Errorf("delete %s: %s (%d failed)", aws.ToString(first.Key), aws.ToString(first.Message), len(out.Errors))
	}
	return nil
}

func (c *S3Client) manifest(ctx context.Context, id FileID) (manifest, error) {
	data, err := c.get(ctx, c.layout.manifestKey(id))
	if err != nil {
		return manifest{}, err
	}
	m, err := decodeManifest(data)
	if err != nil {
		return manifest{}, err
	}
	c.encodings.Store(id, m.Encoding)
	return m, nil
}

func (c *S3Client) encodingOf(ctx context.Context, id FileID) (Encoding, error) {
	if v, ok := c.encodings.Load(id); ok {
		return v.(Encoding), nil
	}
	m, err := c.manifest(ctx, id)
	if err != nil {
		return EncodingNone, err
	}
	return m.Encoding, nil
}

func s3Error(err error) error {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.(type) {
		case *types.NoSuchKey, *types.NotFound:
			return fmt.Errorf("%s: %w", err, ErrNotFound)
		}
		if apiError.ErrorCode() == "NotFound" || apiError.ErrorCode() == "NoSuchKey" {
			return fmt.Errorf("%s: %w", err, ErrNotFound)
		}
	}
	return err
}

// loadAWSConfig resolves the aws config of cfg. Static keys take precedence over
// the named profile, which takes precedence over the default credential chain.
func loadAWSConfig(ctx context.Context, cfg S3Config, logger log.Logger) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		logger.Debugf("Using static aws credentials")
		provider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(provider))
	case cfg.Profile != "":
		logger.Debugf("Using aws profile %s", cfg.Profile)
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load default aws config: %w", err)
	}
	return awsCfg, nil
}
