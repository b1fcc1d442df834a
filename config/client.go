package config

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-utils/v2/log"
)

// NewClient builds the transfer client of the configured backend.
// Blob clients hold an open bucket, callers should close clients that implement io.Closer.
func NewClient(ctx context.Context, cfg Config, logger log.Logger) (network.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Backend {
	case BackendHTTP:
		client, err := network.NewHTTPClient(network.HTTPConfig{
			BaseURL: cfg.APIURL,
			Token:   string(cfg.APIToken),
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case BackendBlob:
		client, err := network.OpenBlobClient(ctx, network.BlobConfig{
			BucketURL: cfg.BucketURL,
			Prefix:    cfg.Prefix,
			ChunkSize: cfg.ChunkSize,
			Encoding:  cfg.Encoding(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case BackendS3:
		client, err := network.NewS3Client(ctx, network.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: string(cfg.SecretAccessKey),
			Endpoint:        cfg.S3Endpoint,
			Profile:         cfg.S3Profile,
			Prefix:          cfg.Prefix,
			ChunkSize:       cfg.ChunkSize,
			Encoding:        cfg.Encoding(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return nil, fmt.Errorf("unknown backend '%s'", cfg.Backend)
}
