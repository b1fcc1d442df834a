// Package config reads the chunktransfer settings from the environment and builds the matching transfer client.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/docker/go-units"
)

// Environment keys.
const (
	BackendKey         = "CHUNKTRANSFER_BACKEND"
	APIURLKey          = "CHUNKTRANSFER_API_URL"
	APITokenKey        = "CHUNKTRANSFER_API_TOKEN"
	ConcurrencyKey     = "CHUNKTRANSFER_CONCURRENCY"
	ChunkSizeKey       = "CHUNKTRANSFER_CHUNK_SIZE"
	BucketURLKey       = "CHUNKTRANSFER_BUCKET_URL"
	PrefixKey          = "CHUNKTRANSFER_PREFIX"
	S3BucketKey        = "CHUNKTRANSFER_S3_BUCKET"
	S3RegionKey        = "CHUNKTRANSFER_S3_REGION"
	S3EndpointKey      = "CHUNKTRANSFER_S3_ENDPOINT"
	S3ProfileKey       = "CHUNKTRANSFER_S3_PROFILE"
	AccessKeyIDKey     = "AWS_ACCESS_KEY_ID"
	SecretAccessKeyKey = "AWS_SECRET_ACCESS_KEY"
	CompressKey        = "CHUNKTRANSFER_COMPRESS"
	CancelSiblingsKey  = "CHUNKTRANSFER_CANCEL_SIBLINGS"
	VerboseKey         = "CHUNKTRANSFER_VERBOSE"
	AnalyticsKey       = "CHUNKTRANSFER_ANALYTICS"
)

// Backend selects the storage a Session talks to.
type Backend string

const (
	BackendHTTP Backend = "http"
	BackendBlob Backend = "blob"
	BackendS3   Backend = "s3"
)

// Secret is a string that is never printed.
type Secret string

// String ...
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "*****"
}

// Config ...
type Config struct {
	Backend Backend

	APIURL   string
	APIToken Secret

	BucketURL string
	Prefix    string

	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3Profile       string
	AccessKeyID     string
	SecretAccessKey Secret

	// Concurrency is the number of files uploaded at once, 0 selects the number of CPUs.
	Concurrency int
	// ChunkSize is used by the object storage backends. The HTTP backend decides it on its own.
	ChunkSize      uint32
	Compress       bool
	CancelSiblings bool
	Verbose        bool
	Analytics      bool
}

// Default ...
func Default() Config {
	return Config{
		Backend:   BackendHTTP,
		ChunkSize: network.DefaultChunkSize,
	}
}

// FromEnv reads the configuration from envRepo on top of Default and validates it.
func FromEnv(envRepo env.Repository) (Config, error) {
	cfg := Default()

	if backend := envRepo.Get(BackendKey); backend != "" {
		cfg.Backend = Backend(strings.ToLower(strings.TrimSpace(backend)))
	}

	cfg.APIURL = envRepo.Get(APIURLKey)
	cfg.APIToken = Secret(envRepo.Get(APITokenKey))
	cfg.BucketURL = envRepo.Get(BucketURLKey)
	cfg.Prefix = envRepo.Get(PrefixKey)
	cfg.S3Bucket = envRepo.Get(S3BucketKey)
	cfg.S3Region = envRepo.Get(S3RegionKey)
	cfg.S3Endpoint = envRepo.Get(S3EndpointKey)
	cfg.S3Profile = envRepo.Get(S3ProfileKey)
	cfg.AccessKeyID = envRepo.Get(AccessKeyIDKey)
	cfg.SecretAccessKey = Secret(envRepo.Get(SecretAccessKeyKey))

	if value := envRepo.Get(ConcurrencyKey); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", ConcurrencyKey, err)
		}
		cfg.Concurrency = n
	}

	if value := envRepo.Get(ChunkSizeKey); value != "" {
		size, err := ParseChunkSize(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", ChunkSizeKey, err)
		}
		cfg.ChunkSize = size
	}

	var err error
	if cfg.Compress, err = parseBool(envRepo, CompressKey); err != nil {
		return Config{}, err
	}
	if cfg.CancelSiblings, err = parseBool(envRepo, CancelSiblingsKey); err != nil {
		return Config{}, err
	}
	if cfg.Verbose, err = parseBool(envRepo, VerboseKey); err != nil {
		return Config{}, err
	}
	if cfg.Analytics, err = parseBool(envRepo, AnalyticsKey); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the settings the selected backend needs are present.
func (c Config) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency should not be negative")
	}
	if c.ChunkSize == 0 {
		return fmt.Errorf("chunk size should be positive")
	}

	switch c.Backend {
	case BackendHTTP:
		if c.APIURL == "" {
			return fmt.Errorf("the secret '%s' is not defined", APIURLKey)
		}
	case BackendBlob:
		if c.BucketURL == "" {
			return fmt.Errorf("'%s' is required by the blob backend", BucketURLKey)
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("'%s' is required by the s3 backend", S3BucketKey)
		}
		if c.S3Region == "" {
			return fmt.Errorf("'%s' is required by the s3 backend", S3RegionKey)
		}
		if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
			return fmt.Errorf("'%s' and '%s' should be set together", AccessKeyIDKey, SecretAccessKeyKey)
		}
	default:
		return fmt.Errorf("unknown backend '%s', should be one of: %s, %s, %s", c.Backend, BackendHTTP, BackendBlob, BackendS3)
	}

	return nil
}

// Encoding returns the chunk encoding of the object storage backends.
func (c Config) Encoding() network.Encoding {
	if c.Compress {
		return network.EncodingZstd
	}
	return network.EncodingNone
}

// ParseChunkSize parses a human readable size such as "1MiB" or "512k".
func ParseChunkSize(value string) (uint32, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, err
	}
	if size <= 0 {
		return 0, fmt.Errorf("chunk size should be positive, got %d", size)
	}
	if size > math.MaxUint32 {
		return 0, fmt.Errorf("chunk size should be at most %s, got %s", units.BytesSize(math.MaxUint32), units.BytesSize(float64(size)))
	}
	return uint32(size), nil
}

func parseBool(envRepo env.Repository, key string) (bool, error) {
	value := strings.ToLower(strings.TrimSpace(envRepo.Get(key)))
	switch value {
	case "":
		return false, nil
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %s", key, value)
	}
	return b, nil
}
