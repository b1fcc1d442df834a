package network

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Encoding is the storage encoding of chunk objects in object storage backends.
type Encoding string

const (
	EncodingNone Encoding = ""
	EncodingZstd Encoding = "zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() error {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			zstdErr = fmt.Errorf("create zstd writer: %w", zstdErr)
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
		if zstdErr != nil {
			zstdErr = fmt.Errorf("create zstd reader: %w", zstdErr)
		}
	})
	return zstdErr
}

func encodeChunk(encoding Encoding, data []byte) ([]byte, error) {
	switch encoding {
	case EncodingNone:
		return data, nil
	case EncodingZstd:
		if err := initZstd(); err != nil {
			return nil, err
		}
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	default:
		return nil, fmt.Errorf("unknown chunk encoding: %s", encoding)
	}
}

func decodeChunk(encoding Encoding, data []byte) ([]byte, error) {
	switch encoding {
	case EncodingNone:
		return data, nil
	case EncodingZstd:
		if err := initZstd(); err != nil {
			return nil, err
		}
		decoded, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress chunk: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unknown chunk encoding: %s", encoding)
	}
}
