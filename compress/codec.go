// Package compress provides the compression codecs used by the event
// archive sidecar.
//
// Archive records are independent blocks, so the interface is
// whole-buffer: compress one serialized event, decompress one record.
// Zstd gives the best ratio for waveform data; lz4 trades ratio for speed; noop exists for debugging and baseline
// measurements.
package compress

import (
	"fmt"

	"github.com/attpc/attpc-merger/errs"
)

// Compressor compresses one block of data.
type Compressor interface {
	// Compress compresses the input and returns a newly allocated result.
	// The input slice is not modified.
	Compress(data []byte) ([]byte, error)
}

// Decompressor restores one block of data.
type Decompressor interface {
	// Decompress reverses Compress. The input must have been produced by
	// the matching Compressor.
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both directions.
type Codec interface {
	Compressor
	Decompressor
}

// Kind names a codec in configuration.
type Kind string

const (
	KindNone Kind = "none"
	KindZstd Kind = "zstd"
	KindLZ4  Kind = "lz4"
)

// NewCodec returns the codec for a configured kind.
func NewCodec(kind Kind) (Codec, error) {
	switch kind {
	case KindNone:
		return NewNoOpCompressor(), nil
	case KindZstd:
		return NewZstdCompressor(), nil
	case KindLZ4:
		return NewLZ4Compressor(), nil
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnknownCodec, kind)
	}
}

// Byte returns the single-byte codec tag stored in the archive header.
func (k Kind) Byte() (byte, error) {
	switch k {
	case KindNone:
		return 0, nil
	case KindZstd:
		return 1, nil
	case KindLZ4:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: %q", errs.ErrUnknownCodec, k)
	}
}

// KindFromByte reverses Kind.Byte for archive readers.
func KindFromByte(b byte) (Kind, error) {
	switch b {
	case 0:
		return KindNone, nil
	case 1:
		return KindZstd, nil
	case 2:
		return KindLZ4, nil
	default:
		return "", fmt.Errorf("%w: tag %d", errs.ErrUnknownCodec, b)
	}
}
