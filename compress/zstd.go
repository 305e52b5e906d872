package compress

// ZstdCompressor is the Zstandard codec: waveform matrices are mostly
// baseline samples and compress extremely well.
//
// Two implementations exist behind build tags: the pure-Go
// klauspost/compress encoder (default) and the cgo libzstd binding
// (build tag zstd_cgo) for hosts where the native library is worth the
// cgo dependency.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor creates a new zstd codec.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
