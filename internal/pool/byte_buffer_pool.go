// Package pool provides pooled byte buffers for frame reads.
//
// The merge loop reads one frame buffer per frame across the whole run;
// pooling the read buffer keeps the loop at one live allocation instead of
// one per frame. Decoded frames never alias the buffer, so it can be
// returned to the pool as soon as parsing finishes.
package pool

import "sync"

const (
	// FrameBufferDefaultSize covers typical partial-readout frames.
	FrameBufferDefaultSize = 64 * 1024
	// FrameBufferMaxThreshold drops oversized buffers instead of pooling
	// them, so one huge full-readout frame does not pin memory for the rest
	// of the run.
	FrameBufferMaxThreshold = 4 * 1024 * 1024
)

// ByteBuffer is a reusable byte slice with a resize helper.
type ByteBuffer struct {
	B []byte
}

// Resize sets the buffer length to n, reallocating only when the current
// capacity is too small, and returns the resized slice.
func (bb *ByteBuffer) Resize(n int) []byte {
	if cap(bb.B) < n {
		bb.B = make([]byte, n)
	} else {
		bb.B = bb.B[:n]
	}

	return bb.B
}

var frameBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{B: make([]byte, 0, FrameBufferDefaultSize)}
	},
}

// GetFrameBuffer returns a pooled buffer for reading one frame.
func GetFrameBuffer() *ByteBuffer {
	bb, _ := frameBufferPool.Get().(*ByteBuffer)

	return bb
}

// PutFrameBuffer returns a buffer to the pool. Buffers that grew beyond
// FrameBufferMaxThreshold are discarded.
func PutFrameBuffer(bb *ByteBuffer) {
	if bb == nil || cap(bb.B) > FrameBufferMaxThreshold {
		return
	}
	bb.B = bb.B[:0]
	frameBufferPool.Put(bb)
}
