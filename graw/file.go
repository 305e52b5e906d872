package graw

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/attpc/attpc-merger/errs"
	"github.com/attpc/attpc-merger/internal/pool"
)

// File reads one .graw file as a sequential stream of frames.
//
// It supports peeking the next frame's event identity without consuming the
// frame: the header unit is read, parsed and the stream position rewound.
// A peek that hits the end of the file reports errs.ErrEndOfFile without
// moving the position, so a truncated final frame ends the stream cleanly.
type File struct {
	handle    *os.File
	path      string
	sizeBytes int64
	nextMeta  *FrameMetadata // cached peek, nil when not peeked
}

// OpenFile opens a .graw file for reading.
func OpenFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errs.ErrBadFilePath, path)
		}

		return nil, err
	}

	handle, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	return &File{
		handle:    handle,
		path:      path,
		sizeBytes: info.Size(),
	}, nil
}

// PeekMetadata returns the event identity of the next frame without
// consuming it. Returns errs.ErrEndOfFile when no complete header remains.
func (f *File) PeekMetadata() (FrameMetadata, error) {
	if f.nextMeta == nil {
		header, err := f.peekHeader()
		if err != nil {
			return FrameMetadata{}, err
		}
		meta := header.Metadata()
		f.nextMeta = &meta
	}

	return *f.nextMeta, nil
}

// NextFrame reads and decodes the next frame. The header bytes are re-read
// from the frame start rather than assumed from a prior peek, so peek and
// consume never interleave partially.
func (f *File) NextFrame() (*Frame, error) {
	header, err := f.peekHeader()
	if err != nil {
		return nil, err
	}
	f.nextMeta = nil

	bb := pool.GetFrameBuffer()
	defer pool.PutFrameBuffer(bb)

	buf := bb.Resize(int(header.FrameSize) * SizeUnit)
	if _, err := io.ReadFull(f.handle, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errs.ErrEndOfFile
		}

		return nil, fmt.Errorf("reading frame from %s: %w", f.path, err)
	}

	frame, err := ParseFrame(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding frame from %s: %w", f.path, err)
	}

	return frame, nil
}

// Path returns the path the file was opened from.
func (f *File) Path() string {
	return f.path
}

// SizeBytes returns the file size at open time.
func (f *File) SizeBytes() int64 {
	return f.sizeBytes
}

// Close closes the underlying file handle.
func (f *File) Close() error {
	return f.handle.Close()
}

// peekHeader reads one header unit, parses it and rewinds the stream to the
// start of the header.
func (f *File) peekHeader() (FrameHeader, error) {
	start, err := f.handle.Seek(0, io.SeekCurrent)
	if err != nil {
		return FrameHeader{}, err
	}

	var unit [expectedHeaderSize * SizeUnit]byte
	if _, err := io.ReadFull(f.handle, unit[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if _, err := f.handle.Seek(start, io.SeekStart); err != nil {
				return FrameHeader{}, err
			}

			return FrameHeader{}, errs.ErrEndOfFile
		}

		return FrameHeader{}, fmt.Errorf("reading frame header from %s: %w", f.path, err)
	}

	header, err := ParseFrameHeader(unit[:])
	if err != nil {
		return FrameHeader{}, err
	}

	if _, err := f.handle.Seek(start, io.SeekStart); err != nil {
		return FrameHeader{}, err
	}

	return header, nil
}
