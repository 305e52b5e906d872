package evt

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/attpc/attpc-merger/endian"
	"github.com/attpc/attpc-merger/errs"
)

// File reads one .evt file as a sequential stream of ring items.
type File struct {
	handle    *os.File
	path      string
	sizeBytes int64
}

// OpenFile opens a .evt file for reading.
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

	return &File{handle: handle, path: path, sizeBytes: info.Size()}, nil
}

// NextItem reads the next ring item. The record length is peeked without
// consuming it, then the whole self-contained record is read in one go.
// Returns errs.ErrEndOfFile when no complete record remains.
func (f *File) NextItem() (*RingItem, error) {
	start, err := f.handle.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(f.handle, sizeBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errs.ErrEndOfFile
		}

		return nil, fmt.Errorf("reading ring item size from %s: %w", f.path, err)
	}

	size := endian.GetLittleEndianEngine().Uint32(sizeBuf[:])
	if size < noHeaderLen {
		return nil, fmt.Errorf("%w: declared size %d in %s", errs.ErrRingItemTooShort, size, f.path)
	}

	if _, err := f.handle.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(f.handle, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errs.ErrEndOfFile
		}

		return nil, fmt.Errorf("reading ring item from %s: %w", f.path, err)
	}

	return ParseRingItem(buf)
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
