// Package errs defines the sentinel error values used across the repository.
//
// Call sites wrap these with fmt.Errorf("...: %w", ...) to add context while
// keeping errors.Is checks working. ErrEndOfFile is special: it is a control
// signal that drives file-stack advancement, not a failure.
package errs

import "errors"

// GET frame header validation errors. Each header invariant gets its own
// sentinel so callers can tell exactly which check failed.
var (
	ErrBadMetaType   = errors.New("incorrect meta type in frame header")
	ErrBadFrameSize  = errors.New("declared frame size does not match buffer length")
	ErrBadFrameType  = errors.New("unknown frame type in frame header")
	ErrBadHeaderSize = errors.New("incorrect header size in frame header")
	ErrBadItemSize   = errors.New("item size does not match frame type")
	ErrBadItemCount  = errors.New("item count does not fit declared frame size")
	ErrShortFrame    = errors.New("buffer too short for frame header")
)

// Sample validity errors.
var (
	ErrBadAgetID     = errors.New("invalid AGET id in sample")
	ErrBadChannel    = errors.New("invalid channel in sample")
	ErrBadTimeBucket = errors.New("invalid time bucket in sample")
)

// File and stack errors.
var (
	// ErrEndOfFile signals that a file has no more complete frames or ring
	// items. It is expected at the end of every file and is consumed by the
	// stack advancement logic.
	ErrEndOfFile       = errors.New("end of file")
	ErrBadFilePath     = errors.New("file does not exist")
	ErrNoMatchingFiles = errors.New("no files match the requested pattern")
	ErrNoFiles         = errors.New("no file stacks could be opened")
)

// Event assembly errors.
var (
	ErrMismatchedEventID = errors.New("frame event id does not match event")
	ErrEventOutOfOrder   = errors.New("frame event id is older than the event being built")
)

// Ring item errors.
var (
	ErrRingItemTooShort = errors.New("ring item buffer too short")
	ErrStackOrder       = errors.New("unexpected module tag in physics item")
)

// Pad map errors.
var (
	ErrBadPadMapFormat = errors.New("pad map row does not have five fields")
)

// Archive errors.
var (
	ErrBadArchiveMagic  = errors.New("not an event archive")
	ErrBadArchiveRecord = errors.New("malformed archive record")
	ErrChecksumMismatch = errors.New("archive record checksum mismatch")
	ErrUnknownCodec     = errors.New("unknown compression codec")
)

// Configuration errors.
var (
	ErrBadRunRange = errors.New("first run number is greater than last run number")
)
