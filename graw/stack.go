package graw

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/attpc/attpc-merger/errs"
)

// Stack is the ordered sequence of .graw files written for one
// CoBo/AsAd pair during a run.
//
// The DAQ splits each board's output at roughly 1 GB, so one pair usually
// owns several files whose names differ only in a monotone tail index.
// The stack opens the earliest file as active and advances to the next file
// when the active one runs out of frames. It is always in one of two
// states: a readable active file, or terminally ended.
type Stack struct {
	active     *File
	queue      []string
	cobo       int
	asad       int
	totalBytes uint64
	ended      bool
}

// NewStack scans dir for every file whose name contains both
// "CoBo{cobo}_AsAd{asad}" and ".graw", sorts them lexicographically and
// opens the first as the active file. Returns errs.ErrNoMatchingFiles when
// the directory holds no files for the pair.
func NewStack(dir string, cobo, asad int) (*Stack, error) {
	paths, totalBytes, err := findStackFiles(dir, cobo, asad)
	if err != nil {
		return nil, err
	}

	active, err := OpenFile(paths[0])
	if err != nil {
		return nil, err
	}

	return &Stack{
		active:     active,
		queue:      paths[1:],
		cobo:       cobo,
		asad:       asad,
		totalBytes: totalBytes,
	}, nil
}

// PeekMetadata returns the event identity of the stack's next frame, or
// (nil, nil) when the stack has terminally ended. On end-of-file it
// advances through the queued files until one yields a frame or the queue
// is exhausted.
func (s *Stack) PeekMetadata() (*FrameMetadata, error) {
	for {
		if s.ended {
			return nil, nil
		}

		meta, err := s.active.PeekMetadata()
		switch {
		case err == nil:
			return &meta, nil
		case errors.Is(err, errs.ErrEndOfFile):
			s.advance()
		default:
			return nil, err
		}
	}
}

// NextFrame consumes the next frame from the active file. Call it only
// after a successful PeekMetadata on the same stack; it does not advance
// through the file queue.
func (s *Stack) NextFrame() (*Frame, error) {
	return s.active.NextFrame()
}

// Ended reports whether the stack has run out of data.
func (s *Stack) Ended() bool {
	return s.ended
}

// CoboID returns the controller number of this stack.
func (s *Stack) CoboID() int {
	return s.cobo
}

// AsadID returns the board number of this stack.
func (s *Stack) AsadID() int {
	return s.asad
}

// TotalBytes returns the summed size of every file in the stack.
func (s *Stack) TotalBytes() uint64 {
	return s.totalBytes
}

// ActiveFile returns the currently active file.
func (s *Stack) ActiveFile() *File {
	return s.active
}

// QueuedPaths returns the paths not yet activated, in read order.
func (s *Stack) QueuedPaths() []string {
	return s.queue
}

// advance moves to the next file in the queue, logging and skipping any
// that fail to open. An empty queue puts the stack in the terminal ended
// state. A freshly opened file that turns out to be empty is handled by
// the caller's peek loop, which simply advances again.
func (s *Stack) advance() {
	for {
		if len(s.queue) == 0 {
			s.ended = true

			return
		}

		next := s.queue[0]
		s.queue = s.queue[1:]

		file, err := OpenFile(next)
		if err != nil {
			slog.Warn("skipping unreadable graw file",
				slog.String("path", next),
				slog.Any("error", err))

			continue
		}

		_ = s.active.Close()
		s.active = file

		return
	}
}

// findStackFiles lists the matching files for a pair, sorted, with their
// total size.
func findStackFiles(dir string, cobo, asad int) ([]string, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning run directory: %w", err)
	}

	pairPattern := fmt.Sprintf("CoBo%d_AsAd%d", cobo, asad)

	var paths []string
	var totalBytes uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, pairPattern) || !strings.Contains(name, ".graw") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, 0, err
		}
		totalBytes += uint64(info.Size())
		paths = append(paths, filepath.Join(dir, name))
	}

	if len(paths) == 0 {
		return nil, 0, fmt.Errorf("%w: %s in %s", errs.ErrNoMatchingFiles, pairPattern, dir)
	}

	// Lexicographic order is chronological order: fragment names differ
	// only in the zero-padded tail index.
	sort.Strings(paths)

	return paths, totalBytes, nil
}
