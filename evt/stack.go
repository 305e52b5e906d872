package evt

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

// Stack is the ordered sequence of .evt files written by FRIBDAQ for one
// run, traversed as a single ring item stream.
type Stack struct {
	active     *File
	queue      []string
	totalBytes uint64
	ended      bool
}

// NewStack scans dir for every file whose name contains both "run-" and
// ".evt", sorts them lexicographically and opens the first as active.
func NewStack(dir string) (*Stack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning evt directory: %w", err)
	}

	var paths []string
	var totalBytes uint64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.Contains(name, "run-") || !strings.Contains(name, ".evt") {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		totalBytes += uint64(info.Size())
		paths = append(paths, filepath.Join(dir, name))
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: run-*.evt in %s", errs.ErrNoMatchingFiles, dir)
	}
	sort.Strings(paths)

	active, err := OpenFile(paths[0])
	if err != nil {
		return nil, err
	}

	return &Stack{active: active, queue: paths[1:], totalBytes: totalBytes}, nil
}

// NextItem returns the next ring item across the whole file sequence, or
// (nil, nil) once every file is exhausted.
func (s *Stack) NextItem() (*RingItem, error) {
	for {
		if s.ended {
			return nil, nil
		}

		item, err := s.active.NextItem()
		switch {
		case err == nil:
			return item, nil
		case errors.Is(err, errs.ErrEndOfFile):
			s.advance()
		default:
			return nil, err
		}
	}
}

// TotalBytes returns the summed size of every file in the stack.
func (s *Stack) TotalBytes() uint64 {
	return s.totalBytes
}

// advance moves to the next file, logging and skipping any that fail to
// open. An empty queue puts the stack in the terminal ended state.
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
			slog.Warn("skipping unreadable evt file",
				slog.String("path", next),
				slog.Any("error", err))

			continue
		}

		_ = s.active.Close()
		s.active = file

		return
	}
}
