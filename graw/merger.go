package graw

import (
	"errors"
	"fmt"

	"github.com/attpc/attpc-merger/errs"
	"github.com/attpc/attpc-merger/padmap"
)

// StackLocator resolves the directory holding a controller's .graw files.
// The offline layout keeps every controller in one run directory; the
// online layout mounts one volume per controller.
type StackLocator func(cobo int) (string, error)

// FixedDir returns a StackLocator that resolves every controller to the
// same run directory.
func FixedDir(dir string) StackLocator {
	return func(int) (string, error) {
		return dir, nil
	}
}

// Merger performs a k-way merge over the per-board file stacks of a run,
// emitting frames in non-decreasing event-ID order.
//
// Event ID is the ordering key, not the timestamp: every stack produces its
// own frames in non-decreasing event-ID order, so always draining the stack
// with the smallest next ID yields a globally ordered stream in which all
// frames of one event are contiguous.
type Merger struct {
	stacks     []*Stack
	totalBytes uint64
}

// NewMerger attempts to open a file stack for every controller and board
// combination, silently skipping combinations with no matching files.
// Returns errs.ErrNoFiles when not a single stack could be opened.
func NewMerger(locate StackLocator) (*Merger, error) {
	merger := &Merger{}

	for cobo := 0; cobo < padmap.NumCoBos; cobo++ {
		dir, err := locate(cobo)
		if err != nil {
			return nil, fmt.Errorf("locating files for CoBo%d: %w", cobo, err)
		}
		for asad := 0; asad < padmap.NumAsAds; asad++ {
			stack, err := NewStack(dir, cobo, asad)
			if err != nil {
				if errors.Is(err, errs.ErrNoMatchingFiles) {
					continue
				}

				return nil, err
			}
			merger.stacks = append(merger.stacks, stack)
		}
	}

	if len(merger.stacks) == 0 {
		return nil, errs.ErrNoFiles
	}

	for _, stack := range merger.stacks {
		merger.totalBytes += stack.TotalBytes()
	}

	return merger, nil
}

// NextFrame returns the frame with the smallest next event ID across all
// live stacks, ties broken by stack enumeration order. Returns (nil, nil)
// once every stack has ended.
func (m *Merger) NextFrame() (*Frame, error) {
	selected := -1
	var selectedID uint32

	for idx, stack := range m.stacks {
		meta, err := stack.PeekMetadata()
		if err != nil {
			return nil, err
		}
		if meta == nil {
			continue
		}
		if selected < 0 || meta.EventID < selectedID {
			selected = idx
			selectedID = meta.EventID
		}
	}

	if selected < 0 {
		return nil, nil
	}

	// Consume before dropping ended stacks: the index refers to the
	// current slice.
	frame, err := m.stacks[selected].NextFrame()
	if err != nil {
		return nil, err
	}

	live := m.stacks[:0]
	for _, stack := range m.stacks {
		if !stack.Ended() {
			live = append(live, stack)
		}
	}
	m.stacks = live

	return frame, nil
}

// TotalBytes returns the summed size of every file in every stack, used
// for progress accounting.
func (m *Merger) TotalBytes() uint64 {
	return m.totalBytes
}

// Stacks returns the live stacks. The writer records their file lists in
// the run metadata before merging starts.
func (m *Merger) Stacks() []*Stack {
	return m.stacks
}
