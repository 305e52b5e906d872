package event

import (
	"fmt"

	"github.com/attpc/attpc-merger/errs"
	"github.com/attpc/attpc-merger/graw"
	"github.com/attpc/attpc-merger/padmap"
)

// Builder groups the merger's frame stream into events.
//
// Frames arrive in non-decreasing event-ID order, so the first frame with a
// larger ID marks the previous event complete. "No current event" is an
// explicit state rather than an ID sentinel, so event ID 0 is a legitimate
// event.
type Builder struct {
	pm         *padmap.PadMap
	hasCurrent bool
	currentID  uint32
	stash      []*graw.Frame
}

// NewBuilder creates a Builder that remaps coordinates through pm.
func NewBuilder(pm *padmap.PadMap) *Builder {
	return &Builder{pm: pm}
}

// Append adds a frame to the event being built.
//
// A frame with the current event ID is stashed and (nil, nil) is returned.
// A frame with a greater ID completes the current event: the stash is
// assembled, the builder restarts on the new frame, and the finished event
// is returned. A frame with a smaller ID violates the merger's ordering
// contract and returns errs.ErrEventOutOfOrder.
func (b *Builder) Append(frame *graw.Frame) (*Event, error) {
	id := frame.Header.EventID

	switch {
	case !b.hasCurrent:
		b.hasCurrent = true
		b.currentID = id
		b.stash = append(b.stash, frame)

		return nil, nil
	case id > b.currentID:
		event, err := New(b.pm, b.stash)
		if err != nil {
			return nil, err
		}
		b.stash = b.stash[:0]
		b.currentID = id
		b.stash = append(b.stash, frame)

		return event, nil
	case id < b.currentID:
		return nil, fmt.Errorf("%w: frame %d after event %d",
			errs.ErrEventOutOfOrder, id, b.currentID)
	default:
		b.stash = append(b.stash, frame)

		return nil, nil
	}
}

// Flush assembles any stashed frames into a final event. Returns
// (nil, nil) when nothing is stashed. Used once the merger runs dry.
func (b *Builder) Flush() (*Event, error) {
	if len(b.stash) == 0 {
		return nil, nil
	}

	event, err := New(b.pm, b.stash)
	if err != nil {
		return nil, err
	}
	b.stash = b.stash[:0]
	b.hasCurrent = false

	return event, nil
}
