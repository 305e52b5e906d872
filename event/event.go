// Package event assembles merged GET frames into physics events.
//
// An event is every trace recorded with one event ID. The builder receives
// the merger's event-ordered frame stream and cuts it at event-ID
// boundaries; the event remaps each sample's hardware coordinate to its pad
// through the pad map and accumulates dense 512-bucket waveforms.
package event

import (
	"fmt"
	"sort"

	"github.com/attpc/attpc-merger/errs"
	"github.com/attpc/attpc-merger/graw"
	"github.com/attpc/attpc-merger/padmap"
)

// TimestampSyncCobo is the controller whose clock is synchronized with the
// FRIBDAQ; its timestamps land in the TimestampOther slot.
const TimestampSyncCobo = 10

// NumMatrixColumns is the width of the output data matrix: the five
// hardware coordinates followed by the 512 waveform samples.
const NumMatrixColumns = padmap.NumTimeBuckets + 5

// Event is a collection of traces sharing one event ID.
type Event struct {
	// ID is the DAQ-assigned event number.
	ID uint32
	// Timestamp is the shared clock of the non-synchronized controllers.
	Timestamp uint64
	// TimestampOther is the clock of TimestampSyncCobo, in sync with the
	// FRIBDAQ stream.
	TimestampOther uint64

	nframes int
	traces  map[padmap.HardwareID][]int16
}

// New assembles an event from frames that all carry the same event ID.
// Samples whose hardware coordinate is not in the pad map are dropped
// silently.
func New(pm *padmap.PadMap, frames []*graw.Frame) (*Event, error) {
	event := &Event{traces: make(map[padmap.HardwareID][]int16)}
	for _, frame := range frames {
		if err := event.appendFrame(pm, frame); err != nil {
			return nil, err
		}
	}

	return event, nil
}

// appendFrame merges one frame's samples into the event traces.
func (e *Event) appendFrame(pm *padmap.PadMap, frame *graw.Frame) error {
	if e.nframes == 0 {
		e.ID = frame.Header.EventID
	} else if e.ID != frame.Header.EventID {
		return fmt.Errorf("%w: frame %d, event %d",
			errs.ErrMismatchedEventID, frame.Header.EventID, e.ID)
	}

	if frame.Header.CoboID == TimestampSyncCobo {
		e.TimestampOther = frame.Header.EventTime
	} else {
		e.Timestamp = frame.Header.EventTime
	}

	for _, sample := range frame.Samples {
		hw, ok := pm.Lookup(frame.Header.CoboID, frame.Header.AsadID, sample.AgetID, sample.Channel)
		if !ok {
			continue
		}

		trace, ok := e.traces[hw]
		if !ok {
			trace = make([]int16, padmap.NumTimeBuckets)
			e.traces[hw] = trace
		}
		// Last write wins when a bucket appears twice.
		trace[sample.Bucket] = sample.Amplitude
	}

	e.nframes++

	return nil
}

// TraceCount returns the number of mapped channels with data.
func (e *Event) TraceCount() int {
	return len(e.traces)
}

// Trace returns the waveform for a hardware identity, or nil when the
// event holds no data for it.
func (e *Event) Trace(hw padmap.HardwareID) []int16 {
	return e.traces[hw]
}

// HeaderArray returns the event header in writer layout: event ID and the
// two timestamps.
func (e *Event) HeaderArray() [3]float64 {
	return [3]float64{float64(e.ID), float64(e.Timestamp), float64(e.TimestampOther)}
}

// DataMatrix flattens the event into the analysis layout: one row per
// mapped channel, each row holding cobo, asad, aget, channel, pad and the
// 512 amplitudes. Rows are ordered by pad number so output is
// deterministic. The matrix is returned row-major along with the row
// count.
func (e *Event) DataMatrix() (rows int, data []int16) {
	ids := make([]padmap.HardwareID, 0, len(e.traces))
	for hw := range e.traces {
		ids = append(ids, hw)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].PadID < ids[j].PadID })

	data = make([]int16, 0, len(ids)*NumMatrixColumns)
	for _, hw := range ids {
		data = append(data,
			int16(hw.CoboID), int16(hw.AsadID), int16(hw.AgetID), int16(hw.Channel), int16(hw.PadID))
		data = append(data, e.traces[hw]...)
	}

	return len(ids), data
}
