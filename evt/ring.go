// Package evt decodes the FRIBDAQ .evt stream that runs alongside the GET
// data.
//
// The stream is a sequence of ring items: variable-length records whose
// first little-endian 32-bit word is the total record length and whose type
// tag selects the payload layout. Physics items carry the VMUSB module
// stack and need their 4 KiB buffer boundaries stripped before parsing.
// All multi-byte integers are little-endian.
package evt

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/attpc/attpc-merger/endian"
	"github.com/attpc/attpc-merger/errs"
)

// RingType identifies the payload layout of a ring item.
type RingType uint8

// Ring item type tags as written by FRIBDAQ.
const (
	RingBeginRun RingType = 1
	RingEndRun   RingType = 2
	RingDummy    RingType = 12
	RingScalers  RingType = 20
	RingPhysics  RingType = 30
	RingCounter  RingType = 31
	RingInvalid  RingType = 0
)

// ringTypeFrom maps the raw type byte to a RingType, with unknown tags
// collapsing to RingInvalid.
func ringTypeFrom(b byte) RingType {
	switch RingType(b) {
	case RingBeginRun, RingEndRun, RingDummy, RingScalers, RingPhysics, RingCounter:
		return RingType(b)
	default:
		return RingInvalid
	}
}

// Ring framing constants: the type tag sits at byte 4; byte 8 equals
// headerPresentTag when a 28-byte secondary header precedes the payload,
// otherwise the payload starts at byte 12.
const (
	typeTagOffset    = 4
	headerFlagOffset = 8
	headerPresentTag = 20
	headerPresentLen = 28
	noHeaderLen      = 12
)

// RingItem is one length-prefixed record with its framing stripped.
type RingItem struct {
	// Size is the total on-disk record length in bytes.
	Size int
	// Bytes is the payload with the record framing removed.
	Bytes []byte
	// Type selects the payload layout.
	Type RingType
}

// ParseRingItem strips the record framing from a raw ring item buffer.
func ParseRingItem(buf []byte) (*RingItem, error) {
	if len(buf) < noHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", errs.ErrRingItemTooShort, len(buf))
	}

	payloadStart := noHeaderLen
	if buf[headerFlagOffset] == headerPresentTag && len(buf) >= headerPresentLen {
		payloadStart = headerPresentLen
	}

	payload := make([]byte, len(buf)-payloadStart)
	copy(payload, buf[payloadStart:])

	return &RingItem{
		Size:  len(buf),
		Bytes: payload,
		Type:  ringTypeFrom(buf[typeTagOffset]),
	}, nil
}

// RemoveBoundaries strips the VMUSB buffer boundaries embedded in a
// physics payload.
//
// The VMUSB controller inserts a boundary word every 4094 bytes. Starting
// at offset 0, each boundary's low 12 bits give a word count w; the two
// boundary bytes are erased and the cursor advances past the 2*w payload
// bytes that follow, landing on the next boundary. Only physics items
// carry boundaries.
func (r *RingItem) RemoveBoundaries() {
	engine := endian.GetLittleEndianEngine()

	cleaned := r.Bytes[:0]
	pos := 0
	for pos < len(r.Bytes) {
		if pos+2 > len(r.Bytes) {
			break
		}
		w := int(engine.Uint16(r.Bytes[pos:pos+2]) & 0x0FFF)
		pos += 2

		span := 2 * w
		if span > len(r.Bytes)-pos {
			span = len(r.Bytes) - pos
		}
		cleaned = append(cleaned, r.Bytes[pos:pos+span]...)
		pos += span
	}
	r.Bytes = cleaned
}

// reader is a little-endian cursor over a ring item payload. Every read
// reports errs.ErrRingItemTooShort on overrun so item parsers can wrap one
// error path.
type reader struct {
	buf    []byte
	pos    int
	engine endian.EndianEngine
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf, engine: endian.GetLittleEndianEngine()}
}

func (r *reader) ensure(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("%w: need %d bytes at offset %d of %d",
			errs.ErrRingItemTooShort, n, r.pos, len(r.buf))
	}

	return nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.ensure(2); err != nil {
		return 0, err
	}
	v := r.engine.Uint16(r.buf[r.pos:])
	r.pos += 2

	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.ensure(4); err != nil {
		return 0, err
	}
	v := r.engine.Uint32(r.buf[r.pos:])
	r.pos += 4

	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.ensure(8); err != nil {
		return 0, err
	}
	v := r.engine.Uint64(r.buf[r.pos:])
	r.pos += 8

	return v, nil
}

func (r *reader) skip(n int) error {
	if err := r.ensure(n); err != nil {
		return err
	}
	r.pos += n

	return nil
}

func (r *reader) seek(pos int) {
	r.pos = pos
}

func (r *reader) rest() []byte {
	return r.buf[r.pos:]
}

// BeginRunItem carries the run number, start time and title.
type BeginRunItem struct {
	Run   uint32
	Start uint32
	Title string
}

// ParseBeginRun decodes a BeginRun payload: run number, four skip bytes,
// start time, four skip bytes, then a null- or EOF-terminated title.
func ParseBeginRun(item *RingItem) (BeginRunItem, error) {
	r := newReader(item.Bytes)

	var info BeginRunItem
	var err error
	if info.Run, err = r.u32(); err != nil {
		return info, err
	}
	if err = r.skip(4); err != nil {
		return info, err
	}
	if info.Start, err = r.u32(); err != nil {
		return info, err
	}
	if err = r.skip(4); err != nil {
		return info, err
	}

	title := r.rest()
	if i := bytes.IndexByte(title, 0); i >= 0 {
		title = title[:i]
	}
	info.Title = string(title)

	return info, nil
}

// String formats the begin-run info for logging.
func (b BeginRunItem) String() string {
	return fmt.Sprintf("Run Number: %d Title: %s", b.Run, b.Title)
}

// EndRunItem carries the run stop time and the elapsed seconds.
type EndRunItem struct {
	Stop    uint32
	Elapsed uint32
}

// ParseEndRun decodes an EndRun payload.
func ParseEndRun(item *RingItem) (EndRunItem, error) {
	r := newReader(item.Bytes)

	var info EndRunItem
	var err error
	if info.Stop, err = r.u32(); err != nil {
		return info, err
	}
	if info.Elapsed, err = r.u32(); err != nil {
		return info, err
	}

	return info, nil
}

// RunInfo pairs the begin and end run items for the writer.
type RunInfo struct {
	Begin BeginRunItem
	End   EndRunItem
}

// ScalersItem carries one read of the FRIBDAQ scaler counters.
type ScalersItem struct {
	StartOffset uint32
	StopOffset  uint32
	Timestamp   uint32
	Incremental uint32
	Data        []uint32
}

// ParseScalers decodes a Scalers payload: start offset, stop offset,
// timestamp, a dummy word, the scaler count, the incremental flag and then
// the scaler values.
func ParseScalers(item *RingItem) (ScalersItem, error) {
	r := newReader(item.Bytes)

	var info ScalersItem
	var err error
	if info.StartOffset, err = r.u32(); err != nil {
		return info, err
	}
	if info.StopOffset, err = r.u32(); err != nil {
		return info, err
	}
	if info.Timestamp, err = r.u32(); err != nil {
		return info, err
	}
	if _, err = r.u32(); err != nil { // dummy word
		return info, err
	}
	count, err := r.u32()
	if err != nil {
		return info, err
	}
	if info.Incremental, err = r.u32(); err != nil {
		return info, err
	}

	info.Data = make([]uint32, count)
	for i := range info.Data {
		if info.Data[i], err = r.u32(); err != nil {
			return info, err
		}
	}

	return info, nil
}

// HeaderArray returns the scaler metadata in writer layout.
func (s ScalersItem) HeaderArray() [5]uint32 {
	return [5]uint32{s.StartOffset, s.StopOffset, s.Timestamp, uint32(len(s.Data)), s.Incremental}
}

// CounterItem carries the running count of physics items seen by FRIBDAQ.
type CounterItem struct {
	Count uint64
}

// ParseCounter decodes a Counter payload: twelve skip bytes, then the
// 64-bit count.
func ParseCounter(item *RingItem) (CounterItem, error) {
	r := newReader(item.Bytes)

	var info CounterItem
	if err := r.skip(12); err != nil {
		return info, err
	}

	var err error
	if info.Count, err = r.u64(); err != nil {
		return info, err
	}

	return info, nil
}

// Module tags of the AT-TPC VMUSB stack, in readout order.
const (
	tagSIS3300 = 0x1903
	tagV977    = 0x0977
)

// PhysicsItem carries the modules read by the VMUSB controller for one
// trigger: the SIS3300 flash ADC and the V977 coincidence register.
//
// The stack layout is fixed by the DAQ configuration; a tag out of order
// means the readout was reconfigured and the data cannot be unpacked.
type PhysicsItem struct {
	Event     uint32
	Timestamp uint32
	FADC      SIS3300Item
	Coinc     V977Item
}

// ParsePhysics decodes a physics payload. Call RemoveBoundaries on the
// item first.
func ParsePhysics(item *RingItem) (PhysicsItem, error) {
	r := newReader(item.Bytes)

	var info PhysicsItem
	var err error
	if info.Event, err = r.u32(); err != nil {
		return info, err
	}
	if info.Timestamp, err = r.u32(); err != nil {
		return info, err
	}

	tag, err := r.u16()
	if err != nil {
		return info, err
	}
	if tag != tagSIS3300 {
		return info, fmt.Errorf("%w: found %#x, expected SIS3300 tag %#x", errs.ErrStackOrder, tag, tagSIS3300)
	}
	if err := info.FADC.parse(r); err != nil {
		return info, err
	}

	if tag, err = r.u16(); err != nil {
		return info, err
	}
	if tag != tagV977 {
		return info, fmt.Errorf("%w: found %#x, expected V977 tag %#x", errs.ErrStackOrder, tag, tagV977)
	}
	if err := info.Coinc.parse(r); err != nil {
		return info, err
	}

	return info, nil
}

// HeaderArray returns the physics metadata in writer layout.
func (p PhysicsItem) HeaderArray() [2]uint32 {
	return [2]uint32{p.Event, p.Timestamp}
}

// SIS3300Item is the readout of the Struck SIS3300 eight-channel 12-bit
// flash ADC.
//
// The module records into a circular memory, so the start of the recorded
// window sits at an arbitrary write pointer within the transferred block.
// Channels are read in pairs per group; each trace is reassembled into
// time order during parsing.
type SIS3300Item struct {
	Traces   [8][]uint16
	Samples  int
	Channels int
}

// parse reads the SIS3300 segment: a group-enable bitmap, an ignored DAQ
// register, and for each enabled group a header word, the group trigger
// register, the sample count and the sample block followed by a trailer.
//
// Bits 0-16 of the group trigger are the write pointer p, bit 19 the
// wrap-around flag. With the wrap flag set and p inside the window, the
// oldest sample lives at p+1: the tail of the block is read first, then
// the head, restoring time order.
func (s *SIS3300Item) parse(r *reader) error {
	enable, err := r.u16()
	if err != nil {
		return err
	}
	if _, err := r.u32(); err != nil { // DAQ register, never used
		return err
	}

	for group := 0; group < 4; group++ {
		if enable&(1<<group) == 0 {
			continue
		}
		s.Channels += 2 // channels are read in pairs

		header, err := r.u16()
		if err != nil {
			return err
		}
		if header != 0xFADC {
			slog.Warn("invalid SIS3300 group header, abandoning segment",
				slog.String("header", fmt.Sprintf("%#x", header)))

			break
		}

		trigger, err := r.u32()
		if err != nil {
			return err
		}
		count, err := r.u32()
		if err != nil {
			return err
		}
		s.Samples = int(count)

		low := make([]uint16, s.Samples)
		high := make([]uint16, s.Samples)
		s.Traces[group*2] = low
		s.Traces[group*2+1] = high

		pointer := int(trigger & 0x1FFFF)
		start := r.pos

		readPair := func(idx int) error {
			hi, err := r.u16()
			if err != nil {
				return err
			}
			lo, err := r.u16()
			if err != nil {
				return err
			}
			high[idx] = hi & 0x0FFF
			low[idx] = lo & 0x0FFF

			return nil
		}

		if trigger&0x80000 != 0 && pointer < s.Samples-1 {
			// Wrapped window: the oldest pair sits just past the write
			// pointer. Read the tail into the front of the traces, then
			// the head behind it.
			inc := s.Samples - pointer - 2
			r.seek(start + (pointer+1)*4)
			for p := 0; p <= inc; p++ {
				if err := readPair(p); err != nil {
					return err
				}
			}
			r.seek(start)
			for p := 0; p < s.Samples-inc-1; p++ {
				if err := readPair(p + inc + 1); err != nil {
					return err
				}
			}
		} else {
			for p := 0; p < s.Samples; p++ {
				if err := readPair(p); err != nil {
					return err
				}
			}
		}

		r.seek(start + s.Samples*4)
		trailer, err := r.u16()
		if err != nil {
			return err
		}
		if trailer != 0xFFFF {
			slog.Warn("invalid SIS3300 group trailer, abandoning segment",
				slog.String("trailer", fmt.Sprintf("%#x", trailer)))

			break
		}
	}

	return nil
}

// V977Item is the CAEN V977 16-bit coincidence register: a single flag
// word.
type V977Item struct {
	Coinc uint16
}

func (v *V977Item) parse(r *reader) error {
	var err error
	v.Coinc, err = r.u16()

	return err
}
