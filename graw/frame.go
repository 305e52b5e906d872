// Package graw decodes the binary .graw files written by the GET
// electronics and merges the per-board file stacks of a run into a single
// event-ordered frame stream.
//
// A .graw file is a sequence of frames. Each frame is the readout of one
// AsAd board for one event: a 256-byte header unit carrying sizing and
// event identity, four 72-bit per-chip hit patterns, four multiplicities,
// and a table of waveform samples in one of two encodings (partial or
// full). All multi-byte integers are big-endian.
package graw

import (
	"fmt"
	"log/slog"

	"github.com/attpc/attpc-merger/endian"
	"github.com/attpc/attpc-merger/errs"
	"github.com/attpc/attpc-merger/padmap"
)

// Frame layout constants. Sizes in the header are measured in 256-byte
// units.
const (
	SizeUnit = 256

	FrameTypePartial = 1
	FrameTypeFull    = 2

	expectedMetaType   = 8
	expectedHeaderSize = 1
	itemSizePartial    = 4
	itemSizeFull       = 2

	frameHeaderLen  = 31
	hitPatternBytes = 9
)

// Sample is one digitized point of one channel's waveform.
type Sample struct {
	AgetID    uint8
	Channel   uint8
	Bucket    uint16
	Amplitude int16
}

// check validates the sample coordinates against the hardware limits.
func (s Sample) check() error {
	if s.AgetID >= padmap.NumAGETs {
		return fmt.Errorf("%w: %d", errs.ErrBadAgetID, s.AgetID)
	}
	if s.Channel >= padmap.NumChannels {
		return fmt.Errorf("%w: %d", errs.ErrBadChannel, s.Channel)
	}
	if int(s.Bucket) >= padmap.NumTimeBuckets {
		return fmt.Errorf("%w: %d", errs.ErrBadTimeBucket, s.Bucket)
	}

	return nil
}

// FrameMetadata is the event identity of a frame, readable from the header
// alone. File stacks peek this without consuming the frame.
type FrameMetadata struct {
	EventID   uint32
	EventTime uint64
}

// FrameHeader is the decoded fixed header of a frame.
type FrameHeader struct {
	MetaType   uint8
	FrameSize  uint32 // in 256-byte units, stored on disk as 24 bits
	DataSource uint8
	FrameType  uint16
	Revision   uint8
	HeaderSize uint16 // in 256-byte units
	ItemSize   uint16 // bytes per item
	ItemCount  uint32
	EventTime  uint64 // stored on disk as 48 bits
	EventID    uint32
	CoboID     uint8
	AsadID     uint8
	ReadOffset uint16
	Status     uint8
}

// Metadata returns the event identity carried by the header.
func (h FrameHeader) Metadata() FrameMetadata {
	return FrameMetadata{EventID: h.EventID, EventTime: h.EventTime}
}

// ParseFrameHeader decodes the frame header from the start of buf.
//
// The 24-bit frame size and 48-bit event time have no primitive width, so
// they are composed explicitly from big-endian bytes into 32- and 64-bit
// holders.
func ParseFrameHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < frameHeaderLen {
		return FrameHeader{}, fmt.Errorf("%w: %d bytes", errs.ErrShortFrame, len(buf))
	}

	engine := endian.GetBigEndianEngine()

	var h FrameHeader
	h.MetaType = buf[0]
	h.FrameSize = uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
	h.DataSource = buf[4]
	h.FrameType = engine.Uint16(buf[5:7])
	h.Revision = buf[7]
	h.HeaderSize = engine.Uint16(buf[8:10])
	h.ItemSize = engine.Uint16(buf[10:12])
	h.ItemCount = engine.Uint32(buf[12:16])
	h.EventTime = uint64(buf[16])<<40 | uint64(buf[17])<<32 | uint64(buf[18])<<24 |
		uint64(buf[19])<<16 | uint64(buf[20])<<8 | uint64(buf[21])
	h.EventID = engine.Uint32(buf[22:26])
	h.CoboID = buf[26]
	h.AsadID = buf[27]
	h.ReadOffset = engine.Uint16(buf[28:30])
	h.Status = buf[30]

	return h, nil
}

// Validate checks the header invariants against the length of the frame
// buffer. Each failed invariant maps to its own sentinel error.
func (h FrameHeader) Validate(bufLen int) error {
	if h.MetaType != expectedMetaType {
		return fmt.Errorf("%w: found %d, expected %d", errs.ErrBadMetaType, h.MetaType, expectedMetaType)
	}
	if int(h.FrameSize)*SizeUnit != bufLen {
		return fmt.Errorf("%w: declared %d units, buffer %d bytes", errs.ErrBadFrameSize, h.FrameSize, bufLen)
	}
	if h.FrameType != FrameTypePartial && h.FrameType != FrameTypeFull {
		return fmt.Errorf("%w: found %d", errs.ErrBadFrameType, h.FrameType)
	}
	if h.HeaderSize != expectedHeaderSize {
		return fmt.Errorf("%w: found %d, expected %d", errs.ErrBadHeaderSize, h.HeaderSize, expectedHeaderSize)
	}
	if (h.FrameType == FrameTypePartial && h.ItemSize != itemSizePartial) ||
		(h.FrameType == FrameTypeFull && h.ItemSize != itemSizeFull) {
		return fmt.Errorf("%w: found %d for frame type %d", errs.ErrBadItemSize, h.ItemSize, h.FrameType)
	}
	// The declared frame must be large enough to hold the header unit plus
	// the item table. DAQ fragments may pad the tail with extra units, so
	// larger declared sizes are allowed; the padding is never parsed.
	itemBytes := int(h.ItemCount) * int(h.ItemSize)
	minUnits := (itemBytes + int(h.HeaderSize)*SizeUnit + SizeUnit - 1) / SizeUnit
	if minUnits > int(h.FrameSize) {
		return fmt.Errorf("%w: %d items of %d bytes do not fit %d units",
			errs.ErrBadItemCount, h.ItemCount, h.ItemSize, h.FrameSize)
	}

	return nil
}

// HitPattern is one chip's 72-bit hit bitmap as stored on disk: nine bytes,
// most significant byte first.
type HitPattern [hitPatternBytes]byte

// Test reports whether bit n (0 = least significant) is set.
func (p HitPattern) Test(n int) bool {
	if n < 0 || n >= hitPatternBytes*8 {
		return false
	}

	return p[hitPatternBytes-1-n/8]&(1<<(n%8)) != 0
}

// Frame is one decoded readout of one AsAd board.
type Frame struct {
	Header       FrameHeader
	HitPatterns  [padmap.NumAGETs]HitPattern
	Multiplicity [padmap.NumAGETs]uint16
	Samples      []Sample
}

// ParseFrame decodes a complete frame from a buffer sized to the declared
// frame length.
//
// Exactly ItemCount*ItemSize bytes of item data are parsed; padding between
// the preamble and the item table and at the frame tail is skipped, never
// interpreted. Samples whose coordinates fall outside the hardware limits
// are logged and dropped in both encodings.
func ParseFrame(buf []byte) (*Frame, error) {
	header, err := ParseFrameHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := header.Validate(len(buf)); err != nil {
		return nil, err
	}

	engine := endian.GetBigEndianEngine()
	frame := &Frame{Header: header}

	pos := frameHeaderLen
	for chip := 0; chip < padmap.NumAGETs; chip++ {
		copy(frame.HitPatterns[chip][:], buf[pos:pos+hitPatternBytes])
		pos += hitPatternBytes
	}
	for chip := 0; chip < padmap.NumAGETs; chip++ {
		frame.Multiplicity[chip] = engine.Uint16(buf[pos : pos+2])
		pos += 2
	}

	// Skip the preamble padding: the item table starts at the end of the
	// declared header unit.
	pos = int(header.HeaderSize) * SizeUnit
	items := buf[pos : pos+int(header.ItemCount)*int(header.ItemSize)]

	switch header.FrameType {
	case FrameTypePartial:
		frame.decodePartialItems(items)
	case FrameTypeFull:
		frame.decodeFullItems(items)
	}

	return frame, nil
}

// decodePartialItems decodes 32-bit items carrying all four sample fields:
// chip in bits 31-30, channel in bits 29-23, time bucket in bits 22-14 and
// amplitude in bits 11-0.
func (f *Frame) decodePartialItems(items []byte) {
	engine := endian.GetBigEndianEngine()
	f.Samples = make([]Sample, 0, len(items)/itemSizePartial)

	for pos := 0; pos+itemSizePartial <= len(items); pos += itemSizePartial {
		raw := engine.Uint32(items[pos : pos+itemSizePartial])
		sample := Sample{
			AgetID:    uint8(raw >> 30),
			Channel:   uint8((raw >> 23) & 0x7F),
			Bucket:    uint16((raw >> 14) & 0x1FF),
			Amplitude: int16(raw & 0x0FFF),
		}
		if err := sample.check(); err != nil {
			slog.Warn("dropping invalid sample in partial frame",
				slog.Uint64("event_id", uint64(f.Header.EventID)),
				slog.Any("error", err))

			continue
		}
		f.Samples = append(f.Samples, sample)
	}
}

// decodeFullItems decodes 16-bit items carrying only the chip (bits 15-14)
// and amplitude (bits 11-0). Channel and time bucket are reconstructed by
// counting items per chip: the bucket is count/68 and the channel is
// count mod 68.
func (f *Frame) decodeFullItems(items []byte) {
	engine := endian.GetBigEndianEngine()
	f.Samples = make([]Sample, 0, len(items)/itemSizeFull)

	var counters [padmap.NumAGETs]uint32
	for pos := 0; pos+itemSizeFull <= len(items); pos += itemSizeFull {
		raw := engine.Uint16(items[pos : pos+itemSizeFull])
		chip := uint8(raw >> 14)
		sample := Sample{
			AgetID:    chip,
			Channel:   uint8(counters[chip] % padmap.NumChannels),
			Bucket:    uint16(counters[chip] / padmap.NumChannels),
			Amplitude: int16(raw & 0x0FFF),
		}
		counters[chip]++

		if err := sample.check(); err != nil {
			slog.Warn("dropping invalid sample in full frame",
				slog.Uint64("event_id", uint64(f.Header.EventID)),
				slog.Any("error", err))

			continue
		}
		f.Samples = append(f.Samples, sample)
	}
}
