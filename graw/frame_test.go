package graw

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attpc/attpc-merger/endian"
	"github.com/attpc/attpc-merger/errs"
)

// encodeHeader writes the 31-byte big-endian frame header into buf.
func encodeHeader(buf []byte, h FrameHeader) {
	engine := endian.GetBigEndianEngine()

	buf[0] = h.MetaType
	buf[1] = byte(h.FrameSize >> 16)
	buf[2] = byte(h.FrameSize >> 8)
	buf[3] = byte(h.FrameSize)
	buf[4] = h.DataSource
	engine.PutUint16(buf[5:7], h.FrameType)
	buf[7] = h.Revision
	engine.PutUint16(buf[8:10], h.HeaderSize)
	engine.PutUint16(buf[10:12], h.ItemSize)
	engine.PutUint32(buf[12:16], h.ItemCount)
	buf[16] = byte(h.EventTime >> 40)
	buf[17] = byte(h.EventTime >> 32)
	buf[18] = byte(h.EventTime >> 24)
	buf[19] = byte(h.EventTime >> 16)
	buf[20] = byte(h.EventTime >> 8)
	buf[21] = byte(h.EventTime)
	engine.PutUint32(buf[22:26], h.EventID)
	buf[26] = h.CoboID
	buf[27] = h.AsadID
	engine.PutUint16(buf[28:30], h.ReadOffset)
	buf[30] = h.Status
}

// frameBuffer builds a complete frame buffer around the given item table,
// with extraUnits additional 256-byte padding units at the tail.
func frameBuffer(frameType uint16, itemSize int, items []byte, meta FrameMetadata, cobo, asad uint8, extraUnits int) []byte {
	units := (len(items)+SizeUnit+SizeUnit-1)/SizeUnit + extraUnits
	buf := make([]byte, units*SizeUnit)

	encodeHeader(buf, FrameHeader{
		MetaType:   expectedMetaType,
		FrameSize:  uint32(units),
		FrameType:  frameType,
		HeaderSize: expectedHeaderSize,
		ItemSize:   uint16(itemSize),
		ItemCount:  uint32(len(items) / itemSize),
		EventTime:  meta.EventTime,
		EventID:    meta.EventID,
		CoboID:     cobo,
		AsadID:     asad,
	})
	copy(buf[SizeUnit:], items)

	return buf
}

func encodePartialItem(s Sample) uint32 {
	return uint32(s.AgetID)<<30 |
		uint32(s.Channel)<<23 |
		uint32(s.Bucket)<<14 |
		uint32(uint16(s.Amplitude)&0x0FFF)
}

func partialFrameBuffer(meta FrameMetadata, cobo, asad uint8, samples []Sample, extraUnits int) []byte {
	engine := endian.GetBigEndianEngine()

	var items []byte
	for _, s := range samples {
		items = engine.AppendUint32(items, encodePartialItem(s))
	}

	return frameBuffer(FrameTypePartial, itemSizePartial, items, meta, cobo, asad, extraUnits)
}

func fullFrameBuffer(meta FrameMetadata, cobo, asad uint8, chipAmps [][2]int16, extraUnits int) []byte {
	engine := endian.GetBigEndianEngine()

	var items []byte
	for _, ca := range chipAmps {
		items = engine.AppendUint16(items, uint16(ca[0])<<14|uint16(ca[1])&0x0FFF)
	}

	return frameBuffer(FrameTypeFull, itemSizeFull, items, meta, cobo, asad, extraUnits)
}

func TestParseFrameHeader(t *testing.T) {
	buf := make([]byte, SizeUnit)
	want := FrameHeader{
		MetaType:   expectedMetaType,
		FrameSize:  0x123456,
		DataSource: 3,
		FrameType:  FrameTypePartial,
		Revision:   5,
		HeaderSize: expectedHeaderSize,
		ItemSize:   itemSizePartial,
		ItemCount:  42,
		EventTime:  0x0000_8899_AABB_CCDD & 0x0000_FFFF_FFFF_FFFF,
		EventID:    7,
		CoboID:     1,
		AsadID:     2,
		ReadOffset: 0x0102,
		Status:     1,
	}
	encodeHeader(buf, want)

	got, err := ParseFrameHeader(buf)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, FrameMetadata{EventID: 7, EventTime: want.EventTime}, got.Metadata())
}

func TestParseFrameHeaderShortBuffer(t *testing.T) {
	_, err := ParseFrameHeader(make([]byte, frameHeaderLen-1))
	require.ErrorIs(t, err, errs.ErrShortFrame)
}

func TestFrameHeaderValidate(t *testing.T) {
	valid := func() FrameHeader {
		return FrameHeader{
			MetaType:   expectedMetaType,
			FrameSize:  2,
			FrameType:  FrameTypePartial,
			HeaderSize: expectedHeaderSize,
			ItemSize:   itemSizePartial,
			ItemCount:  2,
		}
	}
	const bufLen = 2 * SizeUnit

	t.Run("Valid", func(t *testing.T) {
		require.NoError(t, valid().Validate(bufLen))
	})

	t.Run("Bad meta type", func(t *testing.T) {
		h := valid()
		h.MetaType = 6
		require.ErrorIs(t, h.Validate(bufLen), errs.ErrBadMetaType)
	})

	t.Run("Bad frame size", func(t *testing.T) {
		h := valid()
		require.ErrorIs(t, h.Validate(bufLen+1), errs.ErrBadFrameSize)
	})

	t.Run("Bad frame type", func(t *testing.T) {
		h := valid()
		h.FrameType = 3
		require.ErrorIs(t, h.Validate(bufLen), errs.ErrBadFrameType)
	})

	t.Run("Bad header size", func(t *testing.T) {
		h := valid()
		h.HeaderSize = 2
		require.ErrorIs(t, h.Validate(bufLen), errs.ErrBadHeaderSize)
	})

	t.Run("Bad item size", func(t *testing.T) {
		h := valid()
		h.ItemSize = itemSizeFull
		require.ErrorIs(t, h.Validate(bufLen), errs.ErrBadItemSize)

		h = valid()
		h.FrameType = FrameTypeFull
		require.ErrorIs(t, h.Validate(bufLen), errs.ErrBadItemSize)
	})

	t.Run("Item table overflows declared size", func(t *testing.T) {
		h := valid()
		h.ItemCount = 65 // 65*4 + 256 needs 3 units, only 2 declared
		require.ErrorIs(t, h.Validate(bufLen), errs.ErrBadItemCount)
	})

	t.Run("Tail padding allowed", func(t *testing.T) {
		h := valid()
		h.FrameSize = 3
		require.NoError(t, h.Validate(3*SizeUnit))
	})
}

func TestParseFramePartial(t *testing.T) {
	meta := FrameMetadata{EventID: 7}
	samples := []Sample{
		{AgetID: 1, Channel: 1, Bucket: 1, Amplitude: 0},
		{AgetID: 2, Channel: 0, Bucket: 2, Amplitude: 1},
	}
	// frame_size 3: one header unit, one item unit, one tail padding unit.
	buf := partialFrameBuffer(meta, 1, 2, samples, 1)
	require.Len(t, buf, 3*SizeUnit)

	frame, err := ParseFrame(buf)
	require.NoError(t, err)
	require.Equal(t, uint32(7), frame.Header.EventID)
	require.Equal(t, uint8(1), frame.Header.CoboID)
	require.Equal(t, uint8(2), frame.Header.AsadID)
	require.Equal(t, samples, frame.Samples)
}

func TestParseFramePartialRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	samples := make([]Sample, 300)
	for i := range samples {
		samples[i] = Sample{
			AgetID:    uint8(rng.Intn(4)),
			Channel:   uint8(rng.Intn(68)),
			Bucket:    uint16(rng.Intn(512)),
			Amplitude: int16(rng.Intn(4096)),
		}
	}

	frame, err := ParseFrame(partialFrameBuffer(FrameMetadata{EventID: 1}, 0, 0, samples, 0))
	require.NoError(t, err)
	require.Equal(t, samples, frame.Samples)
}

func TestParseFramePartialDropsInvalidSamples(t *testing.T) {
	samples := []Sample{
		{AgetID: 0, Channel: 5, Bucket: 3, Amplitude: 10},
		{AgetID: 1, Channel: 100, Bucket: 0, Amplitude: 11}, // channel out of range
		{AgetID: 2, Channel: 6, Bucket: 4, Amplitude: 12},
	}

	frame, err := ParseFrame(partialFrameBuffer(FrameMetadata{EventID: 1}, 0, 0, samples, 0))
	require.NoError(t, err)
	require.Equal(t, []Sample{samples[0], samples[2]}, frame.Samples)
}

func TestParseFrameFull(t *testing.T) {
	chipAmps := [][2]int16{{0, 100}, {0, 101}, {0, 102}, {0, 103}}

	frame, err := ParseFrame(fullFrameBuffer(FrameMetadata{EventID: 3}, 0, 0, chipAmps, 0))
	require.NoError(t, err)
	require.Equal(t, []Sample{
		{AgetID: 0, Channel: 0, Bucket: 0, Amplitude: 100},
		{AgetID: 0, Channel: 1, Bucket: 0, Amplitude: 101},
		{AgetID: 0, Channel: 2, Bucket: 0, Amplitude: 102},
		{AgetID: 0, Channel: 3, Bucket: 0, Amplitude: 103},
	}, frame.Samples)
}

func TestParseFrameFullCounterReconstruction(t *testing.T) {
	// Two chips interleaved: per-chip counters must advance independently,
	// wrapping the channel every 68 items.
	chipAmps := make([][2]int16, 0, 2*70)
	for i := 0; i < 70; i++ {
		chipAmps = append(chipAmps, [2]int16{0, int16(i)}, [2]int16{3, int16(i)})
	}

	frame, err := ParseFrame(fullFrameBuffer(FrameMetadata{EventID: 3}, 0, 0, chipAmps, 0))
	require.NoError(t, err)
	require.Len(t, frame.Samples, 2*70)

	for _, chipID := range []uint8{0, 3} {
		count := 0
		for _, s := range frame.Samples {
			if s.AgetID != chipID {
				continue
			}
			require.Equal(t, uint8(count%68), s.Channel)
			require.Equal(t, uint16(count/68), s.Bucket)
			count++
		}
		require.Equal(t, 70, count)
	}
}

func TestParseFrameIgnoresTailPadding(t *testing.T) {
	samples := []Sample{{AgetID: 0, Channel: 1, Bucket: 2, Amplitude: 3}}

	// Two padding units full of bytes that would decode as garbage items.
	buf := partialFrameBuffer(FrameMetadata{EventID: 9}, 0, 0, samples, 2)
	for i := 2 * SizeUnit; i < len(buf); i++ {
		buf[i] = 0xFF
	}

	frame, err := ParseFrame(buf)
	require.NoError(t, err)
	require.Equal(t, samples, frame.Samples)
}

func TestHitPatternTest(t *testing.T) {
	var p HitPattern
	p[hitPatternBytes-1] = 0x01 // bit 0
	p[0] = 0x80                 // bit 71

	require.True(t, p.Test(0))
	require.False(t, p.Test(1))
	require.True(t, p.Test(71))
	require.False(t, p.Test(72))
	require.False(t, p.Test(-1))
}

func TestParseFrameReadsHitPatternsAndMultiplicity(t *testing.T) {
	buf := partialFrameBuffer(FrameMetadata{EventID: 1}, 0, 0, nil, 0)

	// Chip 2's pattern and multiplicity live at fixed offsets behind the
	// header fields.
	patternOffset := frameHeaderLen + 2*hitPatternBytes
	buf[patternOffset+hitPatternBytes-1] = 0x03
	multOffset := frameHeaderLen + 4*hitPatternBytes + 2*2
	buf[multOffset] = 0x01
	buf[multOffset+1] = 0x02

	frame, err := ParseFrame(buf)
	require.NoError(t, err)
	require.True(t, frame.HitPatterns[2].Test(0))
	require.True(t, frame.HitPatterns[2].Test(1))
	require.False(t, frame.HitPatterns[2].Test(2))
	require.Equal(t, uint16(0x0102), frame.Multiplicity[2])
}
