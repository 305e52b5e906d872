package evt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attpc/attpc-merger/endian"
	"github.com/attpc/attpc-merger/errs"
)

var le = endian.GetLittleEndianEngine()

// rawRingItem frames a payload as an on-disk ring item record.
func rawRingItem(ringType RingType, withHeader bool, payload []byte) []byte {
	headerLen := noHeaderLen
	if withHeader {
		headerLen = headerPresentLen
	}

	buf := make([]byte, headerLen+len(payload))
	le.PutUint32(buf[0:4], uint32(len(buf)))
	buf[typeTagOffset] = byte(ringType)
	if withHeader {
		buf[headerFlagOffset] = headerPresentTag
	}
	copy(buf[headerLen:], payload)

	return buf
}

func TestParseRingItem(t *testing.T) {
	t.Run("Without secondary header", func(t *testing.T) {
		item, err := ParseRingItem(rawRingItem(RingBeginRun, false, []byte{1, 2, 3}))
		require.NoError(t, err)
		require.Equal(t, RingBeginRun, item.Type)
		require.Equal(t, noHeaderLen+3, item.Size)
		require.Equal(t, []byte{1, 2, 3}, item.Bytes)
	})

	t.Run("With secondary header", func(t *testing.T) {
		item, err := ParseRingItem(rawRingItem(RingPhysics, true, []byte{9, 9}))
		require.NoError(t, err)
		require.Equal(t, RingPhysics, item.Type)
		require.Equal(t, []byte{9, 9}, item.Bytes)
	})

	t.Run("Unknown tag is invalid", func(t *testing.T) {
		item, err := ParseRingItem(rawRingItem(RingType(99), false, nil))
		require.NoError(t, err)
		require.Equal(t, RingInvalid, item.Type)
	})

	t.Run("Too short", func(t *testing.T) {
		_, err := ParseRingItem(make([]byte, noHeaderLen-1))
		require.ErrorIs(t, err, errs.ErrRingItemTooShort)
	})
}

func TestRemoveBoundaries(t *testing.T) {
	t.Run("Two boundaries", func(t *testing.T) {
		// First boundary declares 4 words (8 bytes), the second sits
		// mid-stream with junk in its upper bits masked off (0xF003 ->
		// 3 words) and runs past the end of the buffer.
		item := &RingItem{Bytes: []byte{
			0x04, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22,
			0x03, 0xF0, 0x99,
		}}
		item.RemoveBoundaries()
		require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22, 0x99}, item.Bytes)
	})

	t.Run("Single boundary covering whole payload", func(t *testing.T) {
		payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		item := &RingItem{Bytes: append([]byte{0x05, 0x00}, payload...)}
		item.RemoveBoundaries()
		require.Equal(t, payload, item.Bytes)
	})

	t.Run("Empty payload", func(t *testing.T) {
		item := &RingItem{Bytes: nil}
		item.RemoveBoundaries()
		require.Empty(t, item.Bytes)
	})
}

func TestParseBeginRun(t *testing.T) {
	payload := le.AppendUint32(nil, 124)           // run number
	payload = le.AppendUint32(payload, 0xDEAD)     // skipped
	payload = le.AppendUint32(payload, 1_700_000)  // start time
	payload = le.AppendUint32(payload, 0xBEEF)     // skipped
	payload = append(payload, "16O(d,p) test"...)  // title
	payload = append(payload, 0x00, 0x41)          // null terminator + trailing junk

	info, err := ParseBeginRun(&RingItem{Bytes: payload, Type: RingBeginRun})
	require.NoError(t, err)
	require.Equal(t, uint32(124), info.Run)
	require.Equal(t, uint32(1_700_000), info.Start)
	require.Equal(t, "16O(d,p) test", info.Title)
}

func TestParseEndRun(t *testing.T) {
	payload := le.AppendUint32(nil, 1_800_000)
	payload = le.AppendUint32(payload, 3600)

	info, err := ParseEndRun(&RingItem{Bytes: payload, Type: RingEndRun})
	require.NoError(t, err)
	require.Equal(t, uint32(1_800_000), info.Stop)
	require.Equal(t, uint32(3600), info.Elapsed)
}

func TestParseScalers(t *testing.T) {
	payload := []byte{
		0x00, 0x10, 0x00, 0x00, // start offset 0x1000
		0x00, 0x20, 0x00, 0x00, // stop offset 0x2000
		0x01, 0x02, 0x03, 0x04, // timestamp 0x04030201
		0x00, 0x00, 0x00, 0x00, // dummy
		0x02, 0x00, 0x00, 0x00, // count 2
		0x01, 0x00, 0x00, 0x00, // incremental 1
		0xAA, 0x00, 0x00, 0x00,
		0xBB, 0x00, 0x00, 0x00,
	}

	info, err := ParseScalers(&RingItem{Bytes: payload, Type: RingScalers})
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), info.StartOffset)
	require.Equal(t, uint32(0x2000), info.StopOffset)
	require.Equal(t, uint32(0x04030201), info.Timestamp)
	require.Equal(t, uint32(1), info.Incremental)
	require.Equal(t, []uint32{0xAA, 0xBB}, info.Data)
	require.Equal(t, [5]uint32{0x1000, 0x2000, 0x04030201, 2, 1}, info.HeaderArray())
}

func TestParseScalersTruncated(t *testing.T) {
	payload := le.AppendUint32(nil, 0)
	_, err := ParseScalers(&RingItem{Bytes: payload, Type: RingScalers})
	require.ErrorIs(t, err, errs.ErrRingItemTooShort)
}

func TestParseCounter(t *testing.T) {
	payload := make([]byte, 12)
	payload = le.AppendUint64(payload, 123456)

	info, err := ParseCounter(&RingItem{Bytes: payload, Type: RingCounter})
	require.NoError(t, err)
	require.Equal(t, uint64(123456), info.Count)
}

// fadcGroup appends one SIS3300 group segment: header, trigger, count and
// the sample pairs followed by the trailer. Each pair is (high, low).
func fadcGroup(buf []byte, trigger uint32, pairs [][2]uint16) []byte {
	buf = le.AppendUint16(buf, 0xFADC)
	buf = le.AppendUint32(buf, trigger)
	buf = le.AppendUint32(buf, uint32(len(pairs)))
	for _, pair := range pairs {
		buf = le.AppendUint16(buf, pair[0])
		buf = le.AppendUint16(buf, pair[1])
	}

	return le.AppendUint16(buf, 0xFFFF)
}

func physicsPayload(enable uint16, groups ...[]byte) []byte {
	payload := le.AppendUint32(nil, 41)     // event number
	payload = le.AppendUint32(payload, 977) // timestamp
	payload = le.AppendUint16(payload, tagSIS3300)
	payload = le.AppendUint16(payload, enable)
	payload = le.AppendUint32(payload, 0) // DAQ register
	for _, group := range groups {
		payload = append(payload, group...)
	}
	payload = le.AppendUint16(payload, tagV977)

	return le.AppendUint16(payload, 0x00A5)
}

func TestParsePhysicsLinear(t *testing.T) {
	pairs := [][2]uint16{{10, 20}, {11, 21}, {12, 22}, {13, 23}}
	payload := physicsPayload(0x1, fadcGroup(nil, 0, pairs))

	info, err := ParsePhysics(&RingItem{Bytes: payload, Type: RingPhysics})
	require.NoError(t, err)
	require.Equal(t, uint32(41), info.Event)
	require.Equal(t, uint32(977), info.Timestamp)
	require.Equal(t, [2]uint32{41, 977}, info.HeaderArray())
	require.Equal(t, uint16(0x00A5), info.Coinc.Coinc)

	require.Equal(t, 4, info.FADC.Samples)
	require.Equal(t, 2, info.FADC.Channels)
	require.Equal(t, []uint16{20, 21, 22, 23}, info.FADC.Traces[0])
	require.Equal(t, []uint16{10, 11, 12, 13}, info.FADC.Traces[1])
	require.Nil(t, info.FADC.Traces[2])
}

func TestParsePhysicsWrappedCircularBuffer(t *testing.T) {
	// Write pointer 1 with the wrap bit set: the recorded window starts
	// at pair 2, so time order is pairs [2, 3, 0, 1].
	pairs := [][2]uint16{{10, 20}, {11, 21}, {12, 22}, {13, 23}}
	trigger := uint32(1) | 1<<19
	payload := physicsPayload(0x1, fadcGroup(nil, trigger, pairs))

	info, err := ParsePhysics(&RingItem{Bytes: payload, Type: RingPhysics})
	require.NoError(t, err)
	require.Equal(t, []uint16{22, 23, 20, 21}, info.FADC.Traces[0])
	require.Equal(t, []uint16{12, 13, 10, 11}, info.FADC.Traces[1])
}

func TestParsePhysicsWrapBitWithFullWindow(t *testing.T) {
	// Wrap bit set but the pointer covers the whole window: read is
	// linear.
	pairs := [][2]uint16{{10, 20}, {11, 21}}
	trigger := uint32(1) | 1<<19
	payload := physicsPayload(0x1, fadcGroup(nil, trigger, pairs))

	info, err := ParsePhysics(&RingItem{Bytes: payload, Type: RingPhysics})
	require.NoError(t, err)
	require.Equal(t, []uint16{20, 21}, info.FADC.Traces[0])
	require.Equal(t, []uint16{10, 11}, info.FADC.Traces[1])
}

func TestParsePhysicsMasksAmplitudes(t *testing.T) {
	// Upper four bits of each sample word are control bits and must be
	// masked off.
	pairs := [][2]uint16{{0xF00A, 0xA00B}}
	payload := physicsPayload(0x1, fadcGroup(nil, 0, pairs))

	info, err := ParsePhysics(&RingItem{Bytes: payload, Type: RingPhysics})
	require.NoError(t, err)
	require.Equal(t, []uint16{0x00B}, info.FADC.Traces[0])
	require.Equal(t, []uint16{0x00A}, info.FADC.Traces[1])
}

func TestParsePhysicsMultipleGroups(t *testing.T) {
	group0 := fadcGroup(nil, 0, [][2]uint16{{1, 2}})
	group2 := fadcGroup(nil, 0, [][2]uint16{{3, 4}})
	payload := physicsPayload(0x1|0x4, group0, group2)

	info, err := ParsePhysics(&RingItem{Bytes: payload, Type: RingPhysics})
	require.NoError(t, err)
	require.Equal(t, 4, info.FADC.Channels)
	require.Equal(t, []uint16{2}, info.FADC.Traces[0])
	require.Equal(t, []uint16{1}, info.FADC.Traces[1])
	require.Equal(t, []uint16{4}, info.FADC.Traces[4])
	require.Equal(t, []uint16{3}, info.FADC.Traces[5])
	require.Nil(t, info.FADC.Traces[2])
}

func TestParsePhysicsStackOrder(t *testing.T) {
	payload := le.AppendUint32(nil, 1)
	payload = le.AppendUint32(payload, 2)
	payload = le.AppendUint16(payload, tagV977) // wrong module first

	_, err := ParsePhysics(&RingItem{Bytes: payload, Type: RingPhysics})
	require.ErrorIs(t, err, errs.ErrStackOrder)
}

func TestParsePhysicsAbandonsBadGroupHeader(t *testing.T) {
	payload := le.AppendUint32(nil, 1)
	payload = le.AppendUint32(payload, 2)
	payload = le.AppendUint16(payload, tagSIS3300)
	payload = le.AppendUint16(payload, 0x1) // group 0 enabled
	payload = le.AppendUint32(payload, 0)   // DAQ register
	payload = le.AppendUint16(payload, 0x1234) // not 0xFADC: segment abandoned
	payload = le.AppendUint16(payload, tagV977)
	payload = le.AppendUint16(payload, 7)

	info, err := ParsePhysics(&RingItem{Bytes: payload, Type: RingPhysics})
	require.NoError(t, err)
	require.Equal(t, 0, info.FADC.Samples)
	require.Nil(t, info.FADC.Traces[0])
	require.Equal(t, uint16(7), info.Coinc.Coinc)
}
