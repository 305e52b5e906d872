package graw

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attpc/attpc-merger/errs"
)

func mergeAll(t *testing.T, m *Merger) []*Frame {
	t.Helper()

	var frames []*Frame
	for {
		frame, err := m.NextFrame()
		require.NoError(t, err)
		if frame == nil {
			break
		}
		frames = append(frames, frame)
	}

	return frames
}

func TestNewMergerNoFiles(t *testing.T) {
	_, err := NewMerger(FixedDir(t.TempDir()))
	require.ErrorIs(t, err, errs.ErrNoFiles)
}

func TestMergerOrdering(t *testing.T) {
	dir := t.TempDir()
	// Stack A = CoBo0/AsAd0 enumerates before stack B = CoBo0/AsAd1. Stack
	// B's frames carry AsAd 1 in their headers so the tie order is visible.
	asad1Frame := func(eventID uint32) []byte {
		samples := []Sample{{AgetID: 0, Channel: 1, Bucket: 2, Amplitude: 3}}

		return partialFrameBuffer(FrameMetadata{EventID: eventID}, 0, 1, samples, 0)
	}
	writeGrawFile(t, dir, "run_CoBo0_AsAd0_0001.graw",
		simplePartialFrame(1, 0), simplePartialFrame(2, 0), simplePartialFrame(4, 0))
	writeGrawFile(t, dir, "run_CoBo0_AsAd1_0001.graw",
		asad1Frame(1), asad1Frame(3), asad1Frame(4))

	merger, err := NewMerger(FixedDir(dir))
	require.NoError(t, err)
	require.Equal(t, uint64(6*2*SizeUnit), merger.TotalBytes())

	frames := mergeAll(t, merger)

	ids := make([]uint32, len(frames))
	asads := make([]uint8, len(frames))
	for i, frame := range frames {
		ids[i] = frame.Header.EventID
		asads[i] = frame.Header.AsadID
	}

	require.Equal(t, []uint32{1, 1, 2, 3, 4, 4}, ids)
	// Ties broken by stack enumeration order: A's frame first.
	require.Equal(t, uint8(0), asads[0])
	require.Equal(t, uint8(1), asads[1])
	require.Equal(t, uint8(0), asads[4])
	require.Equal(t, uint8(1), asads[5])
}

func TestMergerEventIDsNonDecreasing(t *testing.T) {
	dir := t.TempDir()
	writeGrawFile(t, dir, "run_CoBo0_AsAd0_0001.graw",
		simplePartialFrame(1, 0), simplePartialFrame(5, 0), simplePartialFrame(9, 0))
	writeGrawFile(t, dir, "run_CoBo0_AsAd1_0001.graw",
		simplePartialFrame(2, 0), simplePartialFrame(2, 0), simplePartialFrame(8, 0))
	writeGrawFile(t, dir, "run_CoBo1_AsAd0_0001.graw",
		simplePartialFrame(3, 0), simplePartialFrame(7, 0))

	merger, err := NewMerger(FixedDir(dir))
	require.NoError(t, err)

	frames := mergeAll(t, merger)
	require.Len(t, frames, 8)

	last := uint32(0)
	for _, frame := range frames {
		require.GreaterOrEqual(t, frame.Header.EventID, last)
		last = frame.Header.EventID
	}
}

func TestMergerSpansFileBoundaries(t *testing.T) {
	dir := t.TempDir()
	writeGrawFile(t, dir, "run_CoBo0_AsAd0_0001.graw", simplePartialFrame(1, 0))
	writeGrawFile(t, dir, "run_CoBo0_AsAd0_0002.graw", simplePartialFrame(3, 0))
	writeGrawFile(t, dir, "run_CoBo0_AsAd1_0001.graw", simplePartialFrame(2, 0))

	merger, err := NewMerger(FixedDir(dir))
	require.NoError(t, err)

	frames := mergeAll(t, merger)

	ids := make([]uint32, len(frames))
	for i, frame := range frames {
		ids[i] = frame.Header.EventID
	}
	require.Equal(t, []uint32{1, 2, 3}, ids)
}
