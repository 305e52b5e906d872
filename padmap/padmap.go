// Package padmap maps GET hardware coordinates to AT-TPC pad numbers.
//
// The GET electronics address a channel by a four-level hierarchy:
// CoBo (controller), AsAd (board), AGET (chip), channel. The pad number is
// the logical detector coordinate used by analysis. The mapping changes from
// experiment to experiment and is supplied as a CSV file with one row per
// channel: cobo,asad,aget,channel,pad.
package padmap

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/attpc/attpc-merger/errs"
)

// Hardware hierarchy limits of the GET electronics.
const (
	NumCoBos       = 11  // total controllers
	NumAsAds       = 4   // boards per controller
	NumAGETs       = 4   // chips per board
	NumChannels    = 68  // channels per chip
	NumTimeBuckets = 512 // samples per waveform
)

// entriesPerRow is the number of comma-separated fields in one CSV row.
const entriesPerRow = 5

// HardwareID is the full address of a single channel: the four hardware
// coordinates plus the pad number it maps to. The zero pad is a valid pad.
type HardwareID struct {
	CoboID  int
	AsadID  int
	AgetID  int
	Channel int
	PadID   int
}

// CoordKey packs the four hardware coordinates into the canonical integer
// key used by the map: cobo*10^6 + asad*10^4 + aget*100 + channel.
func CoordKey(cobo, asad, aget, channel uint8) uint64 {
	return uint64(channel) +
		uint64(aget)*100 +
		uint64(asad)*10_000 +
		uint64(cobo)*1_000_000
}

// PadMap is the lookup table from hardware coordinate to HardwareID. It is
// immutable after Load and safe for concurrent readers.
type PadMap struct {
	m           map[uint64]HardwareID
	fingerprint uint64
}

// Load reads a pad map CSV file. Each row holds five integer fields
// separated by commas with no embedded whitespace. A row with fewer than
// five fields is a format error; fields after the fifth are ignored.
// Duplicate coordinates are allowed and the last row wins.
func Load(path string) (*PadMap, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pad map: %w", err)
	}

	pm := &PadMap{
		m:           make(map[uint64]HardwareID),
		fingerprint: xxhash.Sum64(contents),
	}

	scanner := bufio.NewScanner(bytes.NewReader(contents))
	line := 0
	for scanner.Scan() {
		line++
		entries := strings.Split(scanner.Text(), ",")
		if len(entries) < entriesPerRow {
			return nil, fmt.Errorf("pad map line %d: %w", line, errs.ErrBadPadMapFormat)
		}

		fields := make([]int, entriesPerRow)
		for i := range fields {
			fields[i], err = strconv.Atoi(entries[i])
			if err != nil {
				return nil, fmt.Errorf("pad map line %d: %w", line, err)
			}
		}

		hw := HardwareID{
			CoboID:  fields[0],
			AsadID:  fields[1],
			AgetID:  fields[2],
			Channel: fields[3],
			PadID:   fields[4],
		}
		key := CoordKey(uint8(hw.CoboID), uint8(hw.AsadID), uint8(hw.AgetID), uint8(hw.Channel))
		pm.m[key] = hw
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading pad map: %w", err)
	}

	return pm, nil
}

// Lookup returns the HardwareID for the given hardware coordinate. The
// second return is false when the coordinate is not mapped.
func (pm *PadMap) Lookup(cobo, asad, aget, channel uint8) (HardwareID, bool) {
	hw, ok := pm.m[CoordKey(cobo, asad, aget, channel)]
	return hw, ok
}

// Len returns the number of mapped coordinates.
func (pm *PadMap) Len() int {
	return len(pm.m)
}

// Fingerprint returns the xxhash64 of the raw pad map file, recorded in run
// metadata so an archive can be traced back to the exact map that produced
// it.
func (pm *PadMap) Fingerprint() uint64 {
	return pm.fingerprint
}
