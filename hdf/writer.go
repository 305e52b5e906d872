// Package hdf persists merged runs as HDF5 archives.
//
// The layout follows the AT-TPC analysis convention: assembled GET events
// under /get, run bookkeeping under /meta, and the FRIBDAQ stream under
// /frib with physics items in /frib/evt and scaler reads in /frib/scaler.
package hdf

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/hdf5"

	"github.com/attpc/attpc-merger/event"
	"github.com/attpc/attpc-merger/evt"
	"github.com/attpc/attpc-merger/graw"
)

const (
	getGroupName    = "get"
	metaGroupName   = "meta"
	fribGroupName   = "frib"
	evtGroupName    = "evt"
	scalerGroupName = "scaler"
)

// tsClockHz is the GET timestamp clock used to report the run duration.
const tsClockHz = 100_000_000

// Writer owns one output file and its groups.
type Writer struct {
	file   *hdf5.File
	get    *hdf5.Group
	meta   *hdf5.Group
	frib   *hdf5.Group
	evt    *hdf5.Group
	scaler *hdf5.Group

	// metaData tracks [first id, first ts, last id, last ts] across the
	// run.
	metaData [4]uint64
}

// NewWriter creates the output file and the group hierarchy.
func NewWriter(path string) (*Writer, error) {
	file, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, fmt.Errorf("creating HDF5 file: %w", err)
	}

	w := &Writer{file: file, metaData: [4]uint64{1_000_000_000, 0, 0, 0}}
	if w.get, err = file.CreateGroup(getGroupName); err != nil {
		return nil, err
	}
	if w.meta, err = file.CreateGroup(metaGroupName); err != nil {
		return nil, err
	}
	if w.frib, err = file.CreateGroup(fribGroupName); err != nil {
		return nil, err
	}
	if w.evt, err = w.frib.CreateGroup(evtGroupName); err != nil {
		return nil, err
	}
	if w.scaler, err = w.frib.CreateGroup(scalerGroupName); err != nil {
		return nil, err
	}

	return w, nil
}

// writeDataset creates and fills one fixed-size dataset.
func writeDataset(g *hdf5.Group, name string, dtype *hdf5.Datatype, dims []uint, data any) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return err
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, dtype, space)
	if err != nil {
		return err
	}
	defer dset.Close()

	return dset.Write(data)
}

// WriteEvent writes one assembled event: an evtN_header dataset with the
// id and timestamps, and an evtN_data matrix with one row per mapped
// channel.
func (w *Writer) WriteEvent(e *event.Event, counter uint64) error {
	if uint64(e.ID) < w.metaData[0] {
		w.metaData[0] = uint64(e.ID)
		w.metaData[1] = e.Timestamp
	}
	if uint64(e.ID) > w.metaData[2] {
		w.metaData[2] = uint64(e.ID)
		w.metaData[3] = e.Timestamp
	}

	header := e.HeaderArray()
	headerSlice := header[:]
	if err := writeDataset(w.get, fmt.Sprintf("evt%d_header", counter),
		hdf5.T_NATIVE_DOUBLE, []uint{uint(len(headerSlice))}, &headerSlice); err != nil {
		return err
	}

	rows, data := e.DataMatrix()

	return writeDataset(w.get, fmt.Sprintf("evt%d_data", counter),
		hdf5.T_NATIVE_INT16, []uint{uint(rows), uint(event.NumMatrixColumns)}, &data)
}

// WriteFileInfo records each stack's file names and sizes in the meta
// group before merging starts.
func (w *Writer) WriteFileInfo(stacks []*graw.Stack) error {
	for _, stack := range stacks {
		active := stack.ActiveFile()
		queued := stack.QueuedPaths()

		names := make([]string, 0, len(queued)+1)
		sizes := make([]uint64, 0, len(queued)+1)
		names = append(names, filepath.Base(active.Path()))
		sizes = append(sizes, uint64(active.SizeBytes()))
		for _, path := range queued {
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("sizing stack file: %w", err)
			}
			names = append(names, filepath.Base(path))
			sizes = append(sizes, uint64(info.Size()))
		}

		prefix := fmt.Sprintf("cobo%dasad%d", stack.CoboID(), stack.AsadID())
		if err := writeDataset(w.meta, prefix+"_files",
			hdf5.T_GO_STRING, []uint{uint(len(names))}, &names); err != nil {
			return err
		}
		if err := writeDataset(w.meta, prefix+"_length",
			hdf5.T_NATIVE_UINT64, []uint{uint(len(sizes))}, &sizes); err != nil {
			return err
		}
	}

	return nil
}

// WritePadMapFingerprint records the xxhash64 of the pad map file, so the
// archive can be traced to the exact map that produced it.
func (w *Writer) WritePadMapFingerprint(fingerprint uint64) error {
	data := []uint64{fingerprint}

	return writeDataset(w.meta, "padmap_fingerprint",
		hdf5.T_NATIVE_UINT64, []uint{1}, &data)
}

// WriteMeta writes the first/last event bookkeeping gathered over the
// run.
func (w *Writer) WriteMeta() error {
	data := w.metaData[:]
	if err := writeDataset(w.meta, "meta",
		hdf5.T_NATIVE_UINT64, []uint{uint(len(data))}, &data); err != nil {
		return err
	}

	slog.Info("event range written",
		slog.Uint64("first_event", w.metaData[0]),
		slog.Uint64("last_event", w.metaData[2]))
	if w.metaData[3] >= w.metaData[1] {
		slog.Info("run duration",
			slog.Uint64("seconds", (w.metaData[3]-w.metaData[1])/tsClockHz))
	}

	return nil
}

// WriteRunInfo writes the FRIBDAQ begin/end run bookkeeping.
func (w *Writer) WriteRunInfo(info evt.RunInfo) error {
	data := []uint32{info.Begin.Run, info.Begin.Start, info.End.Stop, info.End.Elapsed}
	if err := writeDataset(w.frib, "runinfo",
		hdf5.T_NATIVE_UINT32, []uint{uint(len(data))}, &data); err != nil {
		return err
	}

	title := []string{info.Begin.Title}

	return writeDataset(w.frib, "title", hdf5.T_GO_STRING, []uint{1}, &title)
}

// WriteScalers writes one scaler read: its header and its values.
func (w *Writer) WriteScalers(s evt.ScalersItem, counter uint32) error {
	header := s.HeaderArray()
	headerSlice := header[:]
	if err := writeDataset(w.scaler, fmt.Sprintf("scaler%d_header", counter),
		hdf5.T_NATIVE_UINT32, []uint{uint(len(headerSlice))}, &headerSlice); err != nil {
		return err
	}

	return writeDataset(w.scaler, fmt.Sprintf("scaler%d_data", counter),
		hdf5.T_NATIVE_UINT32, []uint{uint(len(s.Data))}, &s.Data)
}

// WritePhysics writes one physics item: header, the V977 coincidence
// register and the SIS3300 trace matrix with one column per channel.
func (w *Writer) WritePhysics(p evt.PhysicsItem, counter uint64) error {
	header := p.HeaderArray()
	headerSlice := header[:]
	if err := writeDataset(w.evt, fmt.Sprintf("evt%d_header", counter),
		hdf5.T_NATIVE_UINT32, []uint{uint(len(headerSlice))}, &headerSlice); err != nil {
		return err
	}

	reg := []uint16{p.Coinc.Coinc}
	if err := writeDataset(w.evt, fmt.Sprintf("evt%d_977", counter),
		hdf5.T_NATIVE_UINT16, []uint{1}, &reg); err != nil {
		return err
	}

	samples := p.FADC.Samples
	channels := len(p.FADC.Traces)
	matrix := make([]uint16, samples*channels)
	for ch, trace := range p.FADC.Traces {
		for j := 0; j < samples && j < len(trace); j++ {
			matrix[j*channels+ch] = trace[j]
		}
	}

	return writeDataset(w.evt, fmt.Sprintf("evt%d_1903", counter),
		hdf5.T_NATIVE_UINT16, []uint{uint(samples), uint(channels)}, &matrix)
}

// Close closes the groups and the file.
func (w *Writer) Close() error {
	for _, g := range []*hdf5.Group{w.scaler, w.evt, w.frib, w.meta, w.get} {
		if g != nil {
			_ = g.Close()
		}
	}

	return w.file.Close()
}
