// Package process drives the conversion of one or more runs: the FRIBDAQ
// ring stream first, then the merged GET frame stream, everything handed
// to the HDF5 writer and the optional archive sidecar.
package process

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/attpc/attpc-merger/archive"
	"github.com/attpc/attpc-merger/compress"
	"github.com/attpc/attpc-merger/config"
	"github.com/attpc/attpc-merger/event"
	"github.com/attpc/attpc-merger/evt"
	"github.com/attpc/attpc-merger/graw"
	"github.com/attpc/attpc-merger/hdf"
	"github.com/attpc/attpc-merger/padmap"
)

// progressStep is the fraction of total bytes between progress updates.
const progressStep = 0.01

// Run converts every run in the configured range, skipping runs whose
// input directories are missing.
func Run(cfg *config.Config, progress *Progress) error {
	for run := cfg.FirstRunNumber; run <= cfg.LastRunNumber; run++ {
		if !cfg.RunExists(run) {
			slog.Info("skipping missing run", slog.Int("run", run))

			continue
		}

		progress.Reset()
		slog.Info("processing run", slog.Int("run", run))
		if err := ProcessRun(cfg, run, progress); err != nil {
			return fmt.Errorf("run %d: %w", run, err)
		}
		slog.Info("run complete", slog.Int("run", run))
	}

	return nil
}

// ProcessRun converts a single run.
func ProcessRun(cfg *config.Config, run int, progress *Progress) error {
	evtDir, err := cfg.EvtRunDir(run)
	if err != nil {
		return err
	}
	hdfPath, err := cfg.HDFFileName(run)
	if err != nil {
		return err
	}

	pm, err := padmap.Load(cfg.PadMapPath)
	if err != nil {
		return err
	}

	merger, err := graw.NewMerger(cfg.StackLocator(run))
	if err != nil {
		return err
	}
	slog.Info("total run size", slog.String("size", humanize.Bytes(merger.TotalBytes())))

	writer, err := hdf.NewWriter(hdfPath)
	if err != nil {
		return err
	}
	defer writer.Close()

	var sidecar *archive.Writer
	if cfg.ArchiveEnabled() {
		sidecar, err = archive.NewWriter(cfg.ArchiveFileName(run), compress.Kind(cfg.ArchiveCodec))
		if err != nil {
			return err
		}
		defer sidecar.Close()
	}

	slog.Info("processing evt data")
	if err := processRingStream(evtDir, writer); err != nil {
		return err
	}
	slog.Info("done with evt data")

	slog.Info("processing get data")
	if err := writer.WriteFileInfo(merger.Stacks()); err != nil {
		return err
	}
	if err := writer.WritePadMapFingerprint(pm.Fingerprint()); err != nil {
		return err
	}
	if err := mergeFrames(merger, event.NewBuilder(pm), writer, sidecar, progress); err != nil {
		return err
	}
	slog.Info("done with get data")

	return nil
}

// mergeFrames drains the merger through the event builder into the
// writers, advancing the shared progress every progressStep of the total
// bytes.
func mergeFrames(merger *graw.Merger, builder *event.Builder, writer *hdf.Writer, sidecar *archive.Writer, progress *Progress) error {
	flushBytes := uint64(float64(merger.TotalBytes()) * progressStep)

	var eventCounter uint64
	var pendingBytes uint64
	for {
		frame, err := merger.NextFrame()
		if err != nil {
			return err
		}
		if frame == nil {
			final, err := builder.Flush()
			if err != nil {
				return err
			}
			if final != nil {
				if err := writeEvent(writer, sidecar, final, eventCounter); err != nil {
					return err
				}
			}

			return writer.WriteMeta()
		}

		pendingBytes += uint64(frame.Header.FrameSize) * graw.SizeUnit
		if pendingBytes > flushBytes {
			pendingBytes = 0
			progress.Add(progressStep)
		}

		completed, err := builder.Append(frame)
		if err != nil {
			return err
		}
		if completed != nil {
			if err := writeEvent(writer, sidecar, completed, eventCounter); err != nil {
				return err
			}
			eventCounter++
		}
	}
}

func writeEvent(writer *hdf.Writer, sidecar *archive.Writer, e *event.Event, counter uint64) error {
	if err := writer.WriteEvent(e, counter); err != nil {
		return err
	}
	if sidecar != nil {
		if err := sidecar.WriteEvent(e); err != nil {
			return err
		}
	}

	return nil
}

// processRingStream walks the FRIBDAQ ring items of a run until the
// EndRun item, writing each typed item as it is decoded.
func processRingStream(evtDir string, writer *hdf.Writer) error {
	stack, err := evt.NewStack(evtDir)
	if err != nil {
		return err
	}

	var runInfo evt.RunInfo
	var scalerCounter uint32
	var physicsCounter evt.CounterItem

	for {
		item, err := stack.NextItem()
		if err != nil {
			return err
		}
		if item == nil {
			return nil
		}

		switch item.Type {
		case evt.RingBeginRun:
			if runInfo.Begin, err = evt.ParseBeginRun(item); err != nil {
				return err
			}
			slog.Info("detected begin run", slog.String("info", runInfo.Begin.String()))
		case evt.RingEndRun:
			if runInfo.End, err = evt.ParseEndRun(item); err != nil {
				return err
			}
			slog.Info("detected end run",
				slog.Uint64("run", uint64(runInfo.Begin.Run)),
				slog.Uint64("elapsed_seconds", uint64(runInfo.End.Elapsed)))

			return writer.WriteRunInfo(runInfo)
		case evt.RingDummy:
			// nothing to do
		case evt.RingScalers:
			scalers, err := evt.ParseScalers(item)
			if err != nil {
				return err
			}
			if err := writer.WriteScalers(scalers, scalerCounter); err != nil {
				return err
			}
			scalerCounter++
		case evt.RingPhysics:
			// Physics items often cross the VMUSB buffer boundary.
			item.RemoveBoundaries()
			physics, err := evt.ParsePhysics(item)
			if err != nil {
				return err
			}
			if err := writer.WritePhysics(physics, physicsCounter.Count); err != nil {
				return err
			}
			physicsCounter.Count++
		case evt.RingCounter:
			if physicsCounter, err = evt.ParseCounter(item); err != nil {
				return err
			}
		default:
			slog.Warn("unrecognized ring item type", slog.Int("size", item.Size))
		}
	}
}
