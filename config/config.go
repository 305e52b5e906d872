// Package config loads the YAML run configuration.
//
// The configuration names the four input/output roots (graw data, evt
// data, HDF5 output, pad map), the run range to convert, and the optional
// online layout used when reading straight off the DAQ machines' mounted
// volumes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/attpc/attpc-merger/compress"
	"github.com/attpc/attpc-merger/errs"
	"github.com/attpc/attpc-merger/graw"
)

// onlineVolumeRoot is where each CoBo's MacMini volume is mounted in the
// online layout.
const onlineVolumeRoot = "/Volumes"

// Config is the application configuration.
type Config struct {
	// GrawPath is the root holding one run_NNNN directory per run.
	GrawPath string `yaml:"graw_path"`
	// EvtPath is the root holding one runN directory per run of FRIBDAQ
	// files.
	EvtPath string `yaml:"evt_path"`
	// HDFPath is the directory receiving the merged run_NNNN.h5 files.
	HDFPath string `yaml:"hdf_path"`
	// PadMapPath is the pad map CSV for this experiment.
	PadMapPath string `yaml:"pad_map_path"`
	// FirstRunNumber and LastRunNumber bound the inclusive run range to
	// convert.
	FirstRunNumber int `yaml:"first_run_number"`
	LastRunNumber  int `yaml:"last_run_number"`
	// Online switches graw discovery to the per-CoBo mounted volumes.
	Online bool `yaml:"online"`
	// Experiment is the experiment directory name on the online volumes.
	Experiment string `yaml:"experiment"`
	// ArchiveCodec enables the event archive sidecar when set to one of
	// none, zstd or lz4. Empty disables the sidecar.
	ArchiveCodec string `yaml:"archive_codec"`
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks paths, the run range and the archive codec.
func (c *Config) Validate() error {
	if c.GrawPath == "" {
		return errors.New("config: graw_path is required")
	}
	if c.EvtPath == "" {
		return errors.New("config: evt_path is required")
	}
	if c.HDFPath == "" {
		return errors.New("config: hdf_path is required")
	}
	if c.PadMapPath == "" {
		return errors.New("config: pad_map_path is required")
	}
	if c.FirstRunNumber > c.LastRunNumber {
		return fmt.Errorf("%w: %d > %d", errs.ErrBadRunRange, c.FirstRunNumber, c.LastRunNumber)
	}
	if c.Online && c.Experiment == "" {
		return errors.New("config: experiment is required in online mode")
	}
	if c.ArchiveCodec != "" {
		if _, err := compress.NewCodec(compress.Kind(c.ArchiveCodec)); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	return nil
}

// RunString formats a run number in the AT-TPC DAQ layout: a zero-padded
// four digit integer.
func RunString(run int) string {
	return fmt.Sprintf("run_%04d", run)
}

// RunExists reports whether the inputs for a run are present, so a range
// conversion can skip runs that were never taken.
func (c *Config) RunExists(run int) bool {
	if _, err := os.Stat(c.evtRunDir(run)); err != nil {
		return false
	}
	if c.Online {
		return true
	}
	_, err := os.Stat(c.grawRunDir(run))

	return err == nil
}

// GrawRunDir returns the offline run directory of .graw files.
func (c *Config) GrawRunDir(run int) (string, error) {
	dir := c.grawRunDir(run)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrBadFilePath, dir)
	}

	return dir, nil
}

// OnlineRunDir returns a controller's run directory on its mounted
// volume.
func (c *Config) OnlineRunDir(run, cobo int) (string, error) {
	dir := filepath.Join(onlineVolumeRoot, fmt.Sprintf("mm%d", cobo), c.Experiment, RunString(run))
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrBadFilePath, dir)
	}

	return dir, nil
}

// StackLocator returns the graw directory resolver for a run: a single
// shared run directory offline, one volume per controller online.
func (c *Config) StackLocator(run int) graw.StackLocator {
	if !c.Online {
		return func(int) (string, error) {
			return c.GrawRunDir(run)
		}
	}

	return func(cobo int) (string, error) {
		return c.OnlineRunDir(run, cobo)
	}
}

// EvtRunDir returns the FRIBDAQ directory of a run.
func (c *Config) EvtRunDir(run int) (string, error) {
	dir := c.evtRunDir(run)
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrBadFilePath, dir)
	}

	return dir, nil
}

// HDFFileName returns the output file path for a run. The output
// directory must already exist.
func (c *Config) HDFFileName(run int) (string, error) {
	if _, err := os.Stat(c.HDFPath); err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrBadFilePath, c.HDFPath)
	}

	return filepath.Join(c.HDFPath, RunString(run)+".h5"), nil
}

// ArchiveEnabled reports whether the event archive sidecar is configured.
func (c *Config) ArchiveEnabled() bool {
	return c.ArchiveCodec != ""
}

// ArchiveFileName returns the sidecar path for a run, next to the HDF5
// output.
func (c *Config) ArchiveFileName(run int) string {
	return filepath.Join(c.HDFPath, RunString(run)+".atar")
}

func (c *Config) grawRunDir(run int) string {
	return filepath.Join(c.GrawPath, RunString(run))
}

func (c *Config) evtRunDir(run int) string {
	return filepath.Join(c.EvtPath, fmt.Sprintf("run%d", run))
}
