// Package archive reads and writes the event archive sidecar.
//
// The archive is a flat stream of assembled events written next to the
// HDF5 output: a short file header naming the codec, then one
// length-prefixed record per event. Each record is the serialized event
// matrix compressed as an independent block and protected by an xxhash64
// checksum, so a run can be re-read or spot-checked without an HDF5
// toolchain and truncation or corruption is detected per record.
// All integers are little-endian.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/attpc/attpc-merger/compress"
	"github.com/attpc/attpc-merger/endian"
	"github.com/attpc/attpc-merger/errs"
	"github.com/attpc/attpc-merger/event"
)

var magic = [4]byte{'A', 'T', 'A', 'R'}

const formatVersion = 1

// recordHeaderLen is the per-record framing: compressed length and
// checksum.
const recordHeaderLen = 4 + 8

// Writer appends compressed event records to an archive file.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	codec   compress.Codec
	engine  endian.EndianEngine
	records int
}

// NewWriter creates an archive file with the given codec.
func NewWriter(path string, kind compress.Kind) (*Writer, error) {
	codec, err := compress.NewCodec(kind)
	if err != nil {
		return nil, err
	}
	codecByte, err := kind.Byte()
	if err != nil {
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	buf := bufio.NewWriter(file)
	if _, err := buf.Write(magic[:]); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(formatVersion); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(codecByte); err != nil {
		return nil, err
	}

	return &Writer{
		file:   file,
		buf:    buf,
		codec:  codec,
		engine: endian.GetLittleEndianEngine(),
	}, nil
}

// WriteEvent appends one event as a compressed, checksummed record.
func (w *Writer) WriteEvent(e *event.Event) error {
	compressed, err := w.codec.Compress(serializeEvent(w.engine, e))
	if err != nil {
		return fmt.Errorf("compressing event %d: %w", e.ID, err)
	}

	header := w.engine.AppendUint32(nil, uint32(len(compressed)))
	header = w.engine.AppendUint64(header, xxhash.Sum64(compressed))
	if _, err := w.buf.Write(header); err != nil {
		return err
	}
	if _, err := w.buf.Write(compressed); err != nil {
		return err
	}
	w.records++

	return nil
}

// Records returns the number of events written so far.
func (w *Writer) Records() int {
	return w.records
}

// Close flushes and closes the archive.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()

		return err
	}

	return w.file.Close()
}

// serializeEvent flattens an event into the record payload: id, the two
// timestamps, the row count and the row-major data matrix.
func serializeEvent(engine endian.EndianEngine, e *event.Event) []byte {
	rows, data := e.DataMatrix()

	payload := make([]byte, 0, 4+8+8+4+len(data)*2)
	payload = engine.AppendUint32(payload, e.ID)
	payload = engine.AppendUint64(payload, e.Timestamp)
	payload = engine.AppendUint64(payload, e.TimestampOther)
	payload = engine.AppendUint32(payload, uint32(rows))
	for _, v := range data {
		payload = engine.AppendUint16(payload, uint16(v))
	}

	return payload
}

// ArchivedEvent is one decoded archive record.
type ArchivedEvent struct {
	ID             uint32
	Timestamp      uint64
	TimestampOther uint64
	// Rows is the number of mapped channels; Data is the row-major matrix
	// with event.NumMatrixColumns columns per row.
	Rows int
	Data []int16
}

// Reader iterates the records of an archive file.
type Reader struct {
	file   *os.File
	buf    *bufio.Reader
	codec  compress.Codec
	engine endian.EndianEngine
}

// OpenReader opens an archive and validates its header.
func OpenReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	buf := bufio.NewReader(file)
	header := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(buf, header); err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("%w: %s", errs.ErrBadArchiveMagic, path)
	}
	if !bytes.Equal(header[:len(magic)], magic[:]) || header[len(magic)] != formatVersion {
		_ = file.Close()

		return nil, fmt.Errorf("%w: %s", errs.ErrBadArchiveMagic, path)
	}

	kind, err := compress.KindFromByte(header[len(magic)+1])
	if err != nil {
		_ = file.Close()

		return nil, err
	}
	codec, err := compress.NewCodec(kind)
	if err != nil {
		_ = file.Close()

		return nil, err
	}

	return &Reader{
		file:   file,
		buf:    buf,
		codec:  codec,
		engine: endian.GetLittleEndianEngine(),
	}, nil
}

// NextEvent returns the next archived event, or (nil, nil) at the end of
// the archive. A record whose checksum does not match its payload returns
// errs.ErrChecksumMismatch.
func (r *Reader) NextEvent() (*ArchivedEvent, error) {
	header := make([]byte, recordHeaderLen)
	if _, err := io.ReadFull(r.buf, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading archive record header: %w", err)
	}

	size := r.engine.Uint32(header[0:4])
	sum := r.engine.Uint64(header[4:12])

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r.buf, compressed); err != nil {
		return nil, fmt.Errorf("reading archive record: %w", err)
	}
	if xxhash.Sum64(compressed) != sum {
		return nil, errs.ErrChecksumMismatch
	}

	payload, err := r.codec.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompressing archive record: %w", err)
	}

	return deserializeEvent(r.engine, payload)
}

// Close closes the archive.
func (r *Reader) Close() error {
	return r.file.Close()
}

func deserializeEvent(engine endian.EndianEngine, payload []byte) (*ArchivedEvent, error) {
	const headerLen = 4 + 8 + 8 + 4
	if len(payload) < headerLen {
		return nil, fmt.Errorf("%w: payload of %d bytes", errs.ErrBadArchiveRecord, len(payload))
	}

	e := &ArchivedEvent{
		ID:             engine.Uint32(payload[0:4]),
		Timestamp:      engine.Uint64(payload[4:12]),
		TimestampOther: engine.Uint64(payload[12:20]),
		Rows:           int(engine.Uint32(payload[20:24])),
	}

	body := payload[headerLen:]
	want := e.Rows * event.NumMatrixColumns * 2
	if len(body) != want {
		return nil, fmt.Errorf("%w: %d matrix bytes, expected %d", errs.ErrBadArchiveRecord, len(body), want)
	}

	e.Data = make([]int16, len(body)/2)
	for i := range e.Data {
		e.Data[i] = int16(engine.Uint16(body[i*2:]))
	}

	return e, nil
}
