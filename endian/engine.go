// Package endian provides byte order utilities for binary decoding.
//
// The two DAQ streams handled by this repository use opposite byte orders:
// GET .graw frames are big-endian, FRIBDAQ ring items are little-endian.
// EndianEngine combines ByteOrder and AppendByteOrder from encoding/binary
// into a single interface so parsers and writers can take one value and get
// both read and append operations.
package endian

import "encoding/binary"

// EndianEngine combines ByteOrder and AppendByteOrder interfaces from
// encoding/binary into a single interface for convenient byte order
// operations.
//
// This interface is satisfied by binary.LittleEndian and binary.BigEndian
// from the standard library.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// GetLittleEndianEngine returns the little-endian engine. FRIBDAQ ring items
// and the event archive use this order.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine. GET frames use this
// order.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}
