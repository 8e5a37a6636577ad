// Package stream provides the byte-stream primitives the PSBT core is
// built on: Bitcoin's compact-size varint codec, a region reader that
// never materializes more than a scratch buffer's worth of data, and an
// incremental double-SHA-256 hasher over arbitrary file regions.
//
// Every primitive here is designed around the same constraint the spec
// imposes on the whole core: large values live in the backing stream as
// (offset, length) pairs, never as in-memory copies.
package stream

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadSeeker is the minimal interface the stream primitives need from
// the backing storage: seekable reads with position reporting.
type ReadSeeker interface {
	io.Reader
	io.Seeker
}

// WriteSeeker is the write-side counterpart, used by Serialize to
// write the signed PSBT back out.
type WriteSeeker interface {
	io.Writer
	io.Seeker
}

// ReadWriteSeeker is satisfied by e.g. a temp file or an in-memory
// byte buffer wrapped to support Seek.
type ReadWriteSeeker interface {
	io.Reader
	io.Writer
	io.Seeker
}

// Region is an (offset, length) pair into a backing stream. Proxies
// store these instead of copying the referenced bytes.
type Region struct {
	Offset int64
	Length int64
}

// Empty reports whether the region refers to no bytes at all, i.e. it
// was never populated.
func (r Region) Empty() bool {
	return r.Length == 0 && r.Offset == 0
}

// ReadCompactSize reads a Bitcoin compact-size (varint) integer:
// < 0xfd encodes directly in one byte; 0xfd/0xfe/0xff introduce a
// 2/4/8-byte little-endian value respectively. Returns io.EOF only
// when zero bytes could be read at all (clean section terminator);
// a short read after the prefix byte is a malformed-stream error.
func ReadCompactSize(r io.Reader) (uint64, error) {
	var prefix [1]byte
	n, err := io.ReadFull(r, prefix[:])
	if n == 0 && err != nil {
		return 0, io.EOF
	}
	if err != nil {
		return 0, fmt.Errorf("compact size: %w", err)
	}

	switch prefix[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("compact size (2B): %w", err)
		}
		v := uint64(binary.LittleEndian.Uint16(buf[:]))
		if v < 0xfd {
			return 0, fmt.Errorf("non-canonical compact size")
		}
		return v, nil

	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("compact size (4B): %w", err)
		}
		v := uint64(binary.LittleEndian.Uint32(buf[:]))
		if v <= 0xffff {
			return 0, fmt.Errorf("non-canonical compact size")
		}
		return v, nil

	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("compact size (8B): %w", err)
		}
		v := binary.LittleEndian.Uint64(buf[:])
		if v <= 0xffffffff {
			return 0, fmt.Errorf("non-canonical compact size")
		}
		return v, nil

	default:
		return uint64(prefix[0]), nil
	}
}

// WriteCompactSize writes v using the shortest legal encoding.
func WriteCompactSize(w io.Writer, v uint64) error {
	switch {
	case v < 0xfd:
		_, err := w.Write([]byte{byte(v)})
		return err

	case v <= 0xffff:
		var buf [3]byte
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
		_, err := w.Write(buf[:])
		return err

	case v <= 0xffffffff:
		var buf [5]byte
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		_, err := w.Write(buf[:])
		return err

	default:
		var buf [9]byte
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], v)
		_, err := w.Write(buf[:])
		return err
	}
}

// CompactSizeLen returns the number of bytes WriteCompactSize would
// emit for v, without writing anything.
func CompactSizeLen(v uint64) int {
	switch {
	case v < 0xfd:
		return 1
	case v <= 0xffff:
		return 3
	case v <= 0xffffffff:
		return 5
	default:
		return 9
	}
}
