package psbt

import (
	"bytes"
	"fmt"

	"github.com/lightninglabs/psbtsigner/stream"
)

// Record is one typed key/value pair read from a PSBT section. Its
// value is captured under one of two storage disciplines (see
// ParseSection): ShortValue records are copied into memory
// immediately, and everything else is captured as a (offset, length)
// Region left in the backing stream. NoKeys types only restrict the
// key to the type byte; their values are stored the same way.
type Record struct {
	KeyType byte
	// KeyData is everything in the key after the leading type byte
	// (e.g. a pubkey for PSBT_IN_BIP32_DERIVATION).
	KeyData []byte
	// RawKey is the full key bytes (type byte included), used for
	// duplicate detection and for round-tripping unknown keys.
	RawKey []byte

	// Inline holds the value when the key type is in the
	// shortValues set.
	Inline []byte
	// Region holds the value's (offset, length) otherwise.
	Region stream.Region
}

// sectionReader parses the repeated key/value records of one PSBT
// section (globals, or a single input/output), terminating on a
// zero-length key.
type sectionReader struct {
	fd          stream.ReadSeeker
	noKeyTypes  map[byte]bool
	shortValues map[byte]bool
}

// ParseSection reads records until a zero-length key terminator,
// enforcing: (a) no_keys types carry no key payload beyond the type
// byte, (b) every raw key byte-string is unique within the section.
func ParseSection(fd stream.ReadSeeker, noKeyTypes, shortValues map[byte]bool) ([]Record, error) {
	sr := &sectionReader{fd: fd, noKeyTypes: noKeyTypes, shortValues: shortValues}
	return sr.parse()
}

func (s *sectionReader) parse() ([]Record, error) {
	var records []Record
	seen := make(map[string]bool)

	for {
		keyLen, err := stream.ReadCompactSize(s.fd)
		if err != nil {
			return nil, NewFatalPSBTIssue("reading key length: %v", err)
		}
		if keyLen == 0 {
			break
		}

		key := make([]byte, keyLen)
		if _, err := s.fd.Read(key); err != nil {
			return nil, NewFatalPSBTIssue("reading key bytes: %v", err)
		}

		keyStr := string(key)
		if seen[keyStr] {
			return nil, NewFatalPSBTIssue("duplicate key 0x%x in section", key)
		}
		seen[keyStr] = true

		kt := key[0]
		if s.noKeyTypes[kt] && len(key) != 1 {
			return nil, NewFatalPSBTIssue("key type 0x%02x does not take key data", kt)
		}

		valLen, err := stream.ReadCompactSize(s.fd)
		if err != nil {
			return nil, NewFatalPSBTIssue("reading value length for key type 0x%02x: %v", kt, err)
		}

		rec := Record{
			KeyType: kt,
			KeyData: append([]byte(nil), key[1:]...),
			RawKey:  key,
		}

		if s.shortValues[kt] {
			val := make([]byte, valLen)
			if valLen > 0 {
				if _, err := s.fd.Read(val); err != nil {
					return nil, NewFatalPSBTIssue("reading short value: %v", err)
				}
			}
			rec.Inline = val
		} else {
			pos, err := s.fd.Seek(0, 1)
			if err != nil {
				return nil, err
			}
			rec.Region = stream.Region{Offset: pos, Length: int64(valLen)}
			if _, err := s.fd.Seek(int64(valLen), 1); err != nil {
				return nil, NewFatalPSBTIssue("skipping value: %v", err)
			}
		}

		records = append(records, rec)
	}

	return records, nil
}

// Get reads and returns the raw bytes of a region-backed record value.
func Get(fd stream.ReadSeeker, r stream.Region) ([]byte, error) {
	if _, err := fd.Seek(r.Offset, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, r.Length)
	if r.Length > 0 {
		if _, err := fd.Read(buf); err != nil {
			return nil, fmt.Errorf("reading region: %w", err)
		}
	}
	return buf, nil
}

// writeKV writes one serialized PSBT key/value record: compact-size
// key length, key bytes (type + keyData), compact-size value length,
// value bytes. If region is non-nil, the value is streamed from fd in
// small chunks instead of being held in memory.
func writeKV(out WriteSeeker, ktype byte, keyData []byte, inlineVal []byte, fd stream.ReadSeeker, region *stream.Region) error {
	keyLen := 1 + len(keyData)
	if err := stream.WriteCompactSize(out, uint64(keyLen)); err != nil {
		return err
	}
	if _, err := out.Write([]byte{ktype}); err != nil {
		return err
	}
	if len(keyData) > 0 {
		if _, err := out.Write(keyData); err != nil {
			return err
		}
	}

	if region != nil {
		if err := stream.WriteCompactSize(out, uint64(region.Length)); err != nil {
			return err
		}
		if _, err := fd.Seek(region.Offset, 0); err != nil {
			return err
		}
		remaining := region.Length
		buf := make([]byte, 256)
		for remaining > 0 {
			want := int64(len(buf))
			if remaining < want {
				want = remaining
			}
			n, err := fd.Read(buf[:want])
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					return werr
				}
				remaining -= int64(n)
			}
			if err != nil && remaining > 0 {
				return fmt.Errorf("streaming value: %w", err)
			}
		}
		return nil
	}

	if err := stream.WriteCompactSize(out, uint64(len(inlineVal))); err != nil {
		return err
	}
	_, err := out.Write(inlineVal)
	return err
}

// WriteSeeker is re-exported here for callers building writers against
// this package without importing stream directly.
type WriteSeeker = stream.WriteSeeker

// equalBytes is a small wrapper around bytes.Equal; nothing in this
// package calls it.
func equalBytes(a, b []byte) bool { return bytes.Equal(a, b) }
