// Package txwire parses just enough of an unsigned Bitcoin transaction
// to locate its input/output/witness regions without fully
// deserializing it, and computes TXIDs for both witness and
// non-witness encodings of the same logical transaction.
//
// The package does not use btcsuite/btcd/wire: it defines its own
// minimal TxIn/TxOut views and walks the skeleton by hand, since
// wire.MsgTx.Deserialize loads the whole transaction into memory,
// which the memory budget here forbids.
package txwire

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"

	"github.com/lightninglabs/psbtsigner/stream"
)

func newSHA256() hash.Hash { return sha256.New() }

// Skeleton records the byte offsets of each section of an unsigned
// transaction, relative to the backing stream, so the PSBT core can
// seek directly to inputs/outputs/witnesses instead of re-parsing the
// transaction from scratch on every access.
type Skeleton struct {
	Region      stream.Region
	Version     int32
	HadWitness  bool
	NumInputs   uint64
	VinOffset   int64
	NumOutputs  uint64
	VoutOffset  int64
	WitOffset   int64 // only valid if HadWitness
	LockTime    uint32
}

const (
	witnessMarker = 0x00
	witnessFlag   = 0x01
)

// skipCTxIns advances fd past n serialized TxIn structures
// (outpoint[36] + script[varlen] + sequence[4]) and returns the
// position fd was at before skipping.
func skipCTxIns(fd stream.ReadSeeker, n uint64) (int64, error) {
	start, err := fd.Seek(0, 1)
	if err != nil {
		return 0, err
	}
	for i := uint64(0); i < n; i++ {
		// outpoint: txid(32) + vout(4)
		if _, err := fd.Seek(36, 1); err != nil {
			return 0, fmt.Errorf("skip outpoint: %w", err)
		}
		scriptLen, err := stream.ReadCompactSize(fd)
		if err != nil {
			return 0, fmt.Errorf("skip txin script len: %w", err)
		}
		// script + sequence(4)
		if _, err := fd.Seek(int64(scriptLen)+4, 1); err != nil {
			return 0, fmt.Errorf("skip txin script+sequence: %w", err)
		}
	}
	return start, nil
}

// skipCTxOuts advances fd past n serialized TxOut structures
// (value[8] + script[varlen]) and returns the position fd was at
// before skipping.
func skipCTxOuts(fd stream.ReadSeeker, n uint64) (int64, error) {
	start, err := fd.Seek(0, 1)
	if err != nil {
		return 0, err
	}
	for i := uint64(0); i < n; i++ {
		if _, err := fd.Seek(8, 1); err != nil {
			return 0, fmt.Errorf("skip txout value: %w", err)
		}
		scriptLen, err := stream.ReadCompactSize(fd)
		if err != nil {
			return 0, fmt.Errorf("skip txout script len: %w", err)
		}
		if _, err := fd.Seek(int64(scriptLen), 1); err != nil {
			return 0, fmt.Errorf("skip txout script: %w", err)
		}
	}
	return start, nil
}

// skipWitnessStacks advances fd past n per-input witness stacks, each
// a compact-size item count followed by that many varstrings.
func skipWitnessStacks(fd stream.ReadSeeker, n uint64) (int64, error) {
	start, err := fd.Seek(0, 1)
	if err != nil {
		return 0, err
	}
	for i := uint64(0); i < n; i++ {
		count, err := stream.ReadCompactSize(fd)
		if err != nil {
			return 0, fmt.Errorf("witness stack count: %w", err)
		}
		for j := uint64(0); j < count; j++ {
			itemLen, err := stream.ReadCompactSize(fd)
			if err != nil {
				return 0, fmt.Errorf("witness item len: %w", err)
			}
			if _, err := fd.Seek(int64(itemLen), 1); err != nil {
				return 0, fmt.Errorf("witness item skip: %w", err)
			}
		}
	}
	return start, nil
}

// ParseSkeleton parses the unsigned transaction stored at region
// without materializing its scripts or witness data, recording the
// offset table later needed by sighash computation and finalize.
func ParseSkeleton(fd stream.ReadSeeker, region stream.Region) (*Skeleton, error) {
	if _, err := fd.Seek(region.Offset, 0); err != nil {
		return nil, fmt.Errorf("seek to txn: %w", err)
	}

	var hdr [6]byte
	if _, err := io.ReadFull(fd, hdr[:]); err != nil {
		return nil, fmt.Errorf("read txn header: %w", err)
	}
	version := int32(binary.LittleEndian.Uint32(hdr[0:4]))
	marker, flags := hdr[4], hdr[5]
	hadWitness := marker == witnessMarker && flags != 0x0

	if version != 1 && version != 2 {
		return nil, fmt.Errorf("unsupported txn version %d", version)
	}

	if !hadWitness {
		// Rewind over the two bytes we consumed speculatively;
		// they were actually the input count's first bytes.
		if _, err := fd.Seek(-2, 1); err != nil {
			return nil, err
		}
	}

	numIn, err := stream.ReadCompactSize(fd)
	if err != nil {
		return nil, fmt.Errorf("num inputs: %w", err)
	}
	if numIn == 0 {
		return nil, fmt.Errorf("transaction has no inputs")
	}

	vinOffset, err := skipCTxIns(fd, numIn)
	if err != nil {
		return nil, err
	}

	numOut, err := stream.ReadCompactSize(fd)
	if err != nil {
		return nil, fmt.Errorf("num outputs: %w", err)
	}

	voutOffset, err := skipCTxOuts(fd, numOut)
	if err != nil {
		return nil, err
	}

	endPos := region.Offset + region.Length

	var witOffset int64
	if hadWitness {
		witOffset, err = skipWitnessStacks(fd, numIn)
		if err != nil {
			return nil, err
		}
	}

	var lt [4]byte
	if _, err := io.ReadFull(fd, lt[:]); err != nil {
		return nil, fmt.Errorf("read locktime: %w", err)
	}
	lockTime := binary.LittleEndian.Uint32(lt[:])

	pos, err := fd.Seek(0, 1)
	if err != nil {
		return nil, err
	}
	if pos != endPos {
		return nil, fmt.Errorf("txn region length mismatch: read to %d, expected %d", pos, endPos)
	}

	return &Skeleton{
		Region:     region,
		Version:    version,
		HadWitness: hadWitness,
		NumInputs:  numIn,
		VinOffset:  vinOffset,
		NumOutputs: numOut,
		VoutOffset: voutOffset,
		WitOffset:  witOffset,
		LockTime:   lockTime,
	}, nil
}

// CalcTXID computes the TXID for the transaction stored at region. If
// no witness marker is present, it is a straight double-SHA-256 over
// the whole region. Otherwise it hashes version||body||locktime, where
// body is vin||vout (the caller may supply bodyRegion if already known
// to avoid re-walking the skeleton).
func CalcTXID(fd stream.ReadSeeker, region stream.Region, bodyRegion *stream.Region) ([]byte, error) {
	if _, err := fd.Seek(region.Offset, 0); err != nil {
		return nil, fmt.Errorf("seek to txn: %w", err)
	}

	var hdr [6]byte
	if _, err := io.ReadFull(fd, hdr[:]); err != nil {
		return nil, fmt.Errorf("read txn header: %w", err)
	}
	version := hdr[0:4]
	marker, flags := hdr[4], hdr[5]
	hasWitness := marker == witnessMarker && flags != 0x0

	if !hasWitness {
		return stream.HashRegion(fd, region, nil)
	}

	h := newSHA256()

	h.Write(version)

	body := bodyRegion
	if body == nil {
		bodyStart, err := fd.Seek(0, 1)
		if err != nil {
			return nil, err
		}

		numIn, err := stream.ReadCompactSize(fd)
		if err != nil {
			return nil, err
		}
		if _, err := skipCTxIns(fd, numIn); err != nil {
			return nil, err
		}

		numOut, err := stream.ReadCompactSize(fd)
		if err != nil {
			return nil, err
		}
		if _, err := skipCTxOuts(fd, numOut); err != nil {
			return nil, err
		}

		bodyEnd, err := fd.Seek(0, 1)
		if err != nil {
			return nil, err
		}
		body = &stream.Region{Offset: bodyStart, Length: bodyEnd - bodyStart}
	}

	if _, err := stream.HashRegion(fd, *body, h); err != nil {
		return nil, fmt.Errorf("hash txn body: %w", err)
	}

	if _, err := fd.Seek(region.Offset+region.Length-4, 0); err != nil {
		return nil, err
	}
	var lt [4]byte
	if _, err := io.ReadFull(fd, lt[:]); err != nil {
		return nil, fmt.Errorf("read locktime: %w", err)
	}
	h.Write(lt[:])

	return stream.SingleSHA256(h.Sum(nil)), nil
}
