package stream

import (
	"crypto/sha256"
	"fmt"
	"hash"
)

// chunkSize bounds how much of a region is ever resident in memory at
// once while hashing; the scratch buffer is reused across calls.
const chunkSize = 256

// HashRegion streams the bytes in [region.Offset, region.Offset+region.Length)
// through an external hasher in chunkSize pieces, restoring the reader's
// position on return. If hasher is nil, it double-SHA-256's the region
// and returns the 32-byte digest; if hasher is supplied, the region is
// fed into it and nil is returned (the caller finishes the digest).
func HashRegion(r ReadSeeker, region Region, hasher hash.Hash) ([]byte, error) {
	old, err := r.Seek(0, 1)
	if err != nil {
		return nil, fmt.Errorf("tell: %w", err)
	}
	defer r.Seek(old, 0)

	if _, err := r.Seek(region.Offset, 0); err != nil {
		return nil, fmt.Errorf("seek to region: %w", err)
	}

	h := hasher
	if h == nil {
		h = sha256.New()
	}

	var scratch [chunkSize]byte
	remaining := region.Length
	for remaining > 0 {
		want := int64(chunkSize)
		if remaining < want {
			want = remaining
		}
		n, rerr := r.Read(scratch[:want])
		if n > 0 {
			h.Write(scratch[:n])
			remaining -= int64(n)
		}
		if rerr != nil {
			if n == 0 {
				return nil, fmt.Errorf("hash region: short read, %d bytes remaining: %w", remaining, rerr)
			}
		}
	}

	if hasher != nil {
		// Caller owns finishing the digest.
		return nil, nil
	}

	first := h.Sum(nil)
	return SingleSHA256(first), nil
}

// DoubleSHA256 hashes d with SHA-256 twice, the hash Bitcoin uses
// throughout its wire format (txids, block hashes, legacy/BIP-143
// sighashes).
func DoubleSHA256(d []byte) []byte {
	first := sha256.Sum256(d)
	second := sha256.Sum256(first[:])
	return second[:]
}

// SingleSHA256 is a thin wrapper kept distinct from DoubleSHA256 so
// call sites document, at the type level, which hash a given cache
// field holds: taproot (BIP-341) uses single SHA-256 internally while
// legacy/BIP-143 caches use double SHA-256. Mixing the two up is the
// single easiest way to produce a PSBT that signs the wrong digest.
func SingleSHA256(d []byte) []byte {
	sum := sha256.Sum256(d)
	return sum[:]
}
