package psbt

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/lightninglabs/psbtsigner/stream"
	"github.com/lightninglabs/psbtsigner/txwire"
)

// Sighash flags, as defined by Bitcoin Core and BIP-341.
const (
	SighashDefault      uint32 = 0x00
	SighashAll          uint32 = 0x01
	SighashNone         uint32 = 0x02
	SighashSingle       uint32 = 0x03
	SighashAnyoneCanPay uint32 = 0x80
)

// sighashCache holds the BIP-143/BIP-341 midstate hashes shared across
// every segwit-v0 SIGHASH_ALL and taproot sighash computed for the
// same transaction, so each is computed at most once regardless of how
// many inputs are signed. Legacy (pre-segwit) sighashes do not use it.
type sighashCache struct {
	legacy struct {
		hashPrevouts, hashSequence, hashOutputs []byte
		valid                                   bool
	}
	taproot struct {
		hashPrevouts, hashSequence, hashOutputs []byte
		hashValues, hashScriptPubKeys           []byte
		valid                                   bool
		outputsValid                            bool
	}
}

// sigHasher computes sighashes against one unsigned transaction, using
// the UTXO lookup supplied by the caller (ordinarily a Container's
// per-input resolved UTXOs) to fill in prevout values/scripts.
type sigHasher struct {
	fd    stream.ReadSeeker
	sk    *txwire.Skeleton
	cache sighashCache

	// utxoValue/utxoScript resolve the previous output being spent by
	// input i, needed by both the segwit and taproot algorithms.
	utxoValue  func(i int) (int64, error)
	utxoScript func(i int) ([]byte, error)
}

func newSigHasher(fd stream.ReadSeeker, sk *txwire.Skeleton, utxoValue func(int) (int64, error), utxoScript func(int) ([]byte, error)) *sigHasher {
	return &sigHasher{fd: fd, sk: sk, utxoValue: utxoValue, utxoScript: utxoScript}
}

// LegacySighash implements the pre-segwit signature hash algorithm:
// blank every scriptSig but the one being signed, select the output
// set per the low sighash bits, double-SHA256 the result.
func (h *sigHasher) LegacySighash(inputIndex int, scriptCode []byte, sighashType uint32) ([]byte, error) {
	outType := sighashType & 0x7f
	numInputs := h.sk.NumInputs
	if sighashType&SighashAnyoneCanPay != 0 {
		numInputs = 1
	}

	rv := sha256.New()

	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], uint32(h.sk.Version))
	rv.Write(verBuf[:])

	if err := stream.WriteCompactSize(rv, numInputs); err != nil {
		return nil, err
	}

	err := txwire.IterInputs(h.fd, h.sk, func(idx int, in txwire.TxIn) error {
		switch {
		case idx == inputIndex:
			if err := in.SerializePrevOut(rv); err != nil {
				return err
			}
			if err := stream.WriteCompactSize(rv, uint64(len(scriptCode))); err != nil {
				return err
			}
			if _, err := rv.Write(scriptCode); err != nil {
				return err
			}
			return in.SerializeSequence(rv)

		case sighashType&SighashAnyoneCanPay == 0:
			seq := in.Sequence
			if outType == SighashNone || outType == SighashSingle {
				seq = 0
			}
			if err := in.SerializePrevOut(rv); err != nil {
				return err
			}
			// Unsigned tx scriptSig is always empty.
			if err := stream.WriteCompactSize(rv, 0); err != nil {
				return err
			}
			var seqBuf [4]byte
			binary.LittleEndian.PutUint32(seqBuf[:], seq)
			_, err := rv.Write(seqBuf[:])
			return err

		default:
			return nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("legacy sighash inputs: %w", err)
	}

	switch outType {
	case SighashNone:
		if err := stream.WriteCompactSize(rv, 0); err != nil {
			return nil, err
		}

	case SighashSingle:
		if uint64(inputIndex) >= h.sk.NumOutputs {
			return nil, NewFatalPSBTIssue("SINGLE corresponding output (%d) missing", inputIndex)
		}
		if err := stream.WriteCompactSize(rv, uint64(inputIndex+1)); err != nil {
			return nil, err
		}
		err := txwire.IterOutputs(h.fd, h.sk, func(idx int, out txwire.TxOut) error {
			if idx < inputIndex {
				var blank [8]byte
				binary.LittleEndian.PutUint64(blank[:], ^uint64(0))
				rv.Write(blank[:])
				return stream.WriteCompactSize(rv, 0)
			}
			if idx == inputIndex {
				return out.Serialize(h.fd, rv)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

	default:
		if err := stream.WriteCompactSize(rv, h.sk.NumOutputs); err != nil {
			return nil, err
		}
		err := txwire.IterOutputs(h.fd, h.sk, func(idx int, out txwire.TxOut) error {
			return out.Serialize(h.fd, rv)
		})
		if err != nil {
			return nil, err
		}
	}

	var tail [8]byte
	binary.LittleEndian.PutUint32(tail[0:4], h.sk.LockTime)
	binary.LittleEndian.PutUint32(tail[4:8], sighashType)
	rv.Write(tail[:])

	return stream.SingleSHA256(rv.Sum(nil)), nil
}

// SegwitSighash implements BIP-143. scriptCode is the script actually
// committed to (the witness script for p2wsh, or the implied p2pkh
// script for p2wpkh), already carrying its compact-size length prefix;
// it is hashed as given.
func (h *sigHasher) SegwitSighash(inputIndex int, amount int64, scriptCode []byte, sighashType uint32) ([]byte, error) {
	outType := sighashType & 0x7f

	var hashPrevouts, hashSequence, hashOutputs []byte

	if h.cache.legacy.valid && sighashType == SighashAll {
		hashPrevouts = h.cache.legacy.hashPrevouts
		hashSequence = h.cache.legacy.hashSequence
		hashOutputs = h.cache.legacy.hashOutputs
	} else {
		prevouts := sha256.New()
		sequences := sha256.New()

		if sighashType&SighashAnyoneCanPay == 0 {
			if err := txwire.IterInputs(h.fd, h.sk, func(idx int, in txwire.TxIn) error {
				if err := in.SerializePrevOut(prevouts); err != nil {
					return err
				}
				if outType == SighashAll {
					return in.SerializeSequence(sequences)
				}
				return nil
			}); err != nil {
				return nil, err
			}
			hashPrevouts = stream.SingleSHA256(prevouts.Sum(nil))
			if outType == SighashAll {
				hashSequence = stream.SingleSHA256(sequences.Sum(nil))
			} else {
				hashSequence = make([]byte, 32)
			}
		} else {
			hashPrevouts = make([]byte, 32)
			hashSequence = make([]byte, 32)
		}

		switch outType {
		case SighashAll:
			outs := sha256.New()
			if err := txwire.IterOutputs(h.fd, h.sk, func(idx int, out txwire.TxOut) error {
				return out.Serialize(h.fd, outs)
			}); err != nil {
				return nil, err
			}
			hashOutputs = stream.SingleSHA256(outs.Sum(nil))

		case SighashSingle:
			if uint64(inputIndex) >= h.sk.NumOutputs {
				return nil, NewFatalPSBTIssue("SINGLE corresponding output (%d) missing", inputIndex)
			}
			var found []byte
			if err := txwire.IterOutputs(h.fd, h.sk, func(idx int, out txwire.TxOut) error {
				if idx != inputIndex {
					return nil
				}
				buf := sha256.New()
				if err := out.Serialize(h.fd, buf); err != nil {
					return err
				}
				found = stream.SingleSHA256(buf.Sum(nil))
				return nil
			}); err != nil {
				return nil, err
			}
			hashOutputs = found

		default:
			hashOutputs = make([]byte, 32)
		}

		if sighashType == SighashAll {
			h.cache.legacy.hashPrevouts = hashPrevouts
			h.cache.legacy.hashSequence = hashSequence
			h.cache.legacy.hashOutputs = hashOutputs
			h.cache.legacy.valid = true
		}
	}

	replacement, err := h.inputAt(inputIndex)
	if err != nil {
		return nil, err
	}

	rv := sha256.New()
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], uint32(h.sk.Version))
	rv.Write(verBuf[:])
	rv.Write(hashPrevouts)
	rv.Write(hashSequence)

	if err := replacement.SerializePrevOut(rv); err != nil {
		return nil, err
	}
	rv.Write(scriptCode)

	var amtBuf [8]byte
	binary.LittleEndian.PutUint64(amtBuf[:], uint64(amount))
	rv.Write(amtBuf[:])

	if err := replacement.SerializeSequence(rv); err != nil {
		return nil, err
	}
	rv.Write(hashOutputs)

	var tail [8]byte
	binary.LittleEndian.PutUint32(tail[0:4], h.sk.LockTime)
	binary.LittleEndian.PutUint32(tail[4:8], sighashType)
	rv.Write(tail[:])

	return stream.SingleSHA256(rv.Sum(nil)), nil
}

// TaprootSighashParams carries the per-call inputs to TaprootSighash
// that vary by spend type (BIP-341 key-path vs script-path).
type TaprootSighashParams struct {
	HashType    uint32
	ScriptPath  bool
	LeafScript  []byte
	LeafVersion byte
	CodeSepPos  int32
	Annex       []byte
}

// TaprootSighash implements BIP-341's transaction digest, given the
// whole prevout set is available through h.utxoValue/h.utxoScript
// (taproot spends always require the full UTXO set, not just the one
// being signed, unlike legacy/segwit v0).
func (h *sigHasher) TaprootSighash(inputIndex int, p TaprootSighashParams) ([]byte, error) {
	if p.LeafVersion == 0 {
		p.LeafVersion = byte(tapLeafVersion)
	}
	outType := p.HashType & 0x03
	if p.HashType == SighashDefault {
		outType = SighashAll
	}
	inType := p.HashType & SighashAnyoneCanPay

	if !h.cache.taproot.valid && inType != SighashAnyoneCanPay {
		prevouts := sha256.New()
		sequences := sha256.New()
		values := sha256.New()
		scripts := sha256.New()

		err := txwire.IterInputs(h.fd, h.sk, func(idx int, in txwire.TxIn) error {
			if err := in.SerializePrevOut(prevouts); err != nil {
				return err
			}
			if err := in.SerializeSequence(sequences); err != nil {
				return err
			}
			val, err := h.utxoValue(idx)
			if err != nil {
				return err
			}
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(val))
			values.Write(buf[:])

			script, err := h.utxoScript(idx)
			if err != nil {
				return err
			}
			if err := stream.WriteCompactSize(scripts, uint64(len(script))); err != nil {
				return err
			}
			scripts.Write(script)
			return nil
		})
		if err != nil {
			return nil, err
		}

		h.cache.taproot.hashPrevouts = prevouts.Sum(nil)
		h.cache.taproot.hashSequence = sequences.Sum(nil)
		h.cache.taproot.hashValues = values.Sum(nil)
		h.cache.taproot.hashScriptPubKeys = scripts.Sum(nil)
		h.cache.taproot.valid = true
	}

	if !h.cache.taproot.outputsValid && outType == SighashAll {
		outs := sha256.New()
		if err := txwire.IterOutputs(h.fd, h.sk, func(idx int, out txwire.TxOut) error {
			return out.Serialize(h.fd, outs)
		}); err != nil {
			return nil, err
		}
		h.cache.taproot.hashOutputs = outs.Sum(nil)
		h.cache.taproot.outputsValid = true
	}

	msg := []byte{0, byte(p.HashType)}
	var verLock [8]byte
	binary.LittleEndian.PutUint32(verLock[0:4], uint32(h.sk.Version))
	binary.LittleEndian.PutUint32(verLock[4:8], h.sk.LockTime)
	msg = append(msg, verLock[:]...)

	if inType != SighashAnyoneCanPay {
		msg = append(msg, h.cache.taproot.hashPrevouts...)
		msg = append(msg, h.cache.taproot.hashValues...)
		msg = append(msg, h.cache.taproot.hashScriptPubKeys...)
		msg = append(msg, h.cache.taproot.hashSequence...)
	}
	if outType == SighashAll {
		msg = append(msg, h.cache.taproot.hashOutputs...)
	}

	var spendType byte
	if p.Annex != nil {
		spendType |= 1
	}
	if p.ScriptPath {
		spendType |= 2
	}
	msg = append(msg, spendType)

	if inType == SighashAnyoneCanPay {
		in, err := h.inputAt(inputIndex)
		if err != nil {
			return nil, err
		}
		var buf [4]byte
		var b []byte
		b = append(b, in.PrevTxid[:]...)
		binary.LittleEndian.PutUint32(buf[:], in.PrevIndex)
		b = append(b, buf[:]...)

		val, err := h.utxoValue(inputIndex)
		if err != nil {
			return nil, err
		}
		var valBuf [8]byte
		binary.LittleEndian.PutUint64(valBuf[:], uint64(val))
		b = append(b, valBuf[:]...)

		script, err := h.utxoScript(inputIndex)
		if err != nil {
			return nil, err
		}
		scriptBuf := new(lenPrefixed)
		scriptBuf.writeVarBytes(script)
		b = append(b, scriptBuf.buf...)

		binary.LittleEndian.PutUint32(buf[:], in.Sequence)
		b = append(b, buf[:]...)
		msg = append(msg, b...)
	} else {
		var idxBuf [4]byte
		binary.LittleEndian.PutUint32(idxBuf[:], uint32(inputIndex))
		msg = append(msg, idxBuf[:]...)
	}

	if p.Annex != nil {
		annexBuf := new(lenPrefixed)
		annexBuf.writeVarBytes(p.Annex)
		msg = append(msg, stream.SingleSHA256(annexBuf.buf)...)
	}

	if outType == SighashSingle {
		if uint64(inputIndex) >= h.sk.NumOutputs {
			return nil, NewFatalPSBTIssue("SINGLE corresponding output (%d) missing", inputIndex)
		}
		var found []byte
		err := txwire.IterOutputs(h.fd, h.sk, func(idx int, out txwire.TxOut) error {
			if idx != inputIndex {
				return nil
			}
			buf := sha256.New()
			if err := out.Serialize(h.fd, buf); err != nil {
				return err
			}
			found = buf.Sum(nil)
			return nil
		})
		if err != nil {
			return nil, err
		}
		msg = append(msg, found...)
	}

	if p.ScriptPath {
		msg = append(msg, tapLeafHashFromScript(p.LeafVersion, p.LeafScript)...)
		msg = append(msg, 0) // key version
		var csBuf [4]byte
		binary.LittleEndian.PutUint32(csBuf[:], uint32(p.CodeSepPos))
		msg = append(msg, csBuf[:]...)
	}

	return taggedHashTapSighash(msg), nil
}

func (h *sigHasher) inputAt(index int) (txwire.TxIn, error) {
	var found txwire.TxIn
	var ok bool
	err := txwire.IterInputs(h.fd, h.sk, func(idx int, in txwire.TxIn) error {
		if idx == index {
			found = in
			ok = true
		}
		return nil
	})
	if err != nil {
		return txwire.TxIn{}, err
	}
	if !ok {
		return txwire.TxIn{}, NewFatalPSBTIssue("input index %d out of range", index)
	}
	return found, nil
}

// lenPrefixed is a tiny varstring builder used only by the
// ANYONECANPAY taproot branch, which needs a compact-size-prefixed
// scriptPubKey appended into a byte slice rather than a hasher.
type lenPrefixed struct {
	buf []byte
}

func (l *lenPrefixed) writeVarBytes(b []byte) {
	l.buf = append(l.buf, varIntBytes(uint64(len(b)))...)
	l.buf = append(l.buf, b...)
}

func varIntBytes(v uint64) []byte {
	var buf []byte
	switch {
	case v < 0xfd:
		buf = []byte{byte(v)}
	case v <= 0xffff:
		buf = make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(v))
	case v <= 0xffffffff:
		buf = make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
	default:
		buf = make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], v)
	}
	return buf
}
