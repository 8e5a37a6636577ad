package txwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lightninglabs/psbtsigner/stream"
)

// TxIn is one parsed (unsigned) transaction input: the prevout plus
// nSequence. ScriptSig is a region rather than a copied slice, almost
// always empty for the unsigned transaction a PSBT carries.
type TxIn struct {
	PrevTxid  [32]byte
	PrevIndex uint32
	ScriptSig stream.Region
	Sequence  uint32
}

// SerializePrevOut writes the 36-byte outpoint (txid || vout).
func (in TxIn) SerializePrevOut(w io.Writer) error {
	if _, err := w.Write(in.PrevTxid[:]); err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], in.PrevIndex)
	_, err := w.Write(buf[:])
	return err
}

// SerializeSequence writes the little-endian nSequence field.
func (in TxIn) SerializeSequence(w io.Writer) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], in.Sequence)
	_, err := w.Write(buf[:])
	return err
}

// Serialize writes the full unsigned-input encoding: outpoint,
// scriptSig (streamed from fd), and sequence.
func (in TxIn) Serialize(fd stream.ReadSeeker, w io.Writer) error {
	if err := in.SerializePrevOut(w); err != nil {
		return err
	}
	if err := stream.WriteCompactSize(w, uint64(in.ScriptSig.Length)); err != nil {
		return err
	}
	if in.ScriptSig.Length > 0 {
		script, err := Get(fd, in.ScriptSig)
		if err != nil {
			return err
		}
		if _, err := w.Write(script); err != nil {
			return err
		}
	}
	return in.SerializeSequence(w)
}

// TxOut is one parsed transaction output: a value plus a region
// pointing at its scriptPubKey bytes.
type TxOut struct {
	Value        int64
	ScriptPubKey stream.Region
}

// Serialize writes the full output encoding: value, compact-size
// script length, and script bytes streamed from fd.
func (o TxOut) Serialize(fd stream.ReadSeeker, w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(o.Value))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if err := stream.WriteCompactSize(w, uint64(o.ScriptPubKey.Length)); err != nil {
		return err
	}
	if o.ScriptPubKey.Length == 0 {
		return nil
	}
	script, err := Get(fd, o.ScriptPubKey)
	if err != nil {
		return err
	}
	_, err = w.Write(script)
	return err
}

// Get reads out the raw bytes of a region, for the rare cases (script
// comparisons, address decoding) that genuinely need a copy.
func Get(fd stream.ReadSeeker, r stream.Region) ([]byte, error) {
	if _, err := fd.Seek(r.Offset, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, r.Length)
	if r.Length > 0 {
		if _, err := io.ReadFull(fd, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// IterInputs walks the skeleton's input list once, invoking fn with
// each parsed TxIn in order. fn receiving an error aborts the walk.
func IterInputs(fd stream.ReadSeeker, sk *Skeleton, fn func(idx int, in TxIn) error) error {
	if _, err := fd.Seek(sk.VinOffset, 0); err != nil {
		return err
	}
	for i := uint64(0); i < sk.NumInputs; i++ {
		var in TxIn
		if _, err := io.ReadFull(fd, in.PrevTxid[:]); err != nil {
			return fmt.Errorf("txin %d: read prevout txid: %w", i, err)
		}
		var idxBuf [4]byte
		if _, err := io.ReadFull(fd, idxBuf[:]); err != nil {
			return fmt.Errorf("txin %d: read prevout index: %w", i, err)
		}
		in.PrevIndex = binary.LittleEndian.Uint32(idxBuf[:])

		scriptLen, err := stream.ReadCompactSize(fd)
		if err != nil {
			return fmt.Errorf("txin %d: script len: %w", i, err)
		}
		pos, err := fd.Seek(0, 1)
		if err != nil {
			return err
		}
		in.ScriptSig = stream.Region{Offset: pos, Length: int64(scriptLen)}
		if _, err := fd.Seek(int64(scriptLen), 1); err != nil {
			return fmt.Errorf("txin %d: skip script: %w", i, err)
		}

		var seqBuf [4]byte
		if _, err := io.ReadFull(fd, seqBuf[:]); err != nil {
			return fmt.Errorf("txin %d: read sequence: %w", i, err)
		}
		in.Sequence = binary.LittleEndian.Uint32(seqBuf[:])

		if err := fn(int(i), in); err != nil {
			return err
		}
	}
	return nil
}

// IterOutputs walks the skeleton's output list once, invoking fn with
// each parsed TxOut in order.
func IterOutputs(fd stream.ReadSeeker, sk *Skeleton, fn func(idx int, out TxOut) error) error {
	if _, err := fd.Seek(sk.VoutOffset, 0); err != nil {
		return err
	}
	for i := uint64(0); i < sk.NumOutputs; i++ {
		var out TxOut
		var valBuf [8]byte
		if _, err := io.ReadFull(fd, valBuf[:]); err != nil {
			return fmt.Errorf("txout %d: read value: %w", i, err)
		}
		out.Value = int64(binary.LittleEndian.Uint64(valBuf[:]))

		scriptLen, err := stream.ReadCompactSize(fd)
		if err != nil {
			return fmt.Errorf("txout %d: script len: %w", i, err)
		}
		pos, err := fd.Seek(0, 1)
		if err != nil {
			return err
		}
		out.ScriptPubKey = stream.Region{Offset: pos, Length: int64(scriptLen)}
		if _, err := fd.Seek(int64(scriptLen), 1); err != nil {
			return fmt.Errorf("txout %d: skip script: %w", i, err)
		}

		if err := fn(int(i), out); err != nil {
			return err
		}
	}
	return nil
}
