package psbt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightninglabs/psbtsigner/oracle"
	"github.com/lightninglabs/psbtsigner/stream"
	"github.com/lightninglabs/psbtsigner/txwire"
)

// subpathEntry is one PSBT_IN_BIP32_DERIVATION record after zero-XFP
// substitution. Kept as an ordered slice (not a map) so iteration order
// matches the PSBT's own key order, the same order the firmware's
// Python dict preserved.
type subpathEntry struct {
	PubKey []byte
	Path   oracle.XfpPath
}

// tapSubpathEntry is the taproot counterpart of subpathEntry.
type tapSubpathEntry struct {
	XOnlyPubKey []byte
	Record      oracle.TapSubpathRecord
}

// Input holds one PSBT input's parsed-and-validated state.
type Input struct {
	Index int

	NonWitnessUtxo *stream.Region
	WitnessUtxo    *stream.Region

	PartialSigs [][2][]byte // [pubkey, signature]
	Subpaths    []subpathEntry
	TaprootSubpaths []tapSubpathEntry

	RedeemScript        *stream.Region
	WitnessScript       *stream.Region
	Sighash             *uint32
	TaprootInternalKey  *stream.Region
	TaprootMerkleRoot   *stream.Region
	TaprootKeySig       []byte
	TaprootScriptSigs   map[string][]byte // (xonly||leafhash hex) -> sig
	TaprootScripts      map[string][][]byte // "leafver:script" (both hex) -> control blocks

	Unknown []Record

	// --- derived during Validate/DetermineSigningKey ---
	FullySigned bool
	IsSegwit    bool
	IsMultisig  bool
	IsP2SH      bool
	Tapscript   bool

	Amount       int64
	UtxoScript   []byte
	ScriptSig    []byte
	ScriptCode   []byte
	RequiredKeys [][]byte

	// AddedSig is the ECDSA signature this core computed for a
	// legacy/segwit-v0 input, staged here until Container.Finalize or
	// Container.Serialize writes it back out as PSBT_IN_PARTIAL_SIG.
	AddedSig *addedSig

	numOurKeys        int
	hasParsedSubpaths bool

	rawSubpathRegions    []Record
	rawTapSubpathRegions []Record
}

// addedSig is a freshly computed ECDSA (pubkey, signature) pair.
type addedSig struct {
	PubKey []byte
	Sig    []byte
}

var inputNoKeyTypes = map[byte]bool{
	PsbtInNonWitnessUtxo:    true,
	PsbtInWitnessUtxo:       true,
	PsbtInSighashType:       true,
	PsbtInRedeemScript:      true,
	PsbtInWitnessScript:     true,
	PsbtInFinalScriptsig:     true,
	PsbtInFinalScriptwitness: true,
	PsbtInTapKeySig:         true,
	PsbtInTapInternalKey:    true,
	PsbtInTapMerkleRoot:     true,
}

var inputShortValues = map[byte]bool{
	PsbtInSighashType: true,
}

// ParseInput reads and classifies one input's key/value records.
func ParseInput(fd stream.ReadSeeker, idx int) (*Input, error) {
	recs, err := ParseSection(fd, inputNoKeyTypes, inputShortValues)
	if err != nil {
		return nil, fmt.Errorf("input #%d: %w", idx, err)
	}

	in := &Input{Index: idx, TaprootScriptSigs: map[string][]byte{}, TaprootScripts: map[string][][]byte{}}

	for _, r := range recs {
		switch r.KeyType {
		case PsbtInNonWitnessUtxo:
			region := r.Region
			in.NonWitnessUtxo = &region
		case PsbtInWitnessUtxo:
			region := r.Region
			in.WitnessUtxo = &region
		case PsbtInPartialSig:
			val, err := Get(fd, r.Region)
			if err != nil {
				return nil, err
			}
			in.PartialSigs = append(in.PartialSigs, [2][]byte{r.KeyData, val})
		case PsbtInBip32Derivation:
			in.Subpaths = append(in.Subpaths, subpathEntry{PubKey: r.KeyData, Path: nil})
			in.rawSubpathRegions = append(in.rawSubpathRegions, r)
		case PsbtInRedeemScript:
			region := r.Region
			in.RedeemScript = &region
		case PsbtInWitnessScript:
			region := r.Region
			in.WitnessScript = &region
		case PsbtInSighashType:
			if len(r.Inline) != 4 {
				return nil, NewFatalPSBTIssue("input #%d: PSBT_IN_SIGHASH_TYPE wrong length", idx)
			}
			v := binary.LittleEndian.Uint32(r.Inline)
			in.Sighash = &v
		case PsbtInTapInternalKey:
			if r.Region.Length != 32 {
				return nil, NewFatalPSBTIssue("input #%d: PSBT_IN_TAP_INTERNAL_KEY length != 32", idx)
			}
			region := r.Region
			in.TaprootInternalKey = &region
		case PsbtInTapMerkleRoot:
			region := r.Region
			in.TaprootMerkleRoot = &region
		case PsbtInTapBip32Derivation:
			in.TaprootSubpaths = append(in.TaprootSubpaths, tapSubpathEntry{XOnlyPubKey: r.KeyData})
			in.rawTapSubpathRegions = append(in.rawTapSubpathRegions, r)
		case PsbtInTapKeySig:
			val, err := Get(fd, r.Region)
			if err != nil {
				return nil, err
			}
			if len(val) != 64 && len(val) != 65 {
				return nil, NewFatalPSBTIssue("input #%d: PSBT_IN_TAP_KEY_SIG length != 64 or 65", idx)
			}
			in.TaprootKeySig = val
		case PsbtInTapScriptSig:
			if len(r.KeyData) != 64 {
				return nil, NewFatalPSBTIssue("input #%d: PSBT_IN_TAP_SCRIPT_SIG key length != 64", idx)
			}
			val, err := Get(fd, r.Region)
			if err != nil {
				return nil, err
			}
			in.TaprootScriptSigs[hex.EncodeToString(r.KeyData)] = val
		case PsbtInTapLeafScript:
			if len(r.KeyData) <= 32 || (len(r.KeyData)-1)%32 != 0 {
				return nil, NewFatalPSBTIssue("input #%d: PSBT_IN_TAP_LEAF_SCRIPT control block malformed", idx)
			}
			val, err := Get(fd, r.Region)
			if err != nil {
				return nil, err
			}
			if len(val) == 0 {
				return nil, NewFatalPSBTIssue("input #%d: PSBT_IN_TAP_LEAF_SCRIPT cannot be empty", idx)
			}
			script, leafVer := val[:len(val)-1], val[len(val)-1]
			scriptKey := fmt.Sprintf("%02x:%s", leafVer, hex.EncodeToString(script))
			in.TaprootScripts[scriptKey] = append(in.TaprootScripts[scriptKey], r.KeyData)
		default:
			in.Unknown = append(in.Unknown, r)
		}
	}

	return in, nil
}

// validateDerivationPathLen enforces the same bound the firmware
// applies: a derivation byte count must be a positive multiple of 4,
// and (unless allowMaster) must carry at least one path component
// beyond the XFP.
func validateDerivationPathLen(n int64, allowMaster bool) error {
	if n <= 0 || n%4 != 0 {
		return NewFatalPSBTIssue("invalid BIP-32 derivation length %d", n)
	}
	if !allowMaster && n == 4 {
		return NewFatalPSBTIssue("BIP-32 derivation has no path, only an XFP")
	}
	return nil
}

// ParseSubpaths reformats the raw subpath/taproot-subpath records,
// substituting myXFP for any zero placeholder XFP exactly once
// (appending a single "Zero XFP" warning the first time this happens
// anywhere in the PSBT), and returns how many of this input's keys
// belong to myXFP.
func (in *Input) ParseSubpaths(fd stream.ReadSeeker, myXFP uint32, warnings *[]Warning) (int, error) {
	if in.hasParsedSubpaths {
		return in.numOurKeys, nil
	}

	numOurs := 0
	for i, r := range in.rawSubpathRegions {
		if l := len(in.Subpaths[i].PubKey); l != 33 && l != 65 {
			return 0, NewFatalPSBTIssue("bip32 derivation pubkey length %d", l)
		}
		if err := validateDerivationPathLen(r.Region.Length, true); err != nil {
			return 0, err
		}
		raw, err := Get(fd, r.Region)
		if err != nil {
			return 0, err
		}
		path := decodeXfpPath(raw)
		substituteZeroXFP(&path, myXFP, warnings)
		in.Subpaths[i].Path = path
		if path.Xfp() == myXFP {
			numOurs++
		}
	}

	for i, r := range in.rawTapSubpathRegions {
		if len(in.TaprootSubpaths[i].XOnlyPubKey) != 32 {
			return 0, NewFatalPSBTIssue("tap bip32 derivation xonly-pubkey length != 32")
		}
		val, err := Get(fd, r.Region)
		if err != nil {
			return 0, err
		}
		leafHashes, rest, err := decodeTapLeafHashes(val)
		if err != nil {
			return 0, err
		}
		if err := validateDerivationPathLen(int64(len(rest)), len(leafHashes) == 0); err != nil {
			return 0, err
		}
		path := decodeXfpPath(rest)
		substituteZeroXFP(&path, myXFP, warnings)
		in.TaprootSubpaths[i].Record = oracle.TapSubpathRecord{LeafHashes: leafHashes, XfpPath: path}
		if path.Xfp() == myXFP {
			numOurs++
		}
	}

	in.numOurKeys = numOurs
	in.hasParsedSubpaths = true
	return numOurs, nil
}

// --- internal raw-record staging used only until ParseSubpaths runs ---

func decodeXfpPath(b []byte) oracle.XfpPath {
	path := make(oracle.XfpPath, len(b)/4)
	for i := range path {
		path[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return path
}

func decodeTapLeafHashes(b []byte) (leafHashes [][]byte, rest []byte, err error) {
	buf := bytes.NewReader(b)
	count, err := stream.ReadCompactSize(buf)
	if err != nil {
		return nil, nil, NewFatalPSBTIssue("tap bip32 leaf hash count: %v", err)
	}
	for i := uint64(0); i < count; i++ {
		h := make([]byte, 32)
		if _, err := buf.Read(h); err != nil {
			return nil, nil, NewFatalPSBTIssue("tap bip32 leaf hash: %v", err)
		}
		leafHashes = append(leafHashes, h)
	}
	rest = b[len(b)-buf.Len():]
	return leafHashes, rest, nil
}

func substituteZeroXFP(path *oracle.XfpPath, myXFP uint32, warnings *[]Warning) {
	if len(*path) == 0 || (*path)[0] != 0 {
		return
	}
	(*path)[0] = myXFP
	for _, w := range *warnings {
		if w.Tag == "Zero XFP" {
			return
		}
	}
	*warnings = append(*warnings, Warning{
		Tag:     "Zero XFP",
		Message: "Assuming XFP of zero should be replaced by correct XFP",
	})
}

// Validate runs the per-input syntax/consistency checks that only make
// sense once the surrounding unsigned transaction is known: minimum
// script lengths, subpath resolution, the fully-signed determination,
// and (when an embedded previous transaction is given) its TXID
// against what the unsigned input actually references.
func (in *Input) Validate(fd stream.ReadSeeker, prevTxid [32]byte, myXFP uint32, warnings *[]Warning) error {
	if in.WitnessScript != nil && in.WitnessScript.Length < 30 {
		return NewFatalPSBTIssue("input #%d: witness script too short", in.Index)
	}
	if in.RedeemScript != nil && in.RedeemScript.Length < 22 {
		return NewFatalPSBTIssue("input #%d: redeem script too short", in.Index)
	}

	if _, err := in.ParseSubpaths(fd, myXFP, warnings); err != nil {
		return err
	}

	switch {
	case len(in.PartialSigs) > 0:
		in.FullySigned = len(in.PartialSigs) >= len(in.Subpaths)
	case len(in.TaprootScriptSigs) > 0:
		in.FullySigned = len(in.TaprootScriptSigs) >= len(in.TaprootSubpaths)
	default:
		in.FullySigned = false
	}

	if in.TaprootKeySig != nil {
		if len(in.TaprootKeySig) == 65 && in.Sighash != nil {
			if uint32(in.TaprootKeySig[64]) != *in.Sighash {
				return NewFatalPSBTIssue("input #%d: PSBT_IN_SIGHASH_TYPE != PSBT_IN_TAP_KEY_SIG[64]", in.Index)
			}
		}
		in.FullySigned = true
	}

	if in.NonWitnessUtxo != nil {
		if err := in.VerifyEmbeddedUTXO(fd, prevTxid); err != nil {
			return err
		}
	}

	return nil
}

// HandleNoneSighash fills in the implicit sighash flag (SIGHASH_DEFAULT
// for taproot inputs, SIGHASH_ALL otherwise) when the PSBT left it
// unspecified.
func (in *Input) HandleNoneSighash() {
	if in.Sighash != nil {
		return
	}
	var v uint32
	if len(in.TaprootSubpaths) > 0 {
		v = SighashDefault
	} else {
		v = SighashAll
	}
	in.Sighash = &v
}

// GetUTXO returns the TxOut this input spends from its witness_utxo.
// It does not read an embedded non-witness transaction: for such an
// input it returns an error, and ResolveUTXO handles that case.
func (in *Input) GetUTXO(fd stream.ReadSeeker) (value int64, scriptPubKey []byte, err error) {
	if in.WitnessUtxo != nil {
		raw, err := Get(fd, *in.WitnessUtxo)
		if err != nil {
			return 0, nil, err
		}
		if len(raw) < 8 {
			return 0, nil, NewFatalPSBTIssue("input #%d: witness_utxo too short", in.Index)
		}
		value = int64(binary.LittleEndian.Uint64(raw[:8]))
		scriptLen, n := decodeCompactSizeFromBytes(raw[8:])
		script := raw[8+n:]
		if uint64(len(script)) < scriptLen {
			return 0, nil, NewFatalPSBTIssue("input #%d: witness_utxo script truncated", in.Index)
		}
		return value, script[:scriptLen], nil
	}

	if in.NonWitnessUtxo == nil {
		return 0, nil, NewFatalPSBTIssue("input #%d: no utxo available", in.Index)
	}

	sk, err := txwire.ParseSkeleton(fd, *in.NonWitnessUtxo)
	if err != nil {
		return 0, nil, fmt.Errorf("input #%d: parsing embedded utxo: %w", in.Index, err)
	}

	// The outpoint this input claims to spend pins which output of the
	// embedded transaction is "the" utxo; the caller supplies that
	// index separately (it lives in the unsigned tx, not here) via
	// ResolveUTXO below. GetUTXO is kept index-free to mirror
	// get_utxo(idx) only where the caller already knows idx.
	_ = sk
	return 0, nil, NewFatalPSBTIssue("input #%d: use ResolveUTXO for non-witness utxo", in.Index)
}

// ResolveUTXO is GetUTXO generalized to the embedded-transaction case,
// where voutIndex (the prevout index from the unsigned tx's TxIn) picks
// which output of the embedded transaction is being spent.
func (in *Input) ResolveUTXO(fd stream.ReadSeeker, voutIndex uint32) (value int64, scriptPubKey []byte, err error) {
	if in.WitnessUtxo != nil {
		return in.GetUTXO(fd)
	}
	if in.NonWitnessUtxo == nil {
		return 0, nil, NewFatalPSBTIssue("input #%d: no utxo available", in.Index)
	}

	sk, err := txwire.ParseSkeleton(fd, *in.NonWitnessUtxo)
	if err != nil {
		return 0, nil, fmt.Errorf("input #%d: parsing embedded utxo: %w", in.Index, err)
	}
	if uint64(voutIndex) >= sk.NumOutputs {
		return 0, nil, NewFatalPSBTIssue("input #%d: prevout index %d not in embedded utxo", in.Index, voutIndex)
	}

	var found *txwire.TxOut
	walkErr := txwire.IterOutputs(fd, sk, func(idx int, out txwire.TxOut) error {
		if idx == int(voutIndex) {
			o := out
			found = &o
		}
		return nil
	})
	if walkErr != nil {
		return 0, nil, walkErr
	}
	script, err := txwire.Get(fd, found.ScriptPubKey)
	if err != nil {
		return 0, nil, err
	}
	return found.Value, script, nil
}

// VerifyEmbeddedUTXO checks the embedded non-witness UTXO's TXID
// matches the prevout hash the unsigned tx's TxIn actually references,
// the check that stops a PSBT creator from lying about which
// transaction funds an input.
func (in *Input) VerifyEmbeddedUTXO(fd stream.ReadSeeker, prevTxid [32]byte) error {
	if in.NonWitnessUtxo == nil {
		return nil
	}
	observed, err := txwire.CalcTXID(fd, *in.NonWitnessUtxo, nil)
	if err != nil {
		return NewFatalPSBTIssue("input #%d: trouble parsing embedded utxo: %v", in.Index, err)
	}
	if !bytes.Equal(observed, prevTxid[:]) {
		return NewFatalPSBTIssue("input #%d: utxo hash mismatch", in.Index)
	}
	return nil
}

// Serialize writes this input's key/value records back out, including
// any signature this core added since parsing.
func (in *Input) Serialize(out WriteSeeker, fd stream.ReadSeeker) error {
	if in.NonWitnessUtxo != nil {
		if err := writeKV(out, PsbtInNonWitnessUtxo, nil, nil, fd, in.NonWitnessUtxo); err != nil {
			return err
		}
	}
	if in.WitnessUtxo != nil {
		if err := writeKV(out, PsbtInWitnessUtxo, nil, nil, fd, in.WitnessUtxo); err != nil {
			return err
		}
	}
	for _, ps := range in.PartialSigs {
		if err := writeKV(out, PsbtInPartialSig, ps[0], ps[1], nil, nil); err != nil {
			return err
		}
	}
	if in.AddedSig != nil {
		if err := writeKV(out, PsbtInPartialSig, in.AddedSig.PubKey, in.AddedSig.Sig, nil, nil); err != nil {
			return err
		}
	}
	if in.TaprootKeySig != nil {
		if err := writeKV(out, PsbtInTapKeySig, nil, in.TaprootKeySig, nil, nil); err != nil {
			return err
		}
	}
	if in.Sighash != nil {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], *in.Sighash)
		if err := writeKV(out, PsbtInSighashType, nil, buf[:], nil, nil); err != nil {
			return err
		}
	}
	for _, sp := range in.Subpaths {
		if err := writeKV(out, PsbtInBip32Derivation, sp.PubKey, encodeXfpPath(sp.Path), nil, nil); err != nil {
			return err
		}
	}
	if in.RedeemScript != nil {
		if err := writeKV(out, PsbtInRedeemScript, nil, nil, fd, in.RedeemScript); err != nil {
			return err
		}
	}
	if in.WitnessScript != nil {
		if err := writeKV(out, PsbtInWitnessScript, nil, nil, fd, in.WitnessScript); err != nil {
			return err
		}
	}
	if in.TaprootInternalKey != nil {
		if err := writeKV(out, PsbtInTapInternalKey, nil, nil, fd, in.TaprootInternalKey); err != nil {
			return err
		}
	}
	for _, tsp := range in.TaprootSubpaths {
		if err := writeKV(out, PsbtInTapBip32Derivation, tsp.XOnlyPubKey, encodeTapSubpathValue(tsp.Record), nil, nil); err != nil {
			return err
		}
	}
	if in.TaprootMerkleRoot != nil {
		if err := writeKV(out, PsbtInTapMerkleRoot, nil, nil, fd, in.TaprootMerkleRoot); err != nil {
			return err
		}
	}
	for keyHex, sig := range in.TaprootScriptSigs {
		keyData, err := hex.DecodeString(keyHex)
		if err != nil {
			return err
		}
		if err := writeKV(out, PsbtInTapScriptSig, keyData, sig, nil, nil); err != nil {
			return err
		}
	}
	for scriptKey, controlBlocks := range in.TaprootScripts {
		var ver int
		var hexScript string
		fmtSscanVer(scriptKey, &ver, &hexScript)
		script, err := hex.DecodeString(hexScript)
		if err != nil {
			return err
		}
		val := append(append([]byte{}, script...), byte(ver))
		for _, cb := range controlBlocks {
			if err := writeKV(out, PsbtInTapLeafScript, cb, val, nil, nil); err != nil {
				return err
			}
		}
	}
	for _, r := range in.Unknown {
		if err := writeKV(out, r.KeyType, r.KeyData, r.Inline, fd, regionOrNil(r)); err != nil {
			return err
		}
	}

	_, err := out.Write([]byte{0x00})
	return err
}

func regionOrNil(r Record) *stream.Region {
	if r.Inline != nil {
		return nil
	}
	return &r.Region
}

func encodeXfpPath(path oracle.XfpPath) []byte {
	buf := make([]byte, len(path)*4)
	for i, v := range path {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], v)
	}
	return buf
}

func encodeTapSubpathValue(rec oracle.TapSubpathRecord) []byte {
	buf := new(bytes.Buffer)
	stream.WriteCompactSize(buf, uint64(len(rec.LeafHashes)))
	for _, h := range rec.LeafHashes {
		buf.Write(h)
	}
	buf.Write(encodeXfpPath(rec.XfpPath))
	return buf.Bytes()
}

func decodeCompactSizeFromBytes(b []byte) (v uint64, consumed int) {
	if len(b) == 0 {
		return 0, 0
	}
	switch {
	case b[0] < 0xfd:
		return uint64(b[0]), 1
	case b[0] == 0xfd:
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3
	case b[0] == 0xfe:
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5
	default:
		return binary.LittleEndian.Uint64(b[1:9]), 9
	}
}

func pubkeyHash160(pk []byte) []byte {
	return btcutil.Hash160(pk)
}
