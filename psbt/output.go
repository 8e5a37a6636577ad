package psbt

import (
	"bytes"
	"encoding/hex"

	"github.com/lightninglabs/psbtsigner/oracle"
	"github.com/lightninglabs/psbtsigner/stream"
)

// Output holds one PSBT output's parsed state and, after Validate, its
// change/fraud verdict.
type Output struct {
	Index int

	Subpaths        []subpathEntry
	TaprootSubpaths []tapSubpathEntry

	RedeemScript       *stream.Region
	WitnessScript      *stream.Region
	TaprootInternalKey *stream.Region
	TaprootTree        *stream.Region
	Attestation        []byte

	Unknown []Record

	IsChange bool

	numOurKeys        int
	hasParsedSubpaths bool

	rawSubpathRegions    []Record
	rawTapSubpathRegions []Record
}

var outputNoKeyTypes = map[byte]bool{
	PsbtOutRedeemScript:   true,
	PsbtOutWitnessScript:  true,
	PsbtOutTapInternalKey: true,
	PsbtOutTapTree:        true,
}

var outputShortValues = map[byte]bool{}

// ParseOutput reads and classifies one output's key/value records.
func ParseOutput(fd stream.ReadSeeker, idx int) (*Output, error) {
	recs, err := ParseSection(fd, outputNoKeyTypes, outputShortValues)
	if err != nil {
		return nil, NewFatalPSBTIssue("output #%d: %v", idx, err)
	}

	out := &Output{Index: idx}

	for _, r := range recs {
		switch r.KeyType {
		case PsbtOutBip32Derivation:
			out.Subpaths = append(out.Subpaths, subpathEntry{PubKey: r.KeyData})
			out.rawSubpathRegions = append(out.rawSubpathRegions, r)
		case PsbtOutRedeemScript:
			region := r.Region
			out.RedeemScript = &region
		case PsbtOutWitnessScript:
			region := r.Region
			out.WitnessScript = &region
		case PsbtProprietary:
			prefix, subtype, _, err := decodePropKey(r.KeyData)
			if err != nil {
				return nil, NewFatalPSBTIssue("output #%d: %v", idx, err)
			}
			if bytes.Equal(prefix, PropCKIdentifier) && subtype == AttestationSubtype {
				val, err := Get(fd, r.Region)
				if err != nil {
					return nil, err
				}
				out.Attestation = val
			}
		case PsbtOutTapInternalKey:
			if r.Region.Length != 32 {
				return nil, NewFatalPSBTIssue("output #%d: PSBT_OUT_TAP_INTERNAL_KEY length != 32", idx)
			}
			region := r.Region
			out.TaprootInternalKey = &region
		case PsbtOutTapBip32Derivation:
			out.TaprootSubpaths = append(out.TaprootSubpaths, tapSubpathEntry{XOnlyPubKey: r.KeyData})
			out.rawTapSubpathRegions = append(out.rawTapSubpathRegions, r)
		case PsbtOutTapTree:
			region := r.Region
			out.TaprootTree = &region
		default:
			out.Unknown = append(out.Unknown, r)
		}
	}

	return out, nil
}

// decodePropKey splits a proprietary key's data (the key bytes after
// the leading 0xFC type byte) into its identifier, subtype, and any
// trailing key data, per BIP-174's proprietary-key encoding.
func decodePropKey(keyData []byte) (identifier []byte, subtype uint64, rest []byte, err error) {
	buf := bytes.NewReader(keyData)
	idLen, err := stream.ReadCompactSize(buf)
	if err != nil {
		return nil, 0, nil, NewFatalPSBTIssue("proprietary key: %v", err)
	}
	identifier = make([]byte, idLen)
	if _, err := buf.Read(identifier); err != nil {
		return nil, 0, nil, NewFatalPSBTIssue("proprietary key identifier: %v", err)
	}
	subtype, err = stream.ReadCompactSize(buf)
	if err != nil {
		return nil, 0, nil, NewFatalPSBTIssue("proprietary key subtype: %v", err)
	}
	rest = keyData[len(keyData)-buf.Len():]
	return identifier, subtype, rest, nil
}

// encodePropKey is the inverse of decodePropKey: it builds a
// proprietary key's data (everything after the 0xFC type byte) from an
// identifier and subtype, per BIP-174.
func encodePropKey(identifier []byte, subtype uint64) []byte {
	buf := new(bytes.Buffer)
	stream.WriteCompactSize(buf, uint64(len(identifier)))
	buf.Write(identifier)
	stream.WriteCompactSize(buf, subtype)
	return buf.Bytes()
}

// Serialize writes this output's key/value records back out.
func (out *Output) Serialize(w WriteSeeker, fd stream.ReadSeeker) error {
	for _, sp := range out.Subpaths {
		if err := writeKV(w, PsbtOutBip32Derivation, sp.PubKey, encodeXfpPath(sp.Path), nil, nil); err != nil {
			return err
		}
	}
	if out.RedeemScript != nil {
		if err := writeKV(w, PsbtOutRedeemScript, nil, nil, fd, out.RedeemScript); err != nil {
			return err
		}
	}
	if out.WitnessScript != nil {
		if err := writeKV(w, PsbtOutWitnessScript, nil, nil, fd, out.WitnessScript); err != nil {
			return err
		}
	}
	if out.TaprootInternalKey != nil {
		if err := writeKV(w, PsbtOutTapInternalKey, nil, nil, fd, out.TaprootInternalKey); err != nil {
			return err
		}
	}
	for _, tsp := range out.TaprootSubpaths {
		if err := writeKV(w, PsbtOutTapBip32Derivation, tsp.XOnlyPubKey, encodeTapSubpathValue(tsp.Record), nil, nil); err != nil {
			return err
		}
	}
	if out.TaprootTree != nil {
		if err := writeKV(w, PsbtOutTapTree, nil, nil, fd, out.TaprootTree); err != nil {
			return err
		}
	}
	if out.Attestation != nil {
		keyData := encodePropKey(PropCKIdentifier, AttestationSubtype)
		if err := writeKV(w, PsbtProprietary, keyData, out.Attestation, nil, nil); err != nil {
			return err
		}
	}
	for _, r := range out.Unknown {
		if err := writeKV(w, r.KeyType, r.KeyData, r.Inline, fd, regionOrNil(r)); err != nil {
			return err
		}
	}

	_, err := w.Write([]byte{0x00})
	return err
}

// ParseSubpaths mirrors Input.ParseSubpaths for an output.
func (out *Output) ParseSubpaths(fd stream.ReadSeeker, myXFP uint32, warnings *[]Warning) (int, error) {
	if out.hasParsedSubpaths {
		return out.numOurKeys, nil
	}

	numOurs := 0
	for i, r := range out.rawSubpathRegions {
		if l := len(out.Subpaths[i].PubKey); l != 33 && l != 65 {
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
		out.Subpaths[i].Path = path
		if path.Xfp() == myXFP {
			numOurs++
		}
	}

	for i, r := range out.rawTapSubpathRegions {
		if len(out.TaprootSubpaths[i].XOnlyPubKey) != 32 {
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
		out.TaprootSubpaths[i].Record = oracle.TapSubpathRecord{LeafHashes: leafHashes, XfpPath: path}
		if path.Xfp() == myXFP {
			numOurs++
		}
	}

	out.numOurKeys = numOurs
	out.hasParsedSubpaths = true
	return numOurs, nil
}

// taprootLeaf is one parsed entry of PSBT_OUT_TAP_TREE.
type taprootLeaf struct {
	Depth      byte
	LeafVer    byte
	Script     []byte
}

func (out *Output) parseTaprootTree(fd stream.ReadSeeker) ([]taprootLeaf, error) {
	if out.TaprootTree == nil {
		return nil, nil
	}
	raw, err := Get(fd, *out.TaprootTree)
	if err != nil {
		return nil, err
	}

	var leaves []taprootLeaf
	buf := bytes.NewReader(raw)
	for buf.Len() > 0 {
		var hdr [2]byte
		if _, err := buf.Read(hdr[:]); err != nil {
			return nil, NewFatalPSBTIssue("taproot tree: %v", err)
		}
		scriptLen, err := stream.ReadCompactSize(buf)
		if err != nil {
			return nil, NewFatalPSBTIssue("taproot tree script len: %v", err)
		}
		script := make([]byte, scriptLen)
		if _, err := buf.Read(script); err != nil {
			return nil, NewFatalPSBTIssue("taproot tree script: %v", err)
		}
		leaves = append(leaves, taprootLeaf{Depth: hdr[0], LeafVer: hdr[1], Script: script})
	}
	return leaves, nil
}

// Validate checks that, if this output claims to be one of our own
// keys (i.e. we hold a BIP-32 subpath for it), its scriptPubKey
// actually matches what that key/wallet would produce. A mismatch is
// always fraud, never a soft warning: the only way a PSBT creator
// benefits from lying about this is to trick the signer into treating
// an attacker-controlled output as change and so skip showing it to
// the user for confirmation.
func (out *Output) Validate(fd stream.ReadSeeker, myXFP uint32, scriptPubKey []byte, registry oracle.Registry, activeMultisig *oracle.MultisigWallet, warnings *[]Warning) error {
	if out.TaprootInternalKey != nil && out.TaprootInternalKey.Length != 32 {
		return NewFatalPSBTIssue("output #%d: PSBT_OUT_TAP_INTERNAL_KEY length != 32", out.Index)
	}

	numOurs, err := out.ParseSubpaths(fd, myXFP, warnings)
	if err != nil {
		return err
	}
	if numOurs == 0 {
		return nil
	}

	cls := classifyScript(scriptPubKey)

	var expectPubkey []byte
	switch {
	case len(out.Subpaths) == 1:
		expectPubkey = out.Subpaths[0].PubKey
	case len(out.TaprootSubpaths) == 1:
		expectPubkey = out.TaprootSubpaths[0].XOnlyPubKey
	}

	if cls.typ == addrP2PK {
		if len(cls.payload) != 33 {
			return NewFatalPSBTIssue("output #%d: pubkey wrong length", out.Index)
		}
		if !bytes.Equal(cls.payload, expectPubkey) {
			return NewFraudulentChangeOutput(out.Index, "p2pk change output is fraudulent")
		}
		out.IsChange = true
		return nil
	}

	pkh := cls.payload
	var expectPKH []byte

	switch cls.typ {
	case addrP2SH:
		var redeemScript, witnessScript []byte
		if out.RedeemScript != nil {
			if redeemScript, err = Get(fd, *out.RedeemScript); err != nil {
				return err
			}
		}
		if out.WitnessScript != nil {
			if witnessScript, err = Get(fd, *out.WitnessScript); err != nil {
				return err
			}
		}
		if redeemScript == nil && witnessScript == nil {
			return NewFatalPSBTIssue("output #%d: missing redeem/witness script", out.Index)
		}

		if !cls.isSegwit && len(redeemScript) == 22 && redeemScript[0] == 0 && redeemScript[1] == 20 {
			pkh = redeemScript[2:22]
			expectPKH = pubkeyHash160(expectPubkey)
			break
		}

		if activeMultisig == nil || *activeMultisig == nil {
			out.IsChange = false
			return nil
		}
		if registry.DisableChecks() {
			out.IsChange = false
			return nil
		}

		script := witnessScript
		if script == nil {
			script = redeemScript
		}
		subpathMap := make(map[string]oracle.XfpPath, len(out.Subpaths))
		for _, sp := range out.Subpaths {
			subpathMap[hex.EncodeToString(sp.PubKey)] = sp.Path
		}
		if err := (*activeMultisig).ValidateScript(script, subpathMap); err != nil {
			return NewFraudulentChangeOutput(out.Index, "p2wsh or p2sh change output script: %v", err)
		}

		if cls.isSegwit {
			if len(cls.payload) != 32 {
				return NewFatalPSBTIssue("output #%d: p2wsh program wrong length", out.Index)
			}
			if !bytes.Equal(stream.SingleSHA256(witnessScript), cls.payload) {
				return NewFraudulentChangeOutput(out.Index, "p2wsh witness script has wrong hash")
			}
			out.IsChange = true
			return nil
		}

		if witnessScript != nil {
			expectRS := append([]byte{0x00, 0x20}, stream.SingleSHA256(witnessScript)...)
			if redeemScript != nil && !bytes.Equal(expectRS, redeemScript) {
				return NewFraudulentChangeOutput(out.Index, "p2sh-p2wsh redeem script provided, and doesn't match")
			}
			expectPKH = pubkeyHash160(expectRS)
		} else {
			expectPKH = pubkeyHash160(redeemScript)
		}

	case addrP2PKH, addrP2WPKH:
		if len(cls.payload) != 20 {
			return NewFatalPSBTIssue("output #%d: pubkey hash wrong length", out.Index)
		}
		expectPKH = pubkeyHash160(expectPubkey)

	case addrP2WSH:
		if out.WitnessScript == nil {
			return NewFatalPSBTIssue("output #%d: missing witness script", out.Index)
		}
		witnessScript, err := Get(fd, *out.WitnessScript)
		if err != nil {
			return err
		}

		if activeMultisig == nil || *activeMultisig == nil {
			out.IsChange = false
			return nil
		}
		if registry.DisableChecks() {
			out.IsChange = false
			return nil
		}

		subpathMap := make(map[string]oracle.XfpPath, len(out.Subpaths))
		for _, sp := range out.Subpaths {
			subpathMap[hex.EncodeToString(sp.PubKey)] = sp.Path
		}
		if err := (*activeMultisig).ValidateScript(witnessScript, subpathMap); err != nil {
			return NewFraudulentChangeOutput(out.Index, "p2wsh change output script: %v", err)
		}
		if len(cls.payload) != 32 {
			return NewFatalPSBTIssue("output #%d: p2wsh program wrong length", out.Index)
		}
		if !bytes.Equal(stream.SingleSHA256(witnessScript), cls.payload) {
			return NewFraudulentChangeOutput(out.Index, "p2wsh witness script has wrong hash")
		}
		out.IsChange = true
		return nil

	case addrP2TR:
		return out.validateTaprootChange(fd, cls.payload, registry, activeMultisig)

	default:
		return nil
	}

	if !bytes.Equal(pkh, expectPKH) {
		return NewFraudulentChangeOutput(out.Index, "change output is fraudulent")
	}
	out.IsChange = true
	return nil
}

func (out *Output) validateTaprootChange(fd stream.ReadSeeker, outputKey []byte, registry oracle.Registry, activeMultisig *oracle.MultisigWallet) error {
	var expectPubkey []byte
	switch {
	case len(out.Subpaths) == 1:
		expectPubkey = out.Subpaths[0].PubKey
	case len(out.TaprootSubpaths) == 1:
		expectPubkey = out.TaprootSubpaths[0].XOnlyPubKey
	}

	if expectPubkey == nil && len(out.TaprootSubpaths) > 1 {
		if activeMultisig == nil || *activeMultisig == nil {
			out.IsChange = false
			return nil
		}
		if registry.DisableChecks() {
			out.IsChange = false
			return nil
		}

		subpathMap := make(map[string]oracle.TapSubpathRecord, len(out.TaprootSubpaths))
		for _, e := range out.TaprootSubpaths {
			subpathMap[hex.EncodeToString(e.XOnlyPubKey)] = e.Record
		}
		internalKey, err := (*activeMultisig).ValidateTRInternalKey(subpathMap)
		if err != nil {
			return NewFraudulentChangeOutput(out.Index, "taproot internal key: %v", err)
		}
		if out.TaprootInternalKey == nil {
			return NewFatalPSBTIssue("output #%d: missing taproot internal key", out.Index)
		}
		onFile, err := Get(fd, *out.TaprootInternalKey)
		if err != nil {
			return err
		}
		if !bytes.Equal(internalKey, onFile) {
			return NewFraudulentChangeOutput(out.Index, "internal key from PSBT does not match registered key")
		}

		leaves, err := out.parseTaprootTree(fd)
		if err != nil {
			return err
		}
		if len(leaves) != 1 {
			return NewFatalPSBTIssue("output #%d: taproot tree too complex", out.Index)
		}
		leaf := leaves[0]

		target, err := (*activeMultisig).MakeMultisigTR(subpathMap)
		if err != nil {
			return NewFatalPSBTIssue("output #%d: %v", out.Index, err)
		}
		if !bytes.Equal(target, leaf.Script) {
			return NewFraudulentChangeOutput(out.Index, "taproot leaf script does not match")
		}

		merkleRoot := tapLeafHashFromScript(leaf.LeafVer, leaf.Script)
		pk, err := parsePubKey(append([]byte{0x02}, internalKey...))
		if err != nil {
			return NewFatalPSBTIssue("output #%d: bad internal key: %v", out.Index, err)
		}
		expectKey := schnorrXOnly(taprootOutputKey(pk, merkleRoot))
		if !bytes.Equal(expectKey, outputKey) {
			return NewFraudulentChangeOutput(out.Index, "change output is fraudulent")
		}
		out.IsChange = true
		return nil
	}

	var pk []byte
	if out.TaprootInternalKey != nil {
		var err error
		pk, err = Get(fd, *out.TaprootInternalKey)
		if err != nil {
			return err
		}
	} else {
		pk = expectPubkey
	}
	parsed, err := parsePubKey(append([]byte{0x02}, pk...))
	if err != nil {
		return NewFatalPSBTIssue("output #%d: bad internal key: %v", out.Index, err)
	}
	expectKey := schnorrXOnly(taprootOutputKey(parsed, nil))
	if !bytes.Equal(expectKey, outputKey) {
		return NewFraudulentChangeOutput(out.Index, "change output is fraudulent")
	}
	out.IsChange = true
	return nil
}
