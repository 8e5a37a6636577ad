package psbt

import (
	"bytes"
	"encoding/hex"
	"sort"

	"github.com/lightninglabs/psbtsigner/oracle"
	"github.com/lightninglabs/psbtsigner/stream"
)

// DetermineSigningKey works out what it takes to sign this input: the
// scriptPubKey shape, which of our keys (if any) applies, the
// scriptSig/scriptCode needed, and whether a registered multisig
// wallet recognizes the redeem/witness/tapscript in play.
//
// activeMultisig is shared mutable state across every input in the
// PSBT: the first multisig input picks a wallet, every later multisig
// input must be consistent with it.
func (in *Input) DetermineSigningKey(fd stream.ReadSeeker, myXFP uint32, utxoValue int64, utxoScript []byte, registry oracle.Registry, activeMultisig *oracle.MultisigWallet) error {
	in.Amount = utxoValue

	if (len(in.Subpaths) == 0 && len(in.TaprootSubpaths) == 0) || in.FullySigned {
		in.RequiredKeys = nil
		return nil
	}

	in.IsMultisig = false
	in.IsP2SH = false

	cls := classifyScript(utxoScript)
	if cls.isSegwit {
		in.IsSegwit = true
	}

	var requiredKeys [][]byte

	switch cls.typ {
	case addrP2SH:
		in.IsP2SH = true

		ks := in.WitnessScript
		if ks == nil {
			ks = in.RedeemScript
		}
		if ks == nil {
			return NewFatalPSBTIssue("input #%d: missing redeem/witness script", in.Index)
		}
		redeemScript, err := Get(fd, *ks)
		if err != nil {
			return err
		}
		in.ScriptSig = redeemScript

		if len(in.Subpaths) == 1 {
			requiredKeys = [][]byte{in.Subpaths[0].PubKey}
		} else {
			for _, sp := range in.Subpaths {
				if partialSigExists(in.PartialSigs, sp.PubKey) {
					continue
				}
				if sp.Path.Xfp() == myXFP {
					requiredKeys = append(requiredKeys, sp.PubKey)
				}
			}
		}

		if !cls.isSegwit && len(redeemScript) == 22 && redeemScript[0] == 0 && redeemScript[1] == 20 {
			in.IsSegwit = true
		} else {
			in.IsMultisig = true
		}

		if in.WitnessScript != nil && !in.IsSegwit && in.IsMultisig {
			in.IsSegwit = true
		}

	case addrP2PKH:
		in.ScriptSig = utxoScript
		for _, sp := range in.Subpaths {
			if bytes.Equal(pubkeyHash160(sp.PubKey), cls.payload) {
				requiredKeys = [][]byte{sp.PubKey}
				break
			}
		}
		if requiredKeys == nil {
			return NewFatalPSBTIssue("input #%d: pubkey vs. address wrong", in.Index)
		}

	case addrP2WPKH:
		for _, sp := range in.Subpaths {
			if bytes.Equal(pubkeyHash160(sp.PubKey), cls.payload) {
				requiredKeys = [][]byte{sp.PubKey}
				break
			}
		}
		if requiredKeys == nil {
			return NewFatalPSBTIssue("input #%d: pubkey vs. address wrong", in.Index)
		}

	case addrP2WSH:
		in.IsMultisig = true
		if in.WitnessScript == nil {
			return NewFatalPSBTIssue("input #%d: missing witness script", in.Index)
		}
		witnessScript, err := Get(fd, *in.WitnessScript)
		if err != nil {
			return err
		}
		in.ScriptSig = witnessScript

		if len(in.Subpaths) == 1 {
			requiredKeys = [][]byte{in.Subpaths[0].PubKey}
		} else {
			for _, sp := range in.Subpaths {
				if partialSigExists(in.PartialSigs, sp.PubKey) {
					continue
				}
				if sp.Path.Xfp() == myXFP {
					requiredKeys = append(requiredKeys, sp.PubKey)
				}
			}
		}

	case addrP2TR:
		keys, err := in.determineTaprootSigningKey(fd, myXFP, cls.payload, registry, activeMultisig)
		if err != nil {
			return err
		}
		if keys != nil {
			in.RequiredKeys = keys
			return nil
		}

	case addrP2PK:
		in.ScriptSig = utxoScript
		if len(cls.payload) != 33 {
			return NewFatalPSBTIssue("input #%d: pubkey wrong length", in.Index)
		}
		for _, sp := range in.Subpaths {
			if bytes.Equal(sp.PubKey, cls.payload) {
				requiredKeys = [][]byte{sp.PubKey}
				break
			}
		}
		if requiredKeys == nil {
			return NewFatalPSBTIssue("input #%d: pubkey wrong", in.Index)
		}

	default:
		// Unsolvable script type; not fatal, just not ours to sign.
	}

	if in.IsMultisig && len(requiredKeys) > 0 {
		if err := in.resolveMultisigWallet(registry, activeMultisig, in.ScriptSig); err != nil {
			return err
		}
	}

	in.RequiredKeys = requiredKeys

	if in.IsSegwit && cls.typ != addrP2TR {
		if err := in.setScriptCode(fd, cls); err != nil {
			return err
		}
	}

	return nil
}

func (in *Input) setScriptCode(fd stream.ReadSeeker, cls classifiedScript) error {
	switch {
	case cls.typ == addrP2WPKH || (cls.typ == addrP2SH && len(in.ScriptSig) == 22):
		addr := cls.payload
		if cls.typ == addrP2SH {
			addr = in.ScriptSig[2:22]
		}
		if in.IsMultisig {
			return NewFatalPSBTIssue("input #%d: pkh scriptCode requested for multisig", in.Index)
		}
		in.ScriptCode = append([]byte{0x19, 0x76, 0xa9, 0x14}, append(append([]byte{}, addr...), 0x88, 0xac)...)

	case in.ScriptCode == nil:
		if in.WitnessScript == nil {
			return NewFatalPSBTIssue("input #%d: need witness script", in.Index)
		}
		ws, err := Get(fd, *in.WitnessScript)
		if err != nil {
			return err
		}
		buf := new(bytes.Buffer)
		stream.WriteCompactSize(buf, uint64(len(ws)))
		buf.Write(ws)
		in.ScriptCode = buf.Bytes()
	}
	return nil
}

func (in *Input) resolveMultisigWallet(registry oracle.Registry, activeMultisig *oracle.MultisigWallet, redeemScript []byte) error {
	m, n, err := disassembleMultisigMN(redeemScript)
	if err != nil {
		return err
	}

	xfpPaths := make([]oracle.XfpPath, 0, len(in.Subpaths))
	for _, sp := range in.Subpaths {
		xfpPaths = append(xfpPaths, sp.Path)
	}
	sortXfpPaths(xfpPaths)

	if *activeMultisig == nil {
		wal := registry.FindMatch(m, n, xfpPaths)
		if wal == nil {
			return NewFatalPSBTIssue("input #%d: unknown multisig wallet", in.Index)
		}
		*activeMultisig = wal
	} else if err := (*activeMultisig).AssertMatching(m, n, xfpPaths); err != nil {
		return NewFatalPSBTIssue("input #%d: %v", in.Index, err)
	}

	subpathMap := make(map[string]oracle.XfpPath, len(in.Subpaths))
	for _, sp := range in.Subpaths {
		subpathMap[hex.EncodeToString(sp.PubKey)] = sp.Path
	}
	if err := (*activeMultisig).ValidateScript(redeemScript, subpathMap); err != nil {
		return NewFatalPSBTIssue("input #%d: %v", in.Index, err)
	}
	return nil
}

// determineTaprootSigningKey implements the key-path/tapscript branch
// of DetermineSigningKey. A non-nil key list is the set of keys to sign
// with, and the caller stops there; a nil,nil result means no key of
// ours applies, and the caller carries on with no required keys.
func (in *Input) determineTaprootSigningKey(fd stream.ReadSeeker, myXFP uint32, outputKey []byte, registry oracle.Registry, activeMultisig *oracle.MultisigWallet) ([][]byte, error) {
	var merkleRoot []byte
	if in.TaprootMerkleRoot != nil {
		var err error
		merkleRoot, err = Get(fd, *in.TaprootMerkleRoot)
		if err != nil {
			return nil, err
		}
	}

	if len(in.TaprootSubpaths) == 1 && merkleRoot == nil {
		entry := in.TaprootSubpaths[0]
		if len(entry.Record.LeafHashes) != 0 {
			return nil, NewFatalPSBTIssue("input #%d: leaf hashes must be empty for internal key", in.Index)
		}
		if entry.Record.XfpPath.Xfp() != myXFP {
			return nil, nil
		}
		pk, err := parsePubKey(append([]byte{0x02}, entry.XOnlyPubKey...))
		if err != nil {
			return nil, NewFatalPSBTIssue("input #%d: bad taproot internal key: %v", in.Index, err)
		}
		computed := taprootOutputKey(pk, nil)
		if !bytes.Equal(schnorrXOnly(computed), outputKey) {
			return nil, nil
		}
		return [][]byte{entry.XOnlyPubKey}, nil
	}

	var candidates [][]byte
	var tapscript bool
	for _, entry := range in.TaprootSubpaths {
		if entry.Record.XfpPath.Xfp() != myXFP {
			continue
		}
		if merkleRoot == nil {
			return nil, NewFatalPSBTIssue("input #%d: merkle root not defined", in.Index)
		}
		if len(entry.Record.LeafHashes) == 0 {
			pk, err := parsePubKey(append([]byte{0x02}, entry.XOnlyPubKey...))
			if err != nil {
				return nil, NewFatalPSBTIssue("input #%d: bad taproot internal key: %v", in.Index, err)
			}
			computed := taprootOutputKey(pk, merkleRoot)
			if bytes.Equal(schnorrXOnly(computed), outputKey) {
				in.Tapscript = false
				in.IsMultisig = false
				return [][]byte{entry.XOnlyPubKey}, nil
			}
			continue
		}

		tapscript = true
		in.IsMultisig = true
		if in.TaprootInternalKey == nil {
			return nil, NewFatalPSBTIssue("input #%d: missing taproot internal key", in.Index)
		}
		internalKeyRaw, err := Get(fd, *in.TaprootInternalKey)
		if err != nil {
			return nil, err
		}
		ik, err := parsePubKey(append([]byte{0x02}, internalKeyRaw...))
		if err != nil {
			return nil, NewFatalPSBTIssue("input #%d: bad taproot internal key: %v", in.Index, err)
		}
		outputPubkey := schnorrXOnly(taprootOutputKey(ik, merkleRoot))
		if bytes.Equal(outputPubkey, outputKey) {
			candidates = append(candidates, entry.XOnlyPubKey)
		}
	}

	if !tapscript || len(candidates) == 0 {
		in.Tapscript = tapscript
		return nil, nil
	}

	if len(in.TaprootScripts) != 1 {
		return nil, NewFatalPSBTIssue("input #%d: taproot tree too complex", in.Index)
	}
	var script []byte
	var leafVer byte
	for k := range in.TaprootScripts {
		var hexScript string
		var ver int
		fmtSscanVer(k, &ver, &hexScript)
		leafVer = byte(ver)
		script, _ = hex.DecodeString(hexScript)
	}

	m, n, err := disassembleMultisigMNTaproot(script)
	if err != nil {
		return nil, err
	}

	var xfpPaths []oracle.XfpPath
	for _, entry := range in.TaprootSubpaths {
		if entry.Record.XfpPath.Xfp() != 0 {
			xfpPaths = append(xfpPaths, entry.Record.XfpPath)
		}
	}
	sortXfpPaths(xfpPaths)

	if *activeMultisig == nil {
		wal := registry.FindMatch(m, n, xfpPaths)
		if wal == nil {
			return nil, NewFatalPSBTIssue("input #%d: unknown multisig wallet", in.Index)
		}
		*activeMultisig = wal
	} else if err := (*activeMultisig).AssertMatching(m, n, xfpPaths); err != nil {
		return nil, NewFatalPSBTIssue("input #%d: %v", in.Index, err)
	}

	subpathMap := make(map[string]oracle.TapSubpathRecord, len(in.TaprootSubpaths))
	for _, entry := range in.TaprootSubpaths {
		subpathMap[hex.EncodeToString(entry.XOnlyPubKey)] = entry.Record
	}

	internalKeyRaw, err := Get(fd, *in.TaprootInternalKey)
	if err != nil {
		return nil, err
	}
	registeredInternalKey, err := (*activeMultisig).ValidateTRInternalKey(subpathMap)
	if err != nil {
		return nil, NewFatalPSBTIssue("input #%d: %v", in.Index, err)
	}
	if !bytes.Equal(registeredInternalKey, internalKeyRaw) {
		return nil, NewFraudulentChangeOutput(in.Index, "internal key from PSBT does not match registered key")
	}

	target, err := (*activeMultisig).MakeMultisigTR(subpathMap)
	if err != nil {
		return nil, NewFatalPSBTIssue("input #%d: %v", in.Index, err)
	}
	if !bytes.Equal(target, script) {
		return nil, NewFatalPSBTIssue("input #%d: script does not match registered multisig descriptor", in.Index)
	}
	if !bytes.Equal(tapLeafHashFromScript(leafVer, target), merkleRoot) {
		return nil, NewFatalPSBTIssue("input #%d: merkle root does not match", in.Index)
	}

	in.Tapscript = true
	return candidates, nil
}

func fmtSscanVer(key string, ver *int, script *string) {
	var v int
	var s string
	_, _ = fmtSscanf(key, &v, &s)
	*ver, *script = v, s
}

// fmtSscanf parses the "%02x:%s" key format used by TaprootScripts'
// map keys without pulling in fmt.Sscanf's reflection machinery.
func fmtSscanf(key string, ver *int, script *string) (int, error) {
	idx := bytes.IndexByte([]byte(key), ':')
	if idx < 0 {
		return 0, NewFatalPSBTIssue("malformed taproot script key")
	}
	b, err := hex.DecodeString(key[:idx])
	if err != nil || len(b) != 1 {
		return 0, NewFatalPSBTIssue("malformed taproot script leaf version")
	}
	*ver = int(b[0])
	*script = key[idx+1:]
	return 2, nil
}

func schnorrXOnly(pub interface{ SerializeCompressed() []byte }) []byte {
	c := pub.SerializeCompressed()
	return c[1:]
}

func partialSigExists(sigs [][2][]byte, pubkey []byte) bool {
	for _, s := range sigs {
		if bytes.Equal(s[0], pubkey) {
			return true
		}
	}
	return false
}

func sortXfpPaths(paths []oracle.XfpPath) {
	sort.Slice(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}
