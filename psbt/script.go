package psbt

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
)

// addrType mirrors the handful of scriptPubKey shapes this core knows
// how to solve for signing, matching the address-type tags the
// original firmware branches on.
type addrType int

const (
	addrUnknown addrType = iota
	addrP2PKH
	addrP2SH
	addrP2WPKH
	addrP2WSH
	addrP2TR
	addrP2PK
)

// classifiedScript is the result of pulling apart a scriptPubKey: its
// shape, and whichever single datum (a pubkey hash, a witness program,
// an x-only pubkey, or a raw pubkey) identifies the spending target.
type classifiedScript struct {
	typ       addrType
	payload   []byte
	isSegwit  bool
}

// classifyScript inspects a scriptPubKey and reports its address type,
// grounded on txscript's script parser rather than hand-rolled opcode
// matching.
func classifyScript(script []byte) classifiedScript {
	parsed, err := txscript.ParsePkScript(script)
	if err != nil {
		return classifiedScript{typ: addrUnknown}
	}

	switch parsed.Class() {
	case txscript.PubKeyHashTy:
		return classifiedScript{typ: addrP2PKH, payload: script[3:23]}

	case txscript.ScriptHashTy:
		return classifiedScript{typ: addrP2SH, payload: script[2:22]}

	case txscript.WitnessV0PubKeyHashTy:
		return classifiedScript{typ: addrP2WPKH, payload: script[2:22], isSegwit: true}

	case txscript.WitnessV0ScriptHashTy:
		return classifiedScript{typ: addrP2WSH, payload: script[2:34], isSegwit: true}

	case txscript.WitnessV1TaprootTy:
		return classifiedScript{typ: addrP2TR, payload: script[2:34], isSegwit: true}

	case txscript.PubKeyTy:
		// script is <push 33 or 65><pubkey><OP_CHECKSIG>
		pkLen := int(script[0])
		return classifiedScript{typ: addrP2PK, payload: script[1 : 1+pkLen]}

	default:
		return classifiedScript{typ: addrUnknown}
	}
}

// parsePubKey decodes a compressed or uncompressed SEC1 pubkey.
func parsePubKey(b []byte) (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(b)
}
