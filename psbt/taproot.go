package psbt

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// tapLeafVersion is the BIP-342 tapscript leaf version, used when no
// other version is given. Leaf versions read from a PSBT are hashed as
// given; nothing checks them against this constant.
const tapLeafVersion = txscript.BaseLeafVersion

// tapLeafHash computes the BIP-341 TapLeaf tagged hash for a single
// leaf script.
func tapLeafHash(script []byte) []byte {
	leaf := txscript.NewTapLeaf(tapLeafVersion, script)
	h := leaf.TapHash()
	return h[:]
}

// taprootOutputKey applies the BIP-341 key-path tweak to internalKey,
// committing to merkleRoot (nil/empty for a script-less key-path-only
// output).
func taprootOutputKey(internalKey *btcec.PublicKey, merkleRoot []byte) *btcec.PublicKey {
	return txscript.ComputeTaprootOutputKey(internalKey, merkleRoot)
}

// taprootTweakPrivKey applies the same BIP-341 tweak to a private key,
// negating it first if required so the resulting public key matches
// the even-y convention the protocol assumes throughout.
func taprootTweakPrivKey(privKey *btcec.PrivateKey, merkleRoot []byte) *btcec.PrivateKey {
	return txscript.TweakTaprootPrivKey(*privKey, merkleRoot)
}

// tapTweakHash returns the raw BIP-341 TapTweak hash rather than the
// tweaked point; nothing in this package calls it.
func tapTweakHash(internalKeyXOnly []byte, merkleRoot []byte) []byte {
	h := chainhash.TaggedHash(chainhash.TagTapTweak, internalKeyXOnly, merkleRoot)
	return h[:]
}

// tapLeafHashFromScript is the same TapLeaf tagged hash as tapLeafHash,
// parameterized on an explicit leaf version for the rare case a wallet
// registers a leaf under something other than tapLeafVersion.
func tapLeafHashFromScript(leafVersion byte, script []byte) []byte {
	leaf := txscript.NewTapLeaf(txscript.TapscriptLeafVersion(leafVersion), script)
	h := leaf.TapHash()
	return h[:]
}

// taggedHashTapSighash computes BIP-341's final "TapSighash" tagged
// hash over an assembled SigMsg.
func taggedHashTapSighash(msg []byte) []byte {
	h := chainhash.TaggedHash(chainhash.TagTapSighash, msg)
	return h[:]
}
