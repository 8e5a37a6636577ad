package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// TestTaprootTweakConsistency checks the invariant the signer relies
// on: tweaking the private key the same way taprootOutputKey tweaks
// the corresponding public key must yield a keypair that still
// matches, with or without a merkle root committed.
func TestTaprootTweakConsistency(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	merkleRoots := [][]byte{
		nil,
		tapLeafHash([]byte{0x51}), // OP_TRUE, just needs to be 32 bytes
	}

	for _, root := range merkleRoots {
		tweakedPriv := taprootTweakPrivKey(priv, root)
		tweakedPub := taprootOutputKey(priv.PubKey(), root)

		require.Equal(t,
			tweakedPub.SerializeCompressed(),
			tweakedPriv.PubKey().SerializeCompressed(),
		)
	}
}

func TestTapLeafHashDeterministic(t *testing.T) {
	script := []byte{0x51, 0x52} // arbitrary bytes, hash is order-sensitive

	h1 := tapLeafHash(script)
	h2 := tapLeafHash(script)
	require.Equal(t, h1, h2)
	require.Len(t, h1, 32)

	h3 := tapLeafHashFromScript(byte(tapLeafVersion), script)
	require.Equal(t, h1, h3)
}
