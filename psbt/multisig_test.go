package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

func compressedPubkeys(t *testing.T, n int) [][]byte {
	t.Helper()

	keys := make([][]byte, n)
	for i := range keys {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = priv.PubKey().SerializeCompressed()
	}
	return keys
}

func TestDisassembleMultisigMN(t *testing.T) {
	keys := compressedPubkeys(t, 3)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	for _, k := range keys {
		builder.AddData(k)
	}
	builder.AddOp(txscript.OP_3)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	script, err := builder.Script()
	require.NoError(t, err)

	m, n, err := disassembleMultisigMN(script)
	require.NoError(t, err)
	require.Equal(t, 2, m)
	require.Equal(t, 3, n)
}

func TestDisassembleMultisigMNRejectsMismatchedCount(t *testing.T) {
	keys := compressedPubkeys(t, 2)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	for _, k := range keys {
		builder.AddData(k)
	}
	// Claims 3 keys were pushed but only 2 were.
	builder.AddOp(txscript.OP_3)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	script, err := builder.Script()
	require.NoError(t, err)

	_, _, err = disassembleMultisigMN(script)
	require.Error(t, err)
}

func TestDisassembleMultisigMNTaproot(t *testing.T) {
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	xonly1 := priv1.PubKey().SerializeCompressed()[1:]
	xonly2 := priv2.PubKey().SerializeCompressed()[1:]

	builder := txscript.NewScriptBuilder()
	builder.AddData(xonly1)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddData(xonly2)
	builder.AddOp(txscript.OP_CHECKSIGADD)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_NUMEQUAL)
	script, err := builder.Script()
	require.NoError(t, err)

	m, n, err := disassembleMultisigMNTaproot(script)
	require.NoError(t, err)
	require.Equal(t, 2, m)
	require.Equal(t, 2, n)
}

func TestAsSmallInt(t *testing.T) {
	v, ok := asSmallInt(txscript.OP_0)
	require.True(t, ok)
	require.Equal(t, 0, v)

	v, ok = asSmallInt(txscript.OP_16)
	require.True(t, ok)
	require.Equal(t, 16, v)

	_, ok = asSmallInt(txscript.OP_CHECKMULTISIG)
	require.False(t, ok)
}
