package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/psbtsigner/stream"
	"github.com/lightninglabs/psbtsigner/txwire"
	"github.com/stretchr/testify/require"
)

// newTestContainer builds a Container around a minimal unsigned
// transaction with the given output values, skipping the PSBT KV
// framing entirely since ConsiderOutputs only needs Container.fd,
// Container.Skeleton and Container.Outputs.
func newTestContainer(t *testing.T, totalIn int64, outValues []int64, feeLimit int32) *Container {
	t.Helper()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: 0},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	for _, v := range outValues {
		tx.AddTxOut(&wire.TxOut{Value: v, PkScript: []byte{}})
	}

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	fd := bytes.NewReader(buf.Bytes())
	region := stream.Region{Offset: 0, Length: int64(buf.Len())}

	sk, err := txwire.ParseSkeleton(fd, region)
	require.NoError(t, err)

	outs := make([]*Output, len(outValues))
	for i := range outs {
		outs[i] = &Output{Index: i}
	}

	in := totalIn
	return &Container{
		fd:              fd,
		Outputs:         outs,
		Settings:        Settings{FeeLimit: feeLimit},
		TotalValueIn:    &in,
		PresignedInputs: map[int]bool{},
		Skeleton:        sk,
	}
}

func TestConsiderOutputsNormalFeeNoWarning(t *testing.T) {
	c := newTestContainer(t, 100_000, []int64{99_000}, DefaultMaxFeePercentage)

	require.NoError(t, c.ConsiderOutputs())
	require.Equal(t, int64(99_000), c.TotalValueOut)
	require.Empty(t, c.Warnings)
}

func TestConsiderOutputsBigFeeWarns(t *testing.T) {
	c := newTestContainer(t, 100_000, []int64{93_000}, DefaultMaxFeePercentage)

	require.NoError(t, c.ConsiderOutputs())
	require.Len(t, c.Warnings, 1)
	require.Equal(t, "Big Fee", c.Warnings[0].Tag)
}

func TestConsiderOutputsOverLimitIsFatal(t *testing.T) {
	c := newTestContainer(t, 100_000, []int64{85_000}, DefaultMaxFeePercentage)

	err := c.ConsiderOutputs()
	require.Error(t, err)
	var fatal *FatalPSBTIssue
	require.ErrorAs(t, err, &fatal)
}

func TestConsiderOutputsFeeLimitDisabled(t *testing.T) {
	c := newTestContainer(t, 100_000, []int64{1}, -1)

	require.NoError(t, c.ConsiderOutputs())
}

// TestConsiderOutputsZeroTotalOutIsFullFee guards against the
// zero-total-output-value case being mistaken for "no fee to check":
// total_value_out == 0 must be treated as a 100% fee, so both the
// FeeLimit enforcement and the "Big Fee" warning still apply.
func TestConsiderOutputsZeroTotalOutIsFullFee(t *testing.T) {
	c := newTestContainer(t, 100_000, []int64{0}, DefaultMaxFeePercentage)

	err := c.ConsiderOutputs()
	require.Error(t, err)
	var fatal *FatalPSBTIssue
	require.ErrorAs(t, err, &fatal)
	require.Contains(t, fatal.Error(), "100%")
}

func TestConsiderOutputsZeroTotalOutFeeLimitDisabledStillWarns(t *testing.T) {
	c := newTestContainer(t, 100_000, []int64{0}, -1)

	require.NoError(t, c.ConsiderOutputs())
	require.Len(t, c.Warnings, 1)
	require.Equal(t, "Big Fee", c.Warnings[0].Tag)
}
