package psbt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFatalPSBTIssueFormatting(t *testing.T) {
	err := NewFatalPSBTIssue("input #%d needs a pubkey we don't have", 3)
	require.EqualError(t, err,
		"fatal PSBT issue: input #3 needs a pubkey we don't have")
}

func TestFraudulentChangeOutputFormatting(t *testing.T) {
	err := NewFraudulentChangeOutput(2, "BIP-32 path doesn't match actual address")
	require.Equal(t, 2, err.Idx)
	require.EqualError(t, err,
		"fraudulent change output #2: BIP-32 path doesn't match actual address")
}
