package psbt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatDerivationPath(t *testing.T) {
	testCases := []struct {
		name       string
		components []uint32
		want       string
	}{
		{
			name:       "empty path is just the root",
			components: nil,
			want:       "m",
		},
		{
			name:       "fully hardened",
			components: []uint32{84 + hardenedBit, 0 + hardenedBit, 0 + hardenedBit},
			want:       "m/84'/0'/0'",
		},
		{
			name: "mixed hardened and non-hardened",
			components: []uint32{
				84 + hardenedBit, 0 + hardenedBit, 0 + hardenedBit, 0, 5,
			},
			want: "m/84'/0'/0'/0/5",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, formatDerivationPath(tc.components))
		})
	}
}

const hardenedBit = 0x80000000
