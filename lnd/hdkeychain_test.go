package lnd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	testCases := []struct {
		name    string
		path    string
		want    []uint32
		wantErr bool
	}{
		{
			name: "fully hardened",
			path: "m/84'/0'/0'",
			want: []uint32{
				HardenedKeyStart + 84,
				HardenedKeyStart + 0,
				HardenedKeyStart + 0,
			},
		},
		{
			name: "mixed hardened and non-hardened",
			path: "m/84'/0'/0'/0/5",
			want: []uint32{
				HardenedKeyStart + 84,
				HardenedKeyStart + 0,
				HardenedKeyStart + 0,
				0,
				5,
			},
		},
		{
			name:    "empty path",
			path:    "",
			wantErr: true,
		},
		{
			name:    "missing m/ prefix",
			path:    "84'/0'/0'",
			wantErr: true,
		},
		{
			name:    "non-numeric component",
			path:    "m/abc'",
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePath(tc.path)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
