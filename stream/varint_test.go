package stream

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCompactSizeRoundTrip mirrors the teacher's table-driven style:
// every boundary value around the three prefix thresholds should
// survive a write/read round trip using the shortest legal encoding.
func TestCompactSizeRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		value   uint64
		wantLen int
	}{
		{"zero", 0, 1},
		{"below first threshold", 0xfc, 1},
		{"first threshold", 0xfd, 3},
		{"within 2-byte range", 0xffff, 3},
		{"first 4-byte value", 0x10000, 5},
		{"within 4-byte range", 0xffffffff, 5},
		{"first 8-byte value", 0x100000000, 9},
		{"max uint64", ^uint64(0), 9},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteCompactSize(&buf, tc.value)
			require.NoError(t, err)
			require.Equal(t, tc.wantLen, buf.Len())
			require.Equal(t, tc.wantLen, CompactSizeLen(tc.value))

			got, err := ReadCompactSize(&buf)
			require.NoError(t, err)
			require.Equal(t, tc.value, got)
		})
	}
}

func TestReadCompactSizeRejectsNonCanonical(t *testing.T) {
	// 0xfd followed by a 2-byte value that fits in one byte is a
	// non-canonical encoding and must be rejected.
	buf := bytes.NewReader([]byte{0xfd, 0x0a, 0x00})
	_, err := ReadCompactSize(buf)
	require.Error(t, err)
}

func TestReadCompactSizeEmptyStreamIsEOF(t *testing.T) {
	_, err := ReadCompactSize(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestRegionEmpty(t *testing.T) {
	require.True(t, Region{}.Empty())
	require.False(t, Region{Offset: 4, Length: 2}.Empty())
	require.False(t, Region{Offset: 0, Length: 5}.Empty())
}
