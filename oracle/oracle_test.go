package oracle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	pub, priv []byte
}

func (n *fakeNode) Pubkey() []byte  { return n.pub }
func (n *fakeNode) Privkey() []byte { return n.priv }

type fakeOracle struct {
	paths []string
}

func (f *fakeOracle) DerivePath(path string) (Node, error) {
	f.paths = append(f.paths, path)
	return &fakeNode{
		pub:  []byte{0x02, 0x01, 0x02, 0x03},
		priv: []byte{0xaa, 0xbb, 0xcc, 0xdd},
	}, nil
}

func TestSessionTrackAndClose(t *testing.T) {
	fo := &fakeOracle{}
	session := NewSession(fo, false)

	node, err := session.DerivePath("m/84'/0'/0'/0/0")
	require.NoError(t, err)
	require.Equal(t, []string{"m/84'/0'/0'/0/0"}, fo.paths)

	priv := node.Privkey()
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, priv)

	session.Track(priv)
	session.Close()

	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, priv)

	// Closing twice must not panic.
	require.NotPanics(t, func() { session.Close() })
}

func TestSessionDeltaModeFlag(t *testing.T) {
	session := NewSession(&fakeOracle{}, true)
	require.True(t, session.DeltaMode)
}
