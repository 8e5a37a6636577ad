// Package oracle defines the external collaborators the PSBT signing
// core talks to but does not implement itself: the master-seed / BIP-32
// derivation oracle and the multisig wallet registry described in
// spec.md section 6. Production implementations (the secure element,
// the on-device wallet store) live outside this repo; this package
// only pins down the contracts, plus the scoped key-material session
// that guarantees zeroization on every exit path.
package oracle

// Node is a derived BIP-32 node exposing exactly what signing needs:
// the public key (33-byte compressed, or 65-byte uncompressed for
// legacy p2pk) and the private scalar. Implementations are expected to
// hold the private scalar in as few copies as possible; Session.Close
// zeroizes whatever was handed to it via Session.Track.
type Node interface {
	Pubkey() []byte
	Privkey() []byte
}

// KeyOracle derives a node from a BIP-32 path string such as
// "m/84'/0'/0'/0/0". It is the device's seed store, invoked through
// this interface rather than linked directly.
type KeyOracle interface {
	DerivePath(path string) (Node, error)
}

// Session scopes access to private key material for the duration of a
// signing operation. Every byte slice that ever holds derived private
// key material must be registered with Track so Close can zero it,
// on both the success and failure exit paths.
type Session struct {
	oracle    KeyOracle
	DeltaMode bool

	tracked [][]byte
}

// NewSession opens a scoped acquisition against oracle. DeltaMode, when
// true, indicates the device is under duress (a "delta mode" PIN was
// entered): signing proceeds but produces provably invalid signatures.
func NewSession(o KeyOracle, deltaMode bool) *Session {
	return &Session{oracle: o, DeltaMode: deltaMode}
}

// DerivePath forwards to the underlying oracle.
func (s *Session) DerivePath(path string) (Node, error) {
	return s.oracle.DerivePath(path)
}

// Track registers buf for zeroization when the session closes. Callers
// must not retain buf past Close.
func (s *Session) Track(buf []byte) {
	s.tracked = append(s.tracked, buf)
}

// Close zeroizes every tracked buffer. Safe to call multiple times.
func (s *Session) Close() {
	for _, b := range s.tracked {
		for i := range b {
			b[i] = 0
		}
	}
	s.tracked = nil
}
