package oracle

// XfpPath is a parsed BIP-32 derivation record: [xfp, path component,
// path component, ...], each a 32-bit integer with the hardened bit
// (0x80000000) already folded in, exactly as PSBT_IN_BIP32_DERIVATION
// values decode.
type XfpPath []uint32

// Xfp returns the master-key fingerprint this path starts with.
func (p XfpPath) Xfp() uint32 {
	if len(p) == 0 {
		return 0
	}
	return p[0]
}

// Path returns the derivation path components, without the leading
// XFP.
func (p XfpPath) Path() []uint32 {
	if len(p) == 0 {
		return nil
	}
	return p[1:]
}

// GlobalXpub is a PSBT_GLOBAL_XPUB record: an extended public key and
// the xfp+path that produced it.
type GlobalXpub struct {
	XfpPath XfpPath
	Xpub    []byte
}

// TapSubpathRecord is a PSBT_IN/OUT_TAP_BIP32_DERIVATION record: the
// leaf hashes that authorize an x-only key in a tapscript tree, plus
// the xfp+path that derives it. An empty LeafHashes slice means the
// key is the taproot internal (key-path) key.
type TapSubpathRecord struct {
	LeafHashes [][]byte
	XfpPath    XfpPath
}

// MultisigWallet is a previously-registered (or freshly imported)
// multisig wallet descriptor. Script reconstruction and membership
// checks are delegated to it so this core never has to re-derive or
// store the wallet's cosigner set itself.
type MultisigWallet interface {
	M() int
	N() int

	// ValidateScript checks that script is exactly the redeem/witness
	// script this wallet would produce for the given pubkey->path
	// subpaths, in BIP-67 sorted order.
	ValidateScript(script []byte, subpaths map[string]XfpPath) error

	// ValidatePSBTXpubs checks xpubs against this wallet's registered
	// cosigners (chain codes must match what's already on file).
	ValidatePSBTXpubs(xpubs []GlobalXpub) error

	// ValidateTRInternalKey returns the wallet's registered taproot
	// internal key, having checked it against the given taproot
	// subpaths.
	ValidateTRInternalKey(subpaths map[string]TapSubpathRecord) ([]byte, error)

	// MakeMultisigTR reconstructs this wallet's single tapscript leaf
	// script (an M-of-N multisig-style script) from the given taproot
	// subpaths.
	MakeMultisigTR(subpaths map[string]TapSubpathRecord) ([]byte, error)

	// AssertMatching verifies this wallet is consistent with an M-of-N
	// and xfp-path set already observed elsewhere in the same PSBT.
	AssertMatching(m, n int, xfpPaths []XfpPath) error
}

// Registry resolves PSBT-supplied cosigner sets to registered
// MultisigWallet records, and drives the (external, interactive)
// import-a-new-wallet flow when no match exists.
type Registry interface {
	FindCandidates(xfpPaths []XfpPath) []MultisigWallet
	FindMatch(m, n int, xfpPaths []XfpPath) MultisigWallet

	// ImportFromPSBT proposes a new wallet from PSBT_GLOBAL_XPUB
	// records. needsApproval is true when interactive user
	// confirmation (ConfirmImport) is required before the wallet may
	// be used.
	ImportFromPSBT(m, n int, xpubs []GlobalXpub) (wallet MultisigWallet, needsApproval bool, err error)

	// ConfirmImport resolves the interactive approval prompt for a
	// proposed wallet. Returns false if the user declined.
	ConfirmImport(wallet MultisigWallet) (bool, error)

	// DisableChecks reports whether multisig validation is globally
	// disabled (e.g. a developer/test build). When true, every output
	// that would otherwise be recognized as multisig change must
	// instead be treated conservatively as non-change.
	DisableChecks() bool
}
