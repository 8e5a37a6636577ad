package psbt

// Settings mirrors the persistent device settings described in
// spec.md section 6 (xfp, fee_limit, sighshchk), threaded explicitly
// into Container rather than read from globals.
type Settings struct {
	// XFP is this device's own master-key fingerprint.
	XFP uint32

	// FeeLimit is the miner's fee, as a percentage of total output
	// value, at or above which signing fails with a fatal error.
	// -1 disables the check entirely. Zero value (0) is NOT the same
	// as disabled; callers that want the documented default should
	// set DefaultMaxFeePercentage explicitly.
	FeeLimit int32

	// AllowRiskySighash corresponds to the device's "sighshchk"
	// setting: when true, unusual (non-ALL, non-DEFAULT) sighash
	// values are allowed through with only a warning.
	AllowRiskySighash bool

	// HSMActive blocks interactive multisig wallet enrollment: a PSBT
	// that would need to propose a brand new wallet fails fatally
	// instead of prompting.
	HSMActive bool

	// DeltaMode, when set, is the duress signing path: this session
	// is known to be unlocked under a "delta mode" PIN, so every
	// signature produced must be provably invalid.
	DeltaMode bool
}
