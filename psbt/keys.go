package psbt

// Key-type constants from BIP-174 (PSBTv0) and BIP-371 (taproot
// fields), named identically to the public_constants module of the
// original firmware so the wire format stays traceable back to spec.
const (
	PsbtGlobalUnsignedTx = 0x00
	PsbtGlobalXpub       = 0x01

	PsbtInNonWitnessUtxo    = 0x00
	PsbtInWitnessUtxo       = 0x01
	PsbtInPartialSig        = 0x02
	PsbtInSighashType       = 0x03
	PsbtInRedeemScript      = 0x04
	PsbtInWitnessScript     = 0x05
	PsbtInBip32Derivation   = 0x06
	PsbtInFinalScriptsig    = 0x07
	PsbtInFinalScriptwitness = 0x08
	PsbtInTapKeySig         = 0x13
	PsbtInTapScriptSig      = 0x14
	PsbtInTapLeafScript     = 0x15
	PsbtInTapBip32Derivation = 0x16
	PsbtInTapInternalKey    = 0x17
	PsbtInTapMerkleRoot     = 0x18

	PsbtOutRedeemScript      = 0x00
	PsbtOutWitnessScript     = 0x01
	PsbtOutBip32Derivation   = 0x02
	PsbtOutTapInternalKey    = 0x05
	PsbtOutTapTree           = 0x06
	PsbtOutTapBip32Derivation = 0x07

	// PsbtProprietary is the key type used for vendor extensions.
	PsbtProprietary = 0xFC
)

// MaxSigners bounds the number of PSBT_GLOBAL_XPUB records accepted,
// matching the firmware's MAX_SIGNERS constant used for multisig.
const MaxSigners = 15

// PsbtMagic is the 5-byte header every PSBT stream must begin with.
var PsbtMagic = [5]byte{'p', 's', 'b', 't', 0xff}

// PropCKIdentifier is the proprietary-key identifier this core
// recognizes ("COINKITE"), used for attestation signatures.
var PropCKIdentifier = []byte("COINKITE")

// AttestationSubtype is the only proprietary subtype recognized under
// the COINKITE identifier.
const AttestationSubtype = 0

// DefaultMaxFeePercentage is the customary fee limit (percent of total
// output value); the CLI uses it as the default of its fee-limit flag.
// Container never applies it on its own: Settings.FeeLimit is used as
// given, and a zero FeeLimit is not replaced by this value.
const DefaultMaxFeePercentage = 10
