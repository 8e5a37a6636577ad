package psbt

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/txscript"
	"github.com/lightninglabs/psbtsigner/oracle"
	"github.com/lightninglabs/psbtsigner/stream"
	"github.com/lightninglabs/psbtsigner/txwire"
)

// Container is the parsed, validated state of one PSBT: its unsigned
// transaction skeleton plus every input/output's proxy state. Callers
// drive it through the same sequence the firmware does: ReadContainer,
// Validate, ConsiderInputs, ConsiderOutputs, ConsiderDangerousSighash,
// ConsiderKeys, then (via a Signer) signing, then IsComplete/Finalize.
type Container struct {
	fd       stream.ReadSeeker
	Registry oracle.Registry

	MyXFP    uint32
	Settings Settings

	Txn      stream.Region
	Skeleton *txwire.Skeleton

	Xpubs []oracle.GlobalXpub

	Inputs  []*Input
	Outputs []*Output

	Unknown []Record

	TotalValueIn     *int64
	TotalValueOut    int64
	PresignedInputs  map[int]bool
	ConsolidationTx  bool
	NumChangeOutputs int

	ActiveMultisig oracle.MultisigWallet

	Warnings []Warning
}

var globalNoKeyTypes = map[byte]bool{PsbtGlobalUnsignedTx: true}
var globalShortValues = map[byte]bool{}

// ReadContainer parses a PSBT's magic, global section, unsigned
// transaction skeleton, and every input/output section in turn. It
// runs no cross-section validation; call Validate, ConsiderInputs,
// ConsiderOutputs, ConsiderDangerousSighash, and ConsiderKeys in that
// order before signing.
func ReadContainer(fd stream.ReadSeeker, myXFP uint32, settings Settings, registry oracle.Registry) (*Container, error) {
	var hdr [5]byte
	if _, err := fd.Read(hdr[:]); err != nil {
		return nil, NewFatalPSBTIssue("reading PSBT header: %v", err)
	}
	if hdr != PsbtMagic {
		return nil, NewFatalPSBTIssue("bad PSBT magic")
	}

	recs, err := ParseSection(fd, globalNoKeyTypes, globalShortValues)
	if err != nil {
		return nil, err
	}

	c := &Container{
		fd:              fd,
		Registry:        registry,
		MyXFP:           myXFP,
		Settings:        settings,
		PresignedInputs: map[int]bool{},
	}

	var txnRegion *stream.Region
	for _, r := range recs {
		switch r.KeyType {
		case PsbtGlobalUnsignedTx:
			region := r.Region
			txnRegion = &region

		case PsbtGlobalXpub:
			if len(c.Xpubs) >= MaxSigners {
				return nil, NewFatalPSBTIssue("too many PSBT_GLOBAL_XPUB records")
			}
			val, err := Get(fd, r.Region)
			if err != nil {
				return nil, err
			}
			c.Xpubs = append(c.Xpubs, oracle.GlobalXpub{
				XfpPath: decodeXfpPath(val),
				Xpub:    r.KeyData,
			})

		default:
			c.Unknown = append(c.Unknown, r)
		}
	}

	if txnRegion == nil {
		return nil, NewFatalPSBTIssue("missing required PSBT_GLOBAL_UNSIGNED_TX")
	}
	c.Txn = *txnRegion

	sk, err := txwire.ParseSkeleton(fd, c.Txn)
	if err != nil {
		return nil, NewFatalPSBTIssue("parsing unsigned transaction: %v", err)
	}
	c.Skeleton = sk

	c.Inputs = make([]*Input, sk.NumInputs)
	for i := range c.Inputs {
		in, err := ParseInput(fd, i)
		if err != nil {
			return nil, err
		}
		c.Inputs[i] = in
	}

	c.Outputs = make([]*Output, sk.NumOutputs)
	for i := range c.Outputs {
		out, err := ParseOutput(fd, i)
		if err != nil {
			return nil, err
		}
		c.Outputs[i] = out
	}

	return c, nil
}

// Validate runs the per-input structural checks, resolves any global
// xpub set against the multisig registry, and enforces the minimum
// "there is at least one output" shape.
func (c *Container) Validate() error {
	if c.Txn.Length <= 63 {
		return NewFatalPSBTIssue("transaction too short to be valid")
	}

	err := txwire.IterInputs(c.fd, c.Skeleton, func(idx int, in txwire.TxIn) error {
		return c.Inputs[idx].Validate(c.fd, in.PrevTxid, c.MyXFP, &c.Warnings)
	})
	if err != nil {
		return err
	}

	if len(c.Xpubs) > 0 {
		if err := c.handleXpubs(); err != nil {
			return err
		}
	}

	if c.Skeleton.NumOutputs == 0 {
		return NewFatalPSBTIssue("transaction has no outputs")
	}

	return nil
}

// handleXpubs resolves PSBT_GLOBAL_XPUB records against the multisig
// registry, picking (or importing) the ActiveMultisig wallet every
// multisig input/output validates against from here on.
func (c *Container) handleXpubs() error {
	xfpPaths := make([]oracle.XfpPath, 0, len(c.Xpubs))
	hasMine := false
	for _, x := range c.Xpubs {
		if len(x.XfpPath) == 0 {
			return NewFatalPSBTIssue("PSBT_GLOBAL_XPUB value too short")
		}
		xfpPaths = append(xfpPaths, x.XfpPath)
		if x.XfpPath.Xfp() == c.MyXFP {
			hasMine = true
		}
	}
	if !hasMine {
		return NewFatalPSBTIssue("xpubs given, but none involve this device's key")
	}

	candidates := c.Registry.FindCandidates(xfpPaths)

	var m, n int
	if len(candidates) == 1 {
		c.ActiveMultisig = candidates[0]
	} else {
		m, n = c.guessMofN()
		if n == 0 {
			// Can't even guess the shape; leave ActiveMultisig unset,
			// multisig inputs/outputs will fail their own checks later.
			return nil
		}
		if n != len(xfpPaths) {
			return NewFatalPSBTIssue("xpub count (%d) does not match guessed N (%d)", len(xfpPaths), n)
		}
		for _, cand := range candidates {
			if cand.M() == m && cand.N() == n {
				c.ActiveMultisig = cand
				break
			}
		}
	}

	if c.ActiveMultisig != nil {
		if err := c.ActiveMultisig.ValidatePSBTXpubs(c.Xpubs); err != nil {
			return NewFatalPSBTIssue("%v", err)
		}
		return nil
	}

	wallet, needsApproval, err := c.Registry.ImportFromPSBT(m, n, c.Xpubs)
	if err != nil {
		return NewFatalPSBTIssue("importing multisig wallet: %v", err)
	}
	if needsApproval {
		if c.Settings.HSMActive {
			return NewFatalPSBTIssue("multisig wallet enrollment is not allowed while in HSM mode")
		}
		ok, err := c.Registry.ConfirmImport(wallet)
		if err != nil {
			return err
		}
		if !ok {
			return NewFatalPSBTIssue("refused to import new multisig wallet")
		}
	}
	c.ActiveMultisig = wallet

	return nil
}

// guessMofN peeks the first input carrying a redeem/witness script
// ending in OP_CHECKMULTISIG and disassembles its M-of-N shape. It is
// used whenever a PSBT_GLOBAL_XPUB set does not match exactly one
// registered wallet: to pick among several candidates, and to supply
// M and N for importing a new wallet when none matches.
func (c *Container) guessMofN() (m, n int) {
	for _, in := range c.Inputs {
		var ks *stream.Region
		switch {
		case in.WitnessScript != nil:
			ks = in.WitnessScript
		case in.RedeemScript != nil:
			ks = in.RedeemScript
		default:
			continue
		}

		script, err := Get(c.fd, *ks)
		if err != nil || len(script) == 0 {
			continue
		}
		if script[len(script)-1] != txscript.OP_CHECKMULTISIG {
			continue
		}
		mm, nn, err := disassembleMultisigMN(script)
		if err != nil {
			continue
		}
		return mm, nn
	}
	return 0, 0
}

// addWarning appends a Warning to c.Warnings and logs it, so every
// warning surfaced to a UI layer is also visible in the signer's log.
func (c *Container) addWarning(tag, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, Warning{Tag: tag, Message: msg})
	log.Warnf("%s: %s", tag, msg)
}

// ConsiderInputs resolves every input's UTXO, determines which (if
// any) of this device's keys is required to sign it, and accumulates
// the total value being spent (or marks it unknown when any input's
// value can't be determined).
func (c *Container) ConsiderInputs() error {
	var foreign []int
	var totalIn int64

	err := txwire.IterInputs(c.fd, c.Skeleton, func(idx int, txi txwire.TxIn) error {
		in := c.Inputs[idx]

		if in.FullySigned {
			c.PresignedInputs[idx] = true
		}

		hasUTXO := in.WitnessUtxo != nil || in.NonWitnessUtxo != nil
		if !hasUTXO {
			if in.numOurKeys > 0 && !in.FullySigned {
				return NewFatalPSBTIssue("input #%d: missing UTXO; cannot determine value being signed", idx)
			}
			foreign = append(foreign, idx)
			return nil
		}

		value, script, err := in.ResolveUTXO(c.fd, txi.PrevIndex)
		if err != nil {
			return err
		}
		if value <= 0 {
			return NewFatalPSBTIssue("input #%d: utxo value must be positive", idx)
		}
		totalIn += value
		in.UtxoScript = script

		return in.DetermineSigningKey(c.fd, c.MyXFP, value, script, c.Registry, &c.ActiveMultisig)
	})
	if err != nil {
		return err
	}

	if len(foreign) == 0 {
		v := totalIn
		c.TotalValueIn = &v
	} else {
		c.TotalValueIn = nil
		c.addWarning("Unable to calculate fee",
			"Some input(s) haven't provided UTXO(s): %v", foreign)
	}

	if len(c.PresignedInputs) == int(c.Skeleton.NumInputs) {
		return NewFatalPSBTIssue("transaction looks completely signed already")
	}

	var noKeys []int
	for i, in := range c.Inputs {
		if !in.FullySigned && len(in.RequiredKeys) == 0 {
			noKeys = append(noKeys, i)
		}
	}
	if len(noKeys) > 0 {
		c.addWarning("Limited Signing",
			"We are not signing these inputs, because we do not know the key: %v", noKeys)
	}
	if len(c.PresignedInputs) > 0 {
		c.addWarning("Partly Signed Already",
			"Some input(s) were already completely signed by other parties: %v", sortedIntKeys(c.PresignedInputs))
	}
	if c.Registry != nil && c.Registry.DisableChecks() {
		c.addWarning("Danger", "Some multisig wallet checks have been disabled.")
	}

	return nil
}

// ConsiderOutputs resolves change/fraud status for every output,
// tallies the miner's fee against Settings.FeeLimit, and flags
// suspicious divergences between input and change-output derivation
// paths.
func (c *Container) ConsiderOutputs() error {
	c.NumChangeOutputs = 0
	var totalOut int64

	err := txwire.IterOutputs(c.fd, c.Skeleton, func(idx int, txo txwire.TxOut) error {
		script, err := txwire.Get(c.fd, txo.ScriptPubKey)
		if err != nil {
			return err
		}
		out := c.Outputs[idx]
		if err := out.Validate(c.fd, c.MyXFP, script, c.Registry, &c.ActiveMultisig, &c.Warnings); err != nil {
			return err
		}
		if out.IsChange {
			c.NumChangeOutputs++
		}
		totalOut += txo.Value
		return nil
	})
	if err != nil {
		return err
	}
	c.TotalValueOut = totalOut

	if fee := c.calculateFee(); fee != nil {
		if *fee < 0 {
			return NewFatalPSBTIssue("outputs are worth more than the inputs")
		}

		// A PSBT with zero total output value has no denominator to
		// express the fee as a percentage of; treat it as the
		// worst case (100%) rather than skipping the checks.
		perFee := 100.0
		if totalOut > 0 {
			perFee = float64(*fee) * 100 / float64(totalOut)
		}
		if c.Settings.FeeLimit != -1 && perFee >= float64(c.Settings.FeeLimit) {
			return NewFatalPSBTIssue("network fee bigger than %d%% of total amount (it is %.0f%%)", c.Settings.FeeLimit, perFee)
		}
		if perFee >= 5 {
			c.addWarning("Big Fee",
				"Network fee is more than 5%% of total value (%.1f%%).", perFee)
		}
	}

	c.ConsolidationTx = c.NumChangeOutputs == int(c.Skeleton.NumOutputs)

	c.considerDangerousChange()

	return nil
}

// calculateFee returns TotalValueIn - TotalValueOut, or nil if the
// input value couldn't be fully determined (some input's UTXO was
// never supplied).
func (c *Container) calculateFee() *int64 {
	if c.TotalValueIn == nil {
		return nil
	}
	fee := *c.TotalValueIn - c.TotalValueOut
	return &fee
}

// considerDangerousChange cross-checks every change output's BIP-32
// path against the paths of the inputs being signed with this
// device's key: a wildly different derivation pattern is a strong
// signal the "change" output was chosen to mislead, even though its
// key cryptographically checks out.
func (c *Container) considerDangerousChange() {
	var inPaths [][]uint32
	for _, in := range c.Inputs {
		if in.FullySigned || len(in.RequiredKeys) == 0 {
			continue
		}
		for _, sp := range in.Subpaths {
			if sp.Path.Xfp() == c.MyXFP {
				inPaths = append(inPaths, sp.Path.Path())
			}
		}
		for _, tsp := range in.TaprootSubpaths {
			if tsp.Record.XfpPath.Xfp() == c.MyXFP {
				inPaths = append(inPaths, tsp.Record.XfpPath.Path())
			}
		}
	}
	if len(inPaths) == 0 {
		return
	}

	shortest, longest := len(inPaths[0]), len(inPaths[0])
	for _, p := range inPaths {
		if len(p) < shortest {
			shortest = len(p)
		}
		if len(p) > longest {
			longest = len(p)
		}
	}
	if shortest != longest || shortest <= 2 {
		// Not all inputs agree on path length, or too short a path to
		// usefully compare; skip the check rather than false-alarm.
		return
	}
	pathLen := shortest

	hardBits := func(p []uint32) []bool {
		bits := make([]bool, len(p))
		for i, v := range p {
			bits[i] = v&0x80000000 != 0
		}
		return bits
	}
	hardPattern := hardBits(inPaths[0])
	pathPrefix := append([]uint32{}, inPaths[0][:pathLen-2]...)

	var idxMax uint32
	for _, p := range inPaths {
		last := p[len(p)-1] &^ 0x80000000
		if last > idxMax {
			idxMax = last
		}
	}
	idxMax += 200

	checkOutputPath := func(path []uint32) string {
		switch {
		case len(path) != pathLen:
			return fmt.Sprintf("has wrong path length (%d not %d)", len(path), pathLen)
		case !equalBoolSlices(hardBits(path), hardPattern):
			return "has different hardening pattern than inputs"
		case !equalUint32Slices(path[:pathLen-2], pathPrefix):
			return "goes to a different path prefix than inputs"
		case path[pathLen-2]&^0x80000000 > 1:
			return "second-to-last path component is not 0 or 1"
		case path[pathLen-1]&^0x80000000 > idxMax:
			return "last path component is implausibly far from inputs"
		default:
			return ""
		}
	}

	for nout, out := range c.Outputs {
		if !out.IsChange {
			continue
		}
		for _, sp := range out.Subpaths {
			if sp.Path.Xfp() != c.MyXFP {
				continue
			}
			if issue := checkOutputPath(sp.Path.Path()); issue != "" {
				c.addWarning("Troublesome Change Outs", "Output #%d: %s", nout, issue)
			}
			break
		}
		for _, tsp := range out.TaprootSubpaths {
			if tsp.Record.XfpPath.Xfp() != c.MyXFP {
				continue
			}
			if issue := checkOutputPath(tsp.Record.XfpPath.Path()); issue != "" {
				c.addWarning("Troublesome Change Outs", "Output #%d: %s", nout, issue)
			}
			break
		}
	}
}

// ConsiderDangerousSighash enforces the device's sighash policy: unless
// Settings.AllowRiskySighash is set, a sighash other than ALL or
// DEFAULT is fatal in a consolidation transaction, and SIGHASH_NONE is
// fatal in any transaction. A sighash other than ALL or DEFAULT that
// passes these checks draws a warning.
func (c *Container) ConsiderDangerousSighash() error {
	var unusual, none bool

	for _, in := range c.Inputs {
		if in.numOurKeys == 0 || in.Sighash == nil {
			continue
		}
		sh := *in.Sighash
		if !isValidSighash(sh) {
			return NewFatalPSBTIssue("unsupported sighash flag 0x%x", sh)
		}
		if sh != SighashAll && sh != SighashDefault {
			unusual = true
		}
		base := sh &^ SighashAnyoneCanPay
		if base == SighashNone {
			none = true
		}
	}

	if unusual && !c.Settings.AllowRiskySighash {
		if c.ConsolidationTx {
			return NewFatalPSBTIssue("only sighash ALL is allowed for a consolidation transaction")
		}
		if none {
			return NewFatalPSBTIssue("sighash NONE is not allowed: funds could be redirected after signing")
		}
	}

	switch {
	case none:
		c.addWarning("Danger", "Destination address can be changed after signing (sighash NONE in use).")
	case unusual:
		c.addWarning("Caution", "Some inputs have unusual SIGHASH values not used in typical cases.")
	}

	return nil
}

func isValidSighash(sh uint32) bool {
	switch sh {
	case SighashDefault,
		SighashAll, SighashNone, SighashSingle,
		SighashAll | SighashAnyoneCanPay,
		SighashNone | SighashAnyoneCanPay,
		SighashSingle | SighashAnyoneCanPay:
		return true
	default:
		return false
	}
}

// ConsiderKeys enforces that at least one input actually involves this
// device's key; otherwise the PSBT has nothing for it to sign at all
// and presenting it to the user would be pointless (or misleading).
func (c *Container) ConsiderKeys() error {
	for _, in := range c.Inputs {
		if in.numOurKeys > 0 {
			return nil
		}
	}

	others := map[uint32]bool{}
	for _, in := range c.Inputs {
		for _, sp := range in.Subpaths {
			others[sp.Path.Xfp()] = true
		}
		for _, tsp := range in.TaprootSubpaths {
			others[tsp.Record.XfpPath.Xfp()] = true
		}
	}
	if len(others) == 0 {
		return NewFatalPSBTIssue("PSBT does not contain any key path information")
	}
	delete(others, c.MyXFP)

	var xfps []string
	for xfp := range others {
		xfps = append(xfps, fmt.Sprintf("%08x", xfp))
	}
	sort.Strings(xfps)

	return NewFatalPSBTIssue("none of the keys involved in this transaction belong to this device (need %08x, found %v)", c.MyXFP, xfps)
}

// IsComplete reports whether every input is either already fully
// signed or has had a signature added by this core. Any multisig
// input makes a PSBT never "complete": combining multisig signatures
// isn't supported by this core.
func (c *Container) IsComplete() bool {
	signed := len(c.PresignedInputs)
	for _, in := range c.Inputs {
		if in.IsMultisig {
			return false
		}
		if c.PresignedInputs[in.Index] {
			continue
		}
		if in.AddedSig != nil || in.TaprootKeySig != nil {
			signed++
		}
	}
	return signed == int(c.Skeleton.NumInputs)
}

func equalBoolSlices(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalUint32Slices(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedIntKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Serialize re-emits this PSBT, including any signatures this core has
// added since ReadContainer. The unsigned transaction and any
// untouched script/derivation values are streamed straight from the
// backing fd rather than re-copied into memory.
func (c *Container) Serialize(out WriteSeeker) error {
	if _, err := out.Write(PsbtMagic[:]); err != nil {
		return err
	}

	if err := writeKV(out, PsbtGlobalUnsignedTx, nil, nil, c.fd, &c.Txn); err != nil {
		return err
	}
	for _, x := range c.Xpubs {
		if err := writeKV(out, PsbtGlobalXpub, x.Xpub, encodeXfpPath(x.XfpPath), nil, nil); err != nil {
			return err
		}
	}
	for _, r := range c.Unknown {
		if err := writeKV(out, r.KeyType, r.KeyData, r.Inline, c.fd, regionOrNil(r)); err != nil {
			return err
		}
	}
	if _, err := out.Write([]byte{0x00}); err != nil {
		return err
	}

	for _, in := range c.Inputs {
		if err := in.Serialize(out, c.fd); err != nil {
			return err
		}
	}
	for _, o := range c.Outputs {
		if err := o.Serialize(out, c.fd); err != nil {
			return err
		}
	}

	return nil
}

// Finalize writes the fully signed, network-ready transaction to out
// and returns its TXID. It fails if IsComplete is false: this core
// never attempts to combine multisig signatures, so any multisig input
// blocks finalization entirely, matching the firmware's behavior.
func (c *Container) Finalize(out stream.ReadWriteSeeker) ([]byte, error) {
	if !c.IsComplete() {
		return nil, NewFatalPSBTIssue("transaction is not fully signed")
	}

	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], uint32(c.Skeleton.Version))
	if _, err := out.Write(verBuf[:]); err != nil {
		return nil, err
	}

	needsWitness := c.Skeleton.HadWitness
	for _, in := range c.Inputs {
		if in.IsSegwit {
			needsWitness = true
		}
	}
	if needsWitness {
		if _, err := out.Write([]byte{0x00, 0x01}); err != nil {
			return nil, err
		}
	}

	bodyStart, err := out.Seek(0, 1)
	if err != nil {
		return nil, err
	}

	if err := stream.WriteCompactSize(out, c.Skeleton.NumInputs); err != nil {
		return nil, err
	}

	err = txwire.IterInputs(c.fd, c.Skeleton, func(idx int, txi txwire.TxIn) error {
		in := c.Inputs[idx]

		var scriptSig []byte
		switch {
		case in.IsSegwit && in.IsP2SH:
			if len(in.ScriptSig) >= 0xfd {
				return NewFatalPSBTIssue("input #%d: redeem script too long to push directly", idx)
			}
			scriptSig = pushData(in.ScriptSig)
		case in.IsSegwit:
			// Native segwit: scriptSig stays empty, witness carries the
			// spend proof.
		case in.IsMultisig:
			return NewFatalPSBTIssue("input #%d: multisig combine not supported", idx)
		default:
			if in.AddedSig == nil {
				return NewFatalPSBTIssue("input #%d: no signature", idx)
			}
			scriptSig = append(pushData(in.AddedSig.Sig), pushData(in.AddedSig.PubKey)...)
		}

		if err := txi.SerializePrevOut(out); err != nil {
			return err
		}
		if err := stream.WriteCompactSize(out, uint64(len(scriptSig))); err != nil {
			return err
		}
		if len(scriptSig) > 0 {
			if _, err := out.Write(scriptSig); err != nil {
				return err
			}
		}
		return txi.SerializeSequence(out)
	})
	if err != nil {
		return nil, err
	}

	if err := stream.WriteCompactSize(out, c.Skeleton.NumOutputs); err != nil {
		return nil, err
	}
	if err := txwire.IterOutputs(c.fd, c.Skeleton, func(idx int, txo txwire.TxOut) error {
		return txo.Serialize(c.fd, out)
	}); err != nil {
		return nil, err
	}

	bodyEnd, err := out.Seek(0, 1)
	if err != nil {
		return nil, err
	}

	if needsWitness {
		for _, in := range c.Inputs {
			var stack [][]byte
			switch {
			case in.TaprootKeySig != nil:
				stack = [][]byte{in.TaprootKeySig}
			case in.IsSegwit && !in.IsMultisig && in.AddedSig != nil:
				stack = [][]byte{in.AddedSig.Sig, in.AddedSig.PubKey}
			}
			if err := stream.WriteCompactSize(out, uint64(len(stack))); err != nil {
				return nil, err
			}
			for _, item := range stack {
				if err := stream.WriteCompactSize(out, uint64(len(item))); err != nil {
					return nil, err
				}
				if _, err := out.Write(item); err != nil {
					return nil, err
				}
			}
		}
	}

	var ltBuf [4]byte
	binary.LittleEndian.PutUint32(ltBuf[:], c.Skeleton.LockTime)
	if _, err := out.Write(ltBuf[:]); err != nil {
		return nil, err
	}

	end, err := out.Seek(0, 1)
	if err != nil {
		return nil, err
	}

	fullRegion := stream.Region{Offset: 0, Length: end}
	bodyRegion := stream.Region{Offset: bodyStart, Length: bodyEnd - bodyStart}
	return txwire.CalcTXID(out, fullRegion, &bodyRegion)
}

// pushData wraps b in the shortest legal Bitcoin script push opcode.
func pushData(b []byte) []byte {
	n := len(b)
	switch {
	case n < 0x4c:
		return append([]byte{byte(n)}, b...)
	case n <= 0xff:
		return append([]byte{0x4c, byte(n)}, b...)
	case n <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0x4d
		binary.LittleEndian.PutUint16(buf[1:], uint16(n))
		return append(buf, b...)
	default:
		buf := make([]byte, 5)
		buf[0] = 0x4e
		binary.LittleEndian.PutUint32(buf[1:], uint32(n))
		return append(buf, b...)
	}
}
