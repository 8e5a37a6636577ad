package main

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/lightninglabs/psbtsigner/lnd"
	"github.com/lightninglabs/psbtsigner/oracle"
	"github.com/lightninglabs/psbtsigner/psbt"
	"github.com/spf13/cobra"
)

type signCommand struct {
	Psbt            string
	FromRawPsbtFile string
	ToRawPsbtFile   string

	Finalize          bool
	DeltaMode         bool
	FeeLimit          int32
	AllowRiskySighash bool

	rootKey *rootKey
	cmd     *cobra.Command
}

func newSignCommand() *cobra.Command {
	cc := &signCommand{}
	cc.cmd = &cobra.Command{
		Use:   "sign",
		Short: "Sign a Partially Signed Bitcoin Transaction (PSBT)",
		Long: `Sign a PSBT with a master root key, the way a hardware
signer's firmware would: every input this key can sign is signed,
every change output is cryptographically re-verified before being
trusted, and the miner's fee is checked against a configurable limit.`,
		Example: `psbtsign sign \
	--psbt <the_base64_encoded_psbt>

psbtsign sign --fromrawpsbtfile <file_with_psbt> --finalize`,
		RunE: cc.Execute,
	}
	cc.cmd.Flags().StringVar(
		&cc.Psbt, "psbt", "", "base64-encoded PSBT to sign",
	)
	cc.cmd.Flags().StringVar(
		&cc.FromRawPsbtFile, "fromrawpsbtfile", "", "the file "+
			"containing the raw, binary encoded PSBT to sign",
	)
	cc.cmd.Flags().StringVar(
		&cc.ToRawPsbtFile, "torawpsbtfile", "", "the file to write "+
			"the resulting PSBT (or, with --finalize, the raw "+
			"network transaction) to",
	)
	cc.cmd.Flags().BoolVar(
		&cc.Finalize, "finalize", false, "if every input ends up "+
			"signed, extract and emit the final network-ready "+
			"transaction instead of an updated PSBT",
	)
	cc.cmd.Flags().BoolVar(
		&cc.DeltaMode, "deltamode", false, "sign as though a duress "+
			"PIN had been entered: keys are used but every "+
			"signature produced is provably invalid",
	)
	cc.cmd.Flags().Int32Var(
		&cc.FeeLimit, "feelimit", psbt.DefaultMaxFeePercentage,
		"maximum miner's fee, as a percentage of total output "+
			"value, before refusing to sign; -1 disables the check",
	)
	cc.cmd.Flags().BoolVar(
		&cc.AllowRiskySighash, "allowriskysighash", false, "allow "+
			"non-ALL, non-DEFAULT sighash types through with only "+
			"a warning",
	)

	cc.rootKey = newRootKey(cc.cmd, "signing the PSBT")

	return cc.cmd
}

func (c *signCommand) Execute(_ *cobra.Command, _ []string) error {
	extendedKey, err := c.rootKey.read()
	if err != nil {
		return fmt.Errorf("error reading root key: %w", err)
	}

	raw, err := c.readPacket()
	if err != nil {
		return err
	}

	in, err := os.CreateTemp("", "psbtsign-in-*.psbt")
	if err != nil {
		return fmt.Errorf("error creating scratch file: %w", err)
	}
	defer os.Remove(in.Name())
	defer in.Close()
	if _, err := in.Write(raw); err != nil {
		return fmt.Errorf("error staging PSBT: %w", err)
	}
	if _, err := in.Seek(0, 0); err != nil {
		return err
	}

	myXFP, err := fingerprintOf(extendedKey)
	if err != nil {
		return fmt.Errorf("error computing master fingerprint: %w", err)
	}

	settings := psbt.Settings{
		XFP:               myXFP,
		FeeLimit:          c.FeeLimit,
		AllowRiskySighash: c.AllowRiskySighash,
		DeltaMode:         c.DeltaMode,
	}
	registry := noMultisigRegistry{}

	container, err := psbt.ReadContainer(in, myXFP, settings, registry)
	if err != nil {
		return fmt.Errorf("error parsing PSBT: %w", err)
	}
	if err := container.Validate(); err != nil {
		return fmt.Errorf("error validating PSBT: %w", err)
	}
	if err := container.ConsiderInputs(); err != nil {
		return fmt.Errorf("error considering inputs: %w", err)
	}
	if err := container.ConsiderOutputs(); err != nil {
		return fmt.Errorf("error considering outputs: %w", err)
	}
	if err := container.ConsiderDangerousSighash(); err != nil {
		return fmt.Errorf("error checking sighash flags: %w", err)
	}
	if err := container.ConsiderKeys(); err != nil {
		return fmt.Errorf("error checking key ownership: %w", err)
	}

	for _, w := range container.Warnings {
		log.Warnf("%s: %s", w.Tag, w.Message)
	}

	session := oracle.NewSession(&hdOracle{root: extendedKey}, c.DeltaMode)
	signer := psbt.NewSigner(container, session)
	if err := signer.Sign(); err != nil {
		return fmt.Errorf("error signing PSBT: %w", err)
	}

	if c.Finalize && container.IsComplete() {
		return c.writeFinalTxn(container)
	}
	return c.writeUpdatedPsbt(container)
}

func (c *signCommand) readPacket() ([]byte, error) {
	switch {
	case c.Psbt != "":
		return base64.StdEncoding.DecodeString(c.Psbt)

	case c.FromRawPsbtFile != "":
		raw, err := os.ReadFile(c.FromRawPsbtFile)
		if err != nil {
			return nil, fmt.Errorf("error reading PSBT file '%s': %w",
				c.FromRawPsbtFile, err)
		}
		return raw, nil

	default:
		return nil, fmt.Errorf("either --psbt or --fromrawpsbtfile " +
			"must be set")
	}
}

func (c *signCommand) writeUpdatedPsbt(container *psbt.Container) error {
	out, err := os.CreateTemp("", "psbtsign-out-*.psbt")
	if err != nil {
		return fmt.Errorf("error creating scratch file: %w", err)
	}
	defer os.Remove(out.Name())
	defer out.Close()

	if err := container.Serialize(out); err != nil {
		return fmt.Errorf("error serializing PSBT: %w", err)
	}

	raw, err := os.ReadFile(out.Name())
	if err != nil {
		return fmt.Errorf("error reading serialized PSBT: %w", err)
	}

	if c.ToRawPsbtFile != "" {
		if err := os.WriteFile(c.ToRawPsbtFile, raw, 0o644); err != nil {
			return fmt.Errorf("error writing PSBT file '%s': %w",
				c.ToRawPsbtFile, err)
		}
		fmt.Printf("Successfully signed PSBT and wrote it to file "+
			"'%s'\n", c.ToRawPsbtFile)
		return nil
	}

	fmt.Printf("Successfully signed PSBT:\n\n%s\n",
		base64.StdEncoding.EncodeToString(raw))
	return nil
}

func (c *signCommand) writeFinalTxn(container *psbt.Container) error {
	out, err := os.CreateTemp("", "psbtsign-out-*.txn")
	if err != nil {
		return fmt.Errorf("error creating scratch file: %w", err)
	}
	defer os.Remove(out.Name())
	defer out.Close()

	txid, err := container.Finalize(out)
	if err != nil {
		return fmt.Errorf("error finalizing PSBT: %w", err)
	}

	if _, err := out.Seek(0, 0); err != nil {
		return err
	}
	raw, err := os.ReadFile(out.Name())
	if err != nil {
		return fmt.Errorf("error reading finalized transaction: %w", err)
	}

	if c.ToRawPsbtFile != "" {
		if err := os.WriteFile(c.ToRawPsbtFile, raw, 0o644); err != nil {
			return fmt.Errorf("error writing transaction file '%s': %w",
				c.ToRawPsbtFile, err)
		}
		fmt.Printf("Successfully finalized transaction %x and wrote "+
			"it to file '%s'\n", reverseBytes(txid), c.ToRawPsbtFile)
		return nil
	}

	fmt.Printf("Successfully finalized transaction %x:\n\n%s\n",
		reverseBytes(txid), hexEncode(raw))
	return nil
}

// fingerprintOf derives the master-key fingerprint the same way BIP-32
// defines it: the first four bytes of hash160(compressed pubkey).
func fingerprintOf(key *hdkeychain.ExtendedKey) (uint32, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return 0, err
	}
	h := btcutil.Hash160(pub.SerializeCompressed())
	return binary.BigEndian.Uint32(h[:4]), nil
}

// hdOracle adapts a BIP-32 root extended key to oracle.KeyOracle.
type hdOracle struct {
	root *hdkeychain.ExtendedKey
}

func (o *hdOracle) DerivePath(path string) (oracle.Node, error) {
	parsed, err := lnd.ParsePath(path)
	if err != nil {
		return nil, fmt.Errorf("error parsing derivation path %q: %w",
			path, err)
	}
	derived, err := lnd.DeriveChildren(o.root, parsed)
	if err != nil {
		return nil, fmt.Errorf("error deriving path %q: %w", path, err)
	}
	priv, err := derived.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("error deriving private key for "+
			"path %q: %w", path, err)
	}
	return &hdNode{priv: priv}, nil
}

// hdNode adapts a derived private key to oracle.Node.
type hdNode struct {
	priv *btcec.PrivateKey
}

func (n *hdNode) Pubkey() []byte  { return n.priv.PubKey().SerializeCompressed() }
func (n *hdNode) Privkey() []byte { return n.priv.Serialize() }

// noMultisigRegistry is the oracle.Registry this CLI ships with: it has
// no persistent wallet store, so every multisig input/output is
// treated conservatively (never recognized as change, never signed).
// A device build would replace this with a registry backed by its own
// enrolled-wallet storage.
type noMultisigRegistry struct{}

func (noMultisigRegistry) FindCandidates(_ []oracle.XfpPath) []oracle.MultisigWallet {
	return nil
}

func (noMultisigRegistry) FindMatch(_, _ int, _ []oracle.XfpPath) oracle.MultisigWallet {
	return nil
}

func (noMultisigRegistry) ImportFromPSBT(_, _ int, _ []oracle.GlobalXpub) (oracle.MultisigWallet, bool, error) {
	return nil, false, fmt.Errorf("no multisig wallet registry configured")
}

func (noMultisigRegistry) ConfirmImport(_ oracle.MultisigWallet) (bool, error) {
	return false, nil
}

func (noMultisigRegistry) DisableChecks() bool { return true }

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0x0f]
	}
	return string(out)
}
