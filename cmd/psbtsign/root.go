package main

import (
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btclog"
	"github.com/lightninglabs/psbtsigner/btc"
	"github.com/lightninglabs/psbtsigner/lnd"
	"github.com/lightninglabs/psbtsigner/psbt"
	"github.com/lightningnetwork/lnd/build"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	Testnet bool
	Regtest bool

	logWriter   = build.NewRotatingLogWriter()
	log         = build.NewSubLogger("SIGN", genSubLogger(logWriter))
	chainParams = &chaincfg.MainNetParams
)

var rootCmd = &cobra.Command{
	Use:   "psbtsign",
	Short: "Sign Partially Signed Bitcoin Transactions the way a hardware signer would",
	Long: `psbtsign parses, validates and signs a PSBT the same way a
hardware wallet's signing core does: it refuses to sign a transaction
it cannot fully account for, flags any output it cannot prove is
change, and never holds more of the PSBT in memory than one record at
a time.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case Testnet:
			chainParams = &chaincfg.TestNet3Params
		case Regtest:
			chainParams = &chaincfg.RegressionNetParams
		default:
			chainParams = &chaincfg.MainNetParams
		}

		setupLogging()
	},
	DisableAutoGenTag: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(
		&Testnet, "testnet", "t", false,
		"use testnet chain parameters",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&Regtest, "regtest", "r", false,
		"use regtest chain parameters",
	)

	rootCmd.AddCommand(newSignCommand())
}

// rootKey captures the flags needed to read a BIP-32 root key, the way
// chantools' own signpsbt command does.
type rootKey struct {
	RootKey string
	BIP39   bool
}

func newRootKey(cmd *cobra.Command, desc string) *rootKey {
	r := &rootKey{}
	cmd.Flags().StringVar(
		&r.RootKey, "rootkey", "", "BIP-32 HD root key to use for "+
			desc+"; leave empty to prompt for an lnd 24 word aezeed",
	)
	cmd.Flags().BoolVar(
		&r.BIP39, "bip39", false, "read a classic BIP-39 seed and "+
			"passphrase from the terminal instead of asking for "+
			"an lnd aezeed or providing --rootkey",
	)
	return r
}

func (r *rootKey) read() (*hdkeychain.ExtendedKey, error) {
	extendedKey, _, err := r.readWithBirthday()
	return extendedKey, err
}

func (r *rootKey) readWithBirthday() (*hdkeychain.ExtendedKey, time.Time, error) {
	switch {
	case r.RootKey != "":
		extendedKey, err := hdkeychain.NewKeyFromString(r.RootKey)
		return extendedKey, time.Unix(0, 0), err

	case r.BIP39:
		extendedKey, err := btc.ReadMnemonicFromTerminal(chainParams)
		return extendedKey, time.Unix(0, 0), err

	default:
		return lnd.ReadAezeed(chainParams)
	}
}

func setupLogging() {
	setSubLogger("SIGN", log)
	addSubLogger("PSBT", psbt.UseLogger)
	err := logWriter.InitLogRotator("./results/psbtsign.log", 10, 3)
	if err != nil {
		panic(err)
	}
	err = build.ParseAndSetDebugLevels("debug", logWriter)
	if err != nil {
		panic(err)
	}
}

func genSubLogger(logWriter *build.RotatingLogWriter) func(string) btclog.Logger {
	return func(s string) btclog.Logger {
		return logWriter.GenSubLogger(s, func() {})
	}
}

func setSubLogger(subsystem string, logger btclog.Logger,
	useLoggers ...func(btclog.Logger)) {

	logWriter.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// addSubLogger is a helper method to conveniently create and register
// the logger of one or more sub systems.
func addSubLogger(subsystem string, useLoggers ...func(btclog.Logger)) {
	logger := build.NewSubLogger(subsystem, genSubLogger(logWriter))
	setSubLogger(subsystem, logger, useLoggers...)
}
