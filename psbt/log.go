package psbt

import "github.com/btcsuite/btclog"

// log is the package-level logger for the psbt state machine, disabled
// by default until the host (cmd/psbtsign) calls UseLogger, following
// the same sub-logger convention chantools uses for its own
// dependencies (channeldb.UseLogger, chanbackup.UseLogger, ...).
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-level logger used by the psbt state
// machine. The zero value leaves logging disabled, so callers that
// never wire a logger in (library consumers, tests) pay no cost.
func UseLogger(logger btclog.Logger) {
	log = logger
}
