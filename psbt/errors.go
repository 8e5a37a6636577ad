package psbt

import "fmt"

// FatalPSBTIssue is raised for structural and policy violations: a
// malformed container, an unsupported sighash value, a missing script,
// an unknown multisig wallet, and so on. It always aborts signing.
type FatalPSBTIssue struct {
	Reason string
}

func (e *FatalPSBTIssue) Error() string {
	return fmt.Sprintf("fatal PSBT issue: %s", e.Reason)
}

// NewFatalPSBTIssue builds a FatalPSBTIssue with a formatted reason.
func NewFatalPSBTIssue(format string, args ...interface{}) *FatalPSBTIssue {
	return &FatalPSBTIssue{Reason: fmt.Sprintf(format, args...)}
}

// FraudulentChangeOutput is raised when an output's claimed change
// status cannot be reconciled with its actual scriptPubKey. This error
// is never downgraded to a warning and never retried.
type FraudulentChangeOutput struct {
	Idx    int
	Reason string
}

func (e *FraudulentChangeOutput) Error() string {
	return fmt.Sprintf("fraudulent change output #%d: %s", e.Idx, e.Reason)
}

// NewFraudulentChangeOutput builds a FraudulentChangeOutput for the
// given output index.
func NewFraudulentChangeOutput(idx int, format string, args ...interface{}) *FraudulentChangeOutput {
	return &FraudulentChangeOutput{Idx: idx, Reason: fmt.Sprintf(format, args...)}
}

// Warning is a non-fatal observation appended during validation; the
// UI layer is expected to render these for user confirmation before
// signing runs.
type Warning struct {
	Tag     string
	Message string
}
