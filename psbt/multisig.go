package psbt

import (
	"github.com/btcsuite/btcd/txscript"
)

// disassembleMultisigMN parses a standard bare/p2sh-style multisig
// redeem script: OP_m <pubkey>... OP_n OP_CHECKMULTISIG. It returns
// the M and N values without validating individual pubkeys; callers
// still run those against the registered wallet via
// oracle.MultisigWallet.ValidateScript.
func disassembleMultisigMN(script []byte) (m, n int, err error) {
	tok := txscript.MakeScriptTokenizer(0, script)

	if !tok.Next() {
		return 0, 0, NewFatalPSBTIssue("empty redeem script")
	}
	m, ok := asSmallInt(tok.Opcode())
	if !ok {
		return 0, 0, NewFatalPSBTIssue("redeem script does not start with OP_m")
	}

	var count int
	var lastOp byte
	for tok.Next() {
		lastOp = tok.Opcode()
		if isPushOnly(lastOp) {
			count++
			continue
		}
		break
	}

	nVal, ok := asSmallInt(lastOp)
	if !ok {
		return 0, 0, NewFatalPSBTIssue("redeem script does not encode OP_n before OP_CHECKMULTISIG")
	}
	n = nVal

	if !tok.Next() || tok.Opcode() != txscript.OP_CHECKMULTISIG {
		return 0, 0, NewFatalPSBTIssue("redeem script missing OP_CHECKMULTISIG")
	}
	if tok.Next() {
		return 0, 0, NewFatalPSBTIssue("trailing data after OP_CHECKMULTISIG")
	}
	if err := tok.Err(); err != nil {
		return 0, 0, NewFatalPSBTIssue("malformed redeem script: %v", err)
	}
	if count != n {
		return 0, 0, NewFatalPSBTIssue("redeem script pubkey count (%d) does not match N (%d)", count, n)
	}
	if m < 1 || m > n || n > MaxSigners {
		return 0, 0, NewFatalPSBTIssue("nonsensical multisig M-of-N: %d-of-%d", m, n)
	}

	return m, n, nil
}

// disassembleMultisigMNTaproot parses a tapscript multisig leaf built
// from OP_CHECKSIGADD accumulation: <pk1> OP_CHECKSIG <pk2>
// OP_CHECKSIGADD ... <pkN> OP_CHECKSIGADD <m> OP_NUMEQUAL.
func disassembleMultisigMNTaproot(script []byte) (m, n int, err error) {
	tok := txscript.MakeScriptTokenizer(0, script)

	n = 0
	for tok.Next() {
		op := tok.Opcode()
		if isXOnlyPush(op, tok.Data()) {
			n++
			if !tok.Next() {
				return 0, 0, NewFatalPSBTIssue("tapscript multisig: truncated after pubkey")
			}
			op2 := tok.Opcode()
			if n == 1 {
				if op2 != txscript.OP_CHECKSIG {
					return 0, 0, NewFatalPSBTIssue("tapscript multisig: first key not followed by OP_CHECKSIG")
				}
				continue
			}
			if op2 != txscript.OP_CHECKSIGADD {
				return 0, 0, NewFatalPSBTIssue("tapscript multisig: key not followed by OP_CHECKSIGADD")
			}
			continue
		}

		mVal, ok := asSmallInt(op)
		if !ok {
			return 0, 0, NewFatalPSBTIssue("tapscript multisig: expected threshold push")
		}
		m = mVal
		if !tok.Next() || tok.Opcode() != txscript.OP_NUMEQUAL {
			return 0, 0, NewFatalPSBTIssue("tapscript multisig: missing OP_NUMEQUAL")
		}
		if tok.Next() {
			return 0, 0, NewFatalPSBTIssue("tapscript multisig: trailing data")
		}
		break
	}
	if err := tok.Err(); err != nil {
		return 0, 0, NewFatalPSBTIssue("malformed tapscript multisig: %v", err)
	}
	if m < 1 || m > n || n > MaxSigners {
		return 0, 0, NewFatalPSBTIssue("nonsensical tapscript multisig M-of-N: %d-of-%d", m, n)
	}

	return m, n, nil
}

func isPushOnly(op byte) bool {
	return op > txscript.OP_0 && op <= txscript.OP_DATA_75 || op == txscript.OP_PUSHDATA1 ||
		op == txscript.OP_PUSHDATA2 || op == txscript.OP_PUSHDATA4
}

func isXOnlyPush(op byte, data []byte) bool {
	return op == txscript.OP_DATA_32 && len(data) == 32
}

// asSmallInt reports whether op is OP_1..OP_16 (or OP_0), returning its
// integer value.
func asSmallInt(op byte) (int, bool) {
	if op == txscript.OP_0 {
		return 0, true
	}
	if op >= txscript.OP_1 && op <= txscript.OP_16 {
		return int(op-txscript.OP_1) + 1, true
	}
	return 0, false
}
