package psbt

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/lightninglabs/psbtsigner/oracle"
)

// Signer drives the signing pass over a validated Container: it
// re-verifies every change output's derivation before trusting it (the
// slow, cryptographic check that actually catches a malicious
// co-signer, as opposed to the cheap script-shape check already done
// by Output.Validate), then signs every input this device holds a key
// for.
type Signer struct {
	c       *Container
	session *oracle.Session
}

// NewSigner binds a validated Container to the key-derivation session
// that supplies private key material for one signing pass. Callers
// must have already run Container.Validate, ConsiderInputs,
// ConsiderOutputs, ConsiderDangerousSighash, and ConsiderKeys.
func NewSigner(c *Container, session *oracle.Session) *Signer {
	return &Signer{c: c, session: session}
}

// Sign re-verifies change outputs, then signs every input this device
// can sign, mutating each Input's AddedSig/TaprootKeySig/
// TaprootScriptSigs fields in place. Private key material handed out by
// the session is zeroized on every exit path.
func (s *Signer) Sign() error {
	defer s.session.Close()

	if err := s.verifyChangeOutputs(); err != nil {
		return err
	}

	hasher := newSigHasher(s.c.fd, s.c.Skeleton, s.utxoValue, s.utxoScript)

	for idx, in := range s.c.Inputs {
		if err := s.signInput(idx, in, hasher); err != nil {
			return err
		}
	}
	return nil
}

func (s *Signer) utxoValue(idx int) (int64, error) {
	return s.c.Inputs[idx].Amount, nil
}

func (s *Signer) utxoScript(idx int) ([]byte, error) {
	if s.c.Inputs[idx].UtxoScript == nil {
		return nil, NewFatalPSBTIssue("input #%d: no utxo available for taproot sighash", idx)
	}
	return s.c.Inputs[idx].UtxoScript, nil
}

// verifyChangeOutputs re-derives each change output's claimed pubkey
// through the key oracle. A change output can pass Output.Validate's
// script-shape check yet still be fraudulent if our own derivation
// disagrees with what the PSBT claims - this is the check that
// matters.
func (s *Signer) verifyChangeOutputs() error {
	for _, out := range s.c.Outputs {
		if !out.IsChange {
			continue
		}

		good := 0

		for _, sp := range out.Subpaths {
			if sp.Path.Xfp() != s.c.MyXFP {
				continue
			}
			node, err := s.session.DerivePath(formatDerivationPath(sp.Path.Path()))
			if err != nil {
				return err
			}
			s.session.Track(node.Privkey())
			if bytes.Equal(sp.PubKey, node.Pubkey()) {
				good++
			}
		}

		for _, tsp := range out.TaprootSubpaths {
			if tsp.Record.XfpPath.Xfp() != s.c.MyXFP {
				continue
			}
			node, err := s.session.DerivePath(formatDerivationPath(tsp.Record.XfpPath.Path()))
			if err != nil {
				return err
			}
			s.session.Track(node.Privkey())
			pub := node.Pubkey()
			if len(pub) == 33 && bytes.Equal(tsp.XOnlyPubKey, pub[1:]) {
				good++
			}
		}

		if good == 0 {
			return NewFraudulentChangeOutput(out.Index,
				"BIP-32 path doesn't match actual address")
		}
	}
	return nil
}

// signInput signs a single input in place, silently skipping it when
// this device has nothing to contribute: no UTXO was supplied, no
// required key was resolved for it, or it's already fully signed.
func (s *Signer) signInput(idx int, in *Input, hasher *sigHasher) error {
	if in.WitnessUtxo == nil && in.NonWitnessUtxo == nil {
		return nil
	}
	if len(in.RequiredKeys) == 0 {
		return nil
	}
	if in.FullySigned {
		return nil
	}

	in.HandleNoneSighash()

	var (
		whichKey   []byte
		schnorrSig bool
		tapScript  []byte
		tapLeafVer byte
		node       oracle.Node
	)

	if in.IsMultisig || in.Tapscript {
		found := false

		for _, candidate := range in.RequiredKeys {
			var path oracle.XfpPath

			if in.Tapscript {
				schnorrSig = true
				entry := tapSubpathEntryFor(in.TaprootSubpaths, candidate)
				if entry == nil {
					continue
				}
				path = entry.Record.XfpPath
			} else {
				entry := subpathEntryFor(in.Subpaths, candidate)
				if entry == nil {
					continue
				}
				path = entry.Path
			}

			n, err := s.session.DerivePath(formatDerivationPath(path.Path()))
			if err != nil {
				return err
			}
			s.session.Track(n.Privkey())
			pub := n.Pubkey()

			if bytes.Equal(pub, candidate) {
				whichKey, node, found = candidate, n, true
				break
			}
			if len(candidate) == 32 && len(pub) == 33 && bytes.Equal(pub[1:], candidate) {
				// Only one leaf script is supported, and it was
				// already verified in DetermineSigningKey.
				for scriptKey := range in.TaprootScripts {
					var ver int
					var hexScript string
					fmtSscanVer(scriptKey, &ver, &hexScript)
					script, derr := hex.DecodeString(hexScript)
					if derr == nil && bytes.Contains(script, candidate) {
						tapScript, tapLeafVer = script, byte(ver)
						break
					}
				}
				whichKey, node, found = candidate, n, true
				break
			}
		}

		if !found {
			return NewFatalPSBTIssue("input #%d needs a pubkey we don't have", idx)
		}
	} else {
		whichKey = in.RequiredKeys[0]
		if in.AddedSig != nil || in.TaprootKeySig != nil {
			return NewFatalPSBTIssue("input #%d: already signed", idx)
		}

		sp := subpathEntryFor(in.Subpaths, whichKey)
		tsp := tapSubpathEntryFor(in.TaprootSubpaths, whichKey)

		var path oracle.XfpPath
		switch {
		case sp != nil && sp.Path.Xfp() == s.c.MyXFP:
			path = sp.Path
		case tsp != nil && tsp.Record.XfpPath.Xfp() == s.c.MyXFP:
			path = tsp.Record.XfpPath
			schnorrSig = true
		default:
			// Redundant in practice: RequiredKeys wouldn't be set
			// without one of the above matching.
			return nil
		}

		n, err := s.session.DerivePath(formatDerivationPath(path.Path()))
		if err != nil {
			return err
		}
		s.session.Track(n.Privkey())
		node = n

		pub := n.Pubkey()
		if schnorrSig {
			if len(pub) != 33 || !bytes.Equal(pub[1:], whichKey) {
				return NewFatalPSBTIssue("input #%d: derived path led to wrong pubkey", idx)
			}
		} else if !bytes.Equal(pub, whichKey) {
			return NewFatalPSBTIssue("input #%d: derived path led to wrong pubkey", idx)
		}
	}

	var digest []byte
	if s.session.DeltaMode || s.c.Settings.DeltaMode {
		// The operator entered a duress PIN: access to the keys is
		// real, but every signature produced from here on must be
		// silently wrong. Substituting the digest (rather than
		// corrupting the signature afterward) means the wrong-ness is
		// baked into what gets signed, not bolted on after.
		digest = make([]byte, 32)
		for i := range digest {
			digest[i] = byte(i)
		}
	} else {
		var err error
		switch {
		case !in.IsSegwit:
			digest, err = hasher.LegacySighash(idx, in.ScriptSig, *in.Sighash)
		case len(in.TaprootSubpaths) == 0:
			digest, err = hasher.SegwitSighash(idx, in.Amount, in.ScriptCode, *in.Sighash)
		case tapScript != nil:
			digest, err = hasher.TaprootSighash(idx, TaprootSighashParams{
				HashType:    *in.Sighash,
				ScriptPath:  true,
				LeafScript:  tapScript,
				LeafVersion: tapLeafVer,
			})
		default:
			digest, err = hasher.TaprootSighash(idx, TaprootSighashParams{HashType: *in.Sighash})
		}
		if err != nil {
			return err
		}
	}

	privKeyBytes := node.Privkey()
	s.session.Track(privKeyBytes)
	priv, _ := btcec.PrivKeyFromBytes(privKeyBytes)

	var sig []byte
	if schnorrSig {
		signingKey := priv
		if tapScript == nil {
			// BIP-341: a key-path-only output still commits to an
			// (implicit) script path, so the internal key is always
			// tweaked, with the merkle root folded in when one is on
			// file (DetermineSigningKey already checked that this tweak
			// reproduces the output key being spent).
			var merkleRoot []byte
			if in.TaprootMerkleRoot != nil {
				var merr error
				merkleRoot, merr = Get(s.c.fd, *in.TaprootMerkleRoot)
				if merr != nil {
					return merr
				}
			}
			signingKey = taprootTweakPrivKey(priv, merkleRoot)
		}
		rawSig, err := schnorr.Sign(signingKey, digest)
		if err != nil {
			return err
		}
		sig = rawSig.Serialize()
		if *in.Sighash != SighashDefault {
			sig = append(sig, byte(*in.Sighash))
		}
	} else {
		// btcec's ecdsa.Sign already grinds for a low-R signature, so
		// the DER encoding comes out at <=71 bytes without a manual
		// retry loop.
		rawSig := ecdsa.Sign(priv, digest)
		sig = append(rawSig.Serialize(), byte(*in.Sighash))
	}

	switch {
	case schnorrSig && tapScript != nil:
		var merkleRoot []byte
		if in.TaprootMerkleRoot != nil {
			var merr error
			merkleRoot, merr = Get(s.c.fd, *in.TaprootMerkleRoot)
			if merr != nil {
				return merr
			}
		}
		if in.TaprootScriptSigs == nil {
			in.TaprootScriptSigs = map[string][]byte{}
		}
		in.TaprootScriptSigs[hex.EncodeToString(whichKey)+hex.EncodeToString(merkleRoot)] = sig
	case schnorrSig:
		in.TaprootKeySig = sig
	default:
		in.AddedSig = &addedSig{PubKey: whichKey, Sig: sig}
	}

	return nil
}

func subpathEntryFor(entries []subpathEntry, pubkey []byte) *subpathEntry {
	for i := range entries {
		if bytes.Equal(entries[i].PubKey, pubkey) {
			return &entries[i]
		}
	}
	return nil
}

func tapSubpathEntryFor(entries []tapSubpathEntry, xonlyPubkey []byte) *tapSubpathEntry {
	for i := range entries {
		if bytes.Equal(entries[i].XOnlyPubKey, xonlyPubkey) {
			return &entries[i]
		}
	}
	return nil
}

// formatDerivationPath renders a BIP-32 path's components (without the
// leading XFP) as "m/84'/0'/0'/0/0", the string form the key oracle's
// DerivePath expects.
func formatDerivationPath(components []uint32) string {
	buf := bytes.NewBufferString("m")
	for _, c := range components {
		idx := c &^ 0x80000000
		if c&0x80000000 != 0 {
			fmt.Fprintf(buf, "/%d'", idx)
		} else {
			fmt.Fprintf(buf, "/%d", idx)
		}
	}
	return buf.String()
}
