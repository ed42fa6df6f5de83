package proof

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/sealgauge/internal/ir"
)

// SignatureLength is the size of one [R || S || V] secp256k1 signature.
const SignatureLength = crypto.SignatureLength

// Verifier checks a callback against the request it claims to answer and
// returns the decoded cleartext values. Implementations are pure: no I/O and
// no state.
type Verifier interface {
	Verify(req ir.DecryptionRequest, payload, proof []byte) ([]uint32, error)
}

// QuorumVerifier accepts a callback signed by at least threshold distinct
// members of a fixed signer set.
type QuorumVerifier struct {
	signers   map[common.Address]bool
	threshold int
}

// NewQuorumVerifier builds a k-of-n verifier.
func NewQuorumVerifier(signers []common.Address, threshold int) (*QuorumVerifier, error) {
	if len(signers) == 0 {
		return nil, errors.New("proof: empty signer set")
	}
	if threshold < 1 || threshold > len(signers) {
		return nil, fmt.Errorf("proof: threshold %d out of range 1..%d", threshold, len(signers))
	}
	set := make(map[common.Address]bool, len(signers))
	for _, a := range signers {
		if set[a] {
			return nil, fmt.Errorf("proof: duplicate signer %s", a.Hex())
		}
		set[a] = true
	}
	return &QuorumVerifier{signers: set, threshold: threshold}, nil
}

// ParseAddresses parses 0x-prefixed hex addresses.
func ParseAddresses(hexes []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		h = strings.TrimSpace(h)
		if !common.IsHexAddress(h) {
			return nil, fmt.Errorf("proof: invalid signer address %q", h)
		}
		out = append(out, common.HexToAddress(h))
	}
	return out, nil
}

// Threshold returns k.
func (v *QuorumVerifier) Threshold() int {
	return v.threshold
}

// Verify recomputes the digest from the stored request, recovers every
// signer, and decodes the payload with the arity of the request kind.
func (v *QuorumVerifier) Verify(req ir.DecryptionRequest, payload, proof []byte) ([]uint32, error) {
	values, err := v.verify(req, payload, proof)
	if err != nil {
		return nil, ir.NewVerificationFailed(req.ID, err)
	}
	return values, nil
}

func (v *QuorumVerifier) verify(req ir.DecryptionRequest, payload, proof []byte) ([]uint32, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrKindUnknown, req.Kind)
	}
	if len(proof) == 0 || len(proof)%SignatureLength != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedProof, len(proof))
	}

	digest := Digest(req.ID, req.Kind, req.HandlesDigest, payload)

	seen := make(map[common.Address]bool)
	for off := 0; off < len(proof); off += SignatureLength {
		sig := proof[off : off+SignatureLength]
		pub, err := crypto.SigToPub(digest, sig)
		if err != nil {
			return nil, fmt.Errorf("%w: signature %d: %v", ErrMalformedProof, off/SignatureLength, err)
		}
		addr := crypto.PubkeyToAddress(*pub)
		if !v.signers[addr] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, addr.Hex())
		}
		if seen[addr] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, addr.Hex())
		}
		seen[addr] = true
	}
	if len(seen) < v.threshold {
		return nil, fmt.Errorf("%w: %d of %d", ErrQuorumNotMet, len(seen), v.threshold)
	}

	return DecodePayload(payload, req.Kind.Arity())
}
