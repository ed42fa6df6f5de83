package proof

import "errors"

// Verification failures. Verify wraps them in an ir VERIFICATION_FAILED error.
var (
	ErrMalformedProof  = errors.New("proof: malformed signature list")
	ErrUnknownSigner   = errors.New("proof: signature from a key outside the signer set")
	ErrDuplicateSigner = errors.New("proof: signer appears more than once")
	ErrQuorumNotMet    = errors.New("proof: signer quorum not met")
	ErrPayloadArity    = errors.New("proof: payload arity mismatch")
	ErrPayloadEncoding = errors.New("proof: payload encoding invalid")
	ErrKindUnknown     = errors.New("proof: unknown reveal kind")
)
