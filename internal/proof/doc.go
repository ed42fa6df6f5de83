// Package proof verifies oracle callbacks.
//
// A callback carries an ABI-encoded payload of uint32 words and a proof made
// of concatenated 65-byte secp256k1 signatures. Each signature covers
//
//	keccak256("sealgauge/callback/v1" || 0x00 || requestID || kind || handlesDigest || payload)
//
// with every component length-prefixed. The verifier accepts the callback only
// if at least threshold distinct members of the configured signer set signed
// that digest, so a proof cannot be replayed against another request, another
// kind, other ciphertexts or another payload.
package proof
