package proof

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/sealgauge/internal/ir"
)

// DomainCallback separates callback digests from every other keccak use.
const DomainCallback = "sealgauge/callback/v1"

// Digest is the 32-byte message the oracle signers sign for a callback.
func Digest(id ir.RequestID, kind ir.RevealKind, handlesDigest string, payload []byte) []byte {
	parts := [][]byte{
		[]byte(id),
		[]byte(kind),
		[]byte(handlesDigest),
		payload,
	}

	buf := make([]byte, 0, len(DomainCallback)+1+64+len(payload)+len(id)+len(handlesDigest))
	buf = append(buf, DomainCallback...)
	buf = append(buf, 0x00)
	for _, p := range parts {
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(p)))
		buf = append(buf, p...)
	}
	return crypto.Keccak256(buf)
}
