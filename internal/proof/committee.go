package proof

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/roach88/sealgauge/internal/ir"
)

// Committee is the signing side: the oracle's secp256k1 keys.
type Committee struct {
	keys []*ecdsa.PrivateKey
}

// NewCommittee generates n fresh signing keys.
func NewCommittee(n int) (*Committee, error) {
	if n < 1 {
		return nil, errors.New("proof: committee needs at least one member")
	}
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		k, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("proof: generate key: %w", err)
		}
		keys[i] = k
	}
	return &Committee{keys: keys}, nil
}

// CommitteeFromHex loads hex-encoded private keys (with or without 0x).
func CommitteeFromHex(hexKeys []string) (*Committee, error) {
	if len(hexKeys) == 0 {
		return nil, errors.New("proof: committee needs at least one member")
	}
	keys := make([]*ecdsa.PrivateKey, len(hexKeys))
	for i, h := range hexKeys {
		k, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(h), "0x"))
		if err != nil {
			return nil, fmt.Errorf("proof: signer key %d: %w", i, err)
		}
		keys[i] = k
	}
	return &Committee{keys: keys}, nil
}

// Size returns n.
func (c *Committee) Size() int {
	return len(c.keys)
}

// Addresses returns the members' addresses in key order.
func (c *Committee) Addresses() []common.Address {
	out := make([]common.Address, len(c.keys))
	for i, k := range c.keys {
		out[i] = crypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

// HexKeys returns the members' private keys hex-encoded, in the form
// CommitteeFromHex reads.
func (c *Committee) HexKeys() []string {
	out := make([]string, len(c.keys))
	for i, k := range c.keys {
		out[i] = hex.EncodeToString(crypto.FromECDSA(k))
	}
	return out
}

// Sign returns the concatenated signatures of the first k members over digest.
func (c *Committee) Sign(digest []byte, k int) ([]byte, error) {
	if k < 1 || k > len(c.keys) {
		return nil, fmt.Errorf("proof: cannot collect %d of %d signatures", k, len(c.keys))
	}
	out := make([]byte, 0, k*SignatureLength)
	for _, key := range c.keys[:k] {
		sig, err := crypto.Sign(digest, key)
		if err != nil {
			return nil, fmt.Errorf("proof: sign: %w", err)
		}
		out = append(out, sig...)
	}
	return out, nil
}

// Attest encodes values and signs the callback digest with k members.
func (c *Committee) Attest(id ir.RequestID, kind ir.RevealKind, handlesDigest string, values []uint32, k int) (payload, proof []byte, err error) {
	payload, err = EncodePayload(values)
	if err != nil {
		return nil, nil, err
	}
	proof, err = c.Sign(Digest(id, kind, handlesDigest, payload), k)
	if err != nil {
		return nil, nil, err
	}
	return payload, proof, nil
}
