package proof

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/ir"
)

func rawRequest() ir.DecryptionRequest {
	return ir.DecryptionRequest{
		ID:            "req-1",
		RecordID:      1,
		Kind:          ir.RevealRawFields,
		Status:        ir.StatusPending,
		HandlesDigest: ir.HandlesDigest([][]byte{{1}, {2}, {3}}),
	}
}

func newCommitteeAndVerifier(t *testing.T, n, k int) (*Committee, *QuorumVerifier) {
	t.Helper()
	c, err := NewCommittee(n)
	require.NoError(t, err)
	v, err := NewQuorumVerifier(c.Addresses(), k)
	require.NoError(t, err)
	return c, v
}

func attest(t *testing.T, c *Committee, req ir.DecryptionRequest, values []uint32, k int) ([]byte, []byte) {
	t.Helper()
	payload, proof, err := c.Attest(req.ID, req.Kind, req.HandlesDigest, values, k)
	require.NoError(t, err)
	return payload, proof
}

func assertVerificationFailed(t *testing.T, err error, cause error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, ir.Is(err, ir.ErrCodeVerificationFailed), "got %v", err)
	if cause != nil {
		assert.True(t, errors.Is(err, cause), "want cause %v, got %v", cause, err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	data, err := EncodePayload([]uint32{100, 80, 60})
	require.NoError(t, err)
	assert.Len(t, data, 96)
	assert.Equal(t, byte(100), data[31])

	values, err := DecodePayload(data, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 80, 60}, values)
}

func TestDecodePayload_Rejects(t *testing.T) {
	good, err := EncodePayload([]uint32{8200})
	require.NoError(t, err)

	_, err = DecodePayload(good, 3)
	assert.ErrorIs(t, err, ErrPayloadArity)

	_, err = DecodePayload(append(good, 0), 1)
	assert.ErrorIs(t, err, ErrPayloadArity)

	dirty := append([]byte(nil), good...)
	dirty[0] = 0xff
	_, err = DecodePayload(dirty, 1)
	assert.Error(t, err)

	_, err = DecodePayload(nil, 0)
	assert.ErrorIs(t, err, ErrPayloadArity)
}

func TestDigestBindsEveryField(t *testing.T) {
	req := rawRequest()
	payload := []byte("payload")
	base := Digest(req.ID, req.Kind, req.HandlesDigest, payload)
	assert.Len(t, base, 32)

	assert.NotEqual(t, base, Digest("req-2", req.Kind, req.HandlesDigest, payload))
	assert.NotEqual(t, base, Digest(req.ID, ir.RevealScore, req.HandlesDigest, payload))
	assert.NotEqual(t, base, Digest(req.ID, req.Kind, "other", payload))
	assert.NotEqual(t, base, Digest(req.ID, req.Kind, req.HandlesDigest, []byte("payloaX")))
	assert.Equal(t, base, Digest(req.ID, req.Kind, req.HandlesDigest, payload))
}

func TestVerify_Accepts(t *testing.T) {
	c, v := newCommitteeAndVerifier(t, 3, 2)
	req := rawRequest()

	payload, proof := attest(t, c, req, []uint32{100, 80, 60}, 2)
	values, err := v.Verify(req, payload, proof)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 80, 60}, values)

	// More than the quorum is fine.
	payload, proof = attest(t, c, req, []uint32{100, 80, 60}, 3)
	_, err = v.Verify(req, payload, proof)
	assert.NoError(t, err)
}

func TestVerify_QuorumNotMet(t *testing.T) {
	c, v := newCommitteeAndVerifier(t, 3, 2)
	req := rawRequest()

	payload, proof := attest(t, c, req, []uint32{1, 2, 3}, 1)
	_, err := v.Verify(req, payload, proof)
	assertVerificationFailed(t, err, ErrQuorumNotMet)
}

func TestVerify_DuplicateSigner(t *testing.T) {
	c, v := newCommitteeAndVerifier(t, 3, 2)
	req := rawRequest()

	payload, proof := attest(t, c, req, []uint32{1, 2, 3}, 1)
	doubled := append(append([]byte(nil), proof...), proof...)
	_, err := v.Verify(req, payload, doubled)
	assertVerificationFailed(t, err, ErrDuplicateSigner)
}

func TestVerify_UnknownSigner(t *testing.T) {
	_, v := newCommitteeAndVerifier(t, 3, 1)
	outsider, err := NewCommittee(1)
	require.NoError(t, err)
	req := rawRequest()

	payload, proof := attest(t, outsider, req, []uint32{1, 2, 3}, 1)
	_, err = v.Verify(req, payload, proof)
	assertVerificationFailed(t, err, ErrUnknownSigner)
}

func TestVerify_ProofBoundToRequest(t *testing.T) {
	c, v := newCommitteeAndVerifier(t, 2, 2)
	req := rawRequest()
	payload, proof := attest(t, c, req, []uint32{100, 80, 60}, 2)

	// Same proof presented for another request id: recovered keys differ.
	other := req
	other.ID = "req-2"
	_, err := v.Verify(other, payload, proof)
	assertVerificationFailed(t, err, nil)

	// Tampered payload.
	tampered, err := EncodePayload([]uint32{100, 80, 61})
	require.NoError(t, err)
	_, err = v.Verify(req, tampered, proof)
	assertVerificationFailed(t, err, nil)

	// Different ciphertexts.
	moved := req
	moved.HandlesDigest = ir.HandlesDigest([][]byte{{4}, {5}, {6}})
	_, err = v.Verify(moved, payload, proof)
	assertVerificationFailed(t, err, nil)
}

func TestVerify_ArityFollowsKind(t *testing.T) {
	c, v := newCommitteeAndVerifier(t, 1, 1)
	req := rawRequest()
	req.Kind = ir.RevealScore

	// A correctly signed three-word payload for a score request.
	payload, proof := attest(t, c, req, []uint32{1, 2, 3}, 1)
	_, err := v.Verify(req, payload, proof)
	assertVerificationFailed(t, err, ErrPayloadArity)
}

func TestVerify_Malformed(t *testing.T) {
	_, v := newCommitteeAndVerifier(t, 1, 1)
	req := rawRequest()
	payload, err := EncodePayload([]uint32{1, 2, 3})
	require.NoError(t, err)

	for name, proof := range map[string][]byte{
		"empty":     nil,
		"short":     make([]byte, SignatureLength-1),
		"zero sigs": make([]byte, SignatureLength),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(req, payload, proof)
			assertVerificationFailed(t, err, ErrMalformedProof)
		})
	}

	bad := req
	bad.Kind = "everything"
	_, err = v.Verify(bad, payload, make([]byte, SignatureLength))
	assertVerificationFailed(t, err, ErrKindUnknown)
}

func TestNewQuorumVerifier_Validates(t *testing.T) {
	c, err := NewCommittee(2)
	require.NoError(t, err)

	_, err = NewQuorumVerifier(nil, 1)
	assert.Error(t, err)
	_, err = NewQuorumVerifier(c.Addresses(), 3)
	assert.Error(t, err)
	_, err = NewQuorumVerifier(c.Addresses(), 0)
	assert.Error(t, err)
	_, err = NewQuorumVerifier(append(c.Addresses(), c.Addresses()[0]), 1)
	assert.Error(t, err)
}

func TestCommitteeFromHexAndParseAddresses(t *testing.T) {
	c, err := CommitteeFromHex([]string{
		"0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
	})
	require.NoError(t, err)

	addrs, err := ParseAddresses([]string{c.Addresses()[0].Hex()})
	require.NoError(t, err)
	assert.Equal(t, c.Addresses(), addrs)

	_, err = ParseAddresses([]string{"not-an-address"})
	assert.Error(t, err)
	_, err = CommitteeFromHex([]string{"zz"})
	assert.Error(t, err)
}

func TestCommitteeHexKeysRoundTrip(t *testing.T) {
	c, err := NewCommittee(2)
	require.NoError(t, err)

	keys := c.HexKeys()
	require.Len(t, keys, 2)
	for _, k := range keys {
		assert.Len(t, k, 64)
	}

	again, err := CommitteeFromHex(keys)
	require.NoError(t, err)
	assert.Equal(t, c.Addresses(), again.Addresses())
}
