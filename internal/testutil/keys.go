package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/sealgauge/internal/cipher"
	"github.com/roach88/sealgauge/internal/proof"
)

var (
	keyringOnce sync.Once
	keyring     *cipher.Keyring
	keyringErr  error
)

// Keyring returns a process-wide BGV keyring with default parameters.
// Key generation dominates test time, so every package test shares one.
func Keyring(t testing.TB) *cipher.Keyring {
	t.Helper()
	keyringOnce.Do(func() {
		keyring, keyringErr = cipher.NewKeyring(cipher.DefaultParams())
	})
	require.NoError(t, keyringErr)
	return keyring
}

// Committee returns a fresh n-member signing committee and a verifier
// requiring k signatures from it.
func Committee(t testing.TB, n, k int) (*proof.Committee, *proof.QuorumVerifier) {
	t.Helper()
	c, err := proof.NewCommittee(n)
	require.NoError(t, err)
	v, err := proof.NewQuorumVerifier(c.Addresses(), k)
	require.NoError(t, err)
	return c, v
}
