package cipher

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyring(t *testing.T) *Keyring {
	t.Helper()
	kr, err := NewKeyring(DefaultParams())
	require.NoError(t, err)
	return kr
}

func encrypt(t *testing.T, s *Scheme, v uint32) Handle {
	t.Helper()
	h, err := s.Encrypt(v)
	require.NoError(t, err)
	return h
}

func open(t *testing.T, kr *Keyring, h Handle) uint32 {
	t.Helper()
	b, err := h.Bytes()
	require.NoError(t, err)
	v, err := kr.Open(b)
	require.NoError(t, err)
	return v
}

func TestEncryptOpenRoundTrip(t *testing.T) {
	kr := newTestKeyring(t)

	for _, v := range []uint32{0, 1, 60, 80, 100, 65536} {
		assert.Equal(t, v, open(t, kr, encrypt(t, kr.Scheme(), v)))
	}
}

func TestEncryptRejectsOutOfRange(t *testing.T) {
	kr := newTestKeyring(t)

	_, err := kr.Scheme().Encrypt(DefaultPlaintextModulus)
	assert.Error(t, err)
}

func TestOpenRejectsValuesAboveUint32(t *testing.T) {
	// NTT friendly for N = 2^12 and larger than 2^32.
	kr, err := NewKeyring(Params{LogN: 12, PlaintextModulus: 4294991873})
	require.NoError(t, err)

	h, err := encrypt(t, kr.Scheme(), math.MaxUint32).AddConst(1000)
	require.NoError(t, err)
	b, err := h.Bytes()
	require.NoError(t, err)

	_, err = kr.Open(b)
	assert.ErrorIs(t, err, ErrValueRange)

	_, err = kr.OpenAll([][]byte{b})
	assert.ErrorIs(t, err, ErrValueRange)
}

func TestWeightedSum(t *testing.T) {
	kr := newTestKeyring(t)
	s := kr.Scheme()

	p, err := encrypt(t, s, 100).MulConst(40)
	require.NoError(t, err)
	tt, err := encrypt(t, s, 80).MulConst(30)
	require.NoError(t, err)
	f, err := encrypt(t, s, 60).MulConst(30)
	require.NoError(t, err)

	sum, err := p.Add(tt)
	require.NoError(t, err)
	sum, err = sum.Add(f)
	require.NoError(t, err)

	assert.Equal(t, uint32(8200), open(t, kr, sum))
}

func TestArithmeticWrapsModuloPlaintext(t *testing.T) {
	kr := newTestKeyring(t)

	h, err := encrypt(t, kr.Scheme(), 65000).AddConst(1000)
	require.NoError(t, err)
	assert.Equal(t, uint32((65000+1000)%DefaultPlaintextModulus), open(t, kr, h))
}

func TestMulCiphertexts(t *testing.T) {
	kr := newTestKeyring(t)
	s := kr.Scheme()

	h, err := encrypt(t, s, 12).Mul(encrypt(t, s, 11))
	require.NoError(t, err)
	assert.Equal(t, uint32(132), open(t, kr, h))
}

func TestImportExport(t *testing.T) {
	kr := newTestKeyring(t)
	s := kr.Scheme()

	b1, err := encrypt(t, s, 42).Bytes()
	require.NoError(t, err)

	h, err := s.Import(b1)
	require.NoError(t, err)
	b2, err := h.Bytes()
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "export must be canonical")

	_, err = s.Import(nil)
	assert.Error(t, err)
	_, err = s.Import([]byte("not a ciphertext"))
	assert.Error(t, err)
}

func TestForeignHandle(t *testing.T) {
	a := newTestKeyring(t)
	b := newTestKeyring(t)

	_, err := encrypt(t, a.Scheme(), 1).Add(encrypt(t, b.Scheme(), 2))
	assert.ErrorIs(t, err, ErrForeignHandle)
}

func TestLoadKeyringPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealgauge.key")

	first, err := LoadKeyring(DefaultParams(), path)
	require.NoError(t, err)
	b, err := encrypt(t, first.Scheme(), 77).Bytes()
	require.NoError(t, err)

	second, err := LoadKeyring(DefaultParams(), path)
	require.NoError(t, err)
	v, err := second.Open(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(77), v)
}

func TestOpenAll(t *testing.T) {
	kr := newTestKeyring(t)
	s := kr.Scheme()

	raw, err := ExportAll(encrypt(t, s, 100), encrypt(t, s, 80), encrypt(t, s, 60))
	require.NoError(t, err)

	values, err := kr.OpenAll(raw)
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 80, 60}, values)
}
