package cipher

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Keyring holds the secret key and can open handles. Only the oracle owns one;
// the core receives Keyring.Scheme().
type Keyring struct {
	scheme *Scheme
	sk     *rlwe.SecretKey

	mu        sync.Mutex
	decryptor *rlwe.Decryptor
}

// NewKeyring generates a fresh key pair for p.
func NewKeyring(p Params) (*Keyring, error) {
	params, err := bgv.NewParametersFromLiteral(p.literal())
	if err != nil {
		return nil, fmt.Errorf("cipher: bad parameters: %w", err)
	}
	kgen := rlwe.NewKeyGenerator(params)
	sk := kgen.GenSecretKeyNew()
	return keyringFromSecret(params, sk), nil
}

// LoadKeyring reads a secret key written by Save, or generates and saves a new
// one if path does not exist yet.
func LoadKeyring(p Params, path string) (*Keyring, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		kr, err := NewKeyring(p)
		if err != nil {
			return nil, err
		}
		if err := kr.Save(path); err != nil {
			return nil, err
		}
		return kr, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cipher: read key file: %w", err)
	}

	params, err := bgv.NewParametersFromLiteral(p.literal())
	if err != nil {
		return nil, fmt.Errorf("cipher: bad parameters: %w", err)
	}
	sk := rlwe.NewSecretKey(params)
	if err := sk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("cipher: parse key file: %w", err)
	}
	return keyringFromSecret(params, sk), nil
}

// keyringFromSecret derives fresh public and relinearization keys from sk.
func keyringFromSecret(params bgv.Parameters, sk *rlwe.SecretKey) *Keyring {
	kgen := rlwe.NewKeyGenerator(params)
	pk := kgen.GenPublicKeyNew(sk)
	rlk := kgen.GenRelinearizationKeyNew(sk)
	return &Keyring{
		scheme:    newScheme(params, pk, rlk),
		sk:        sk,
		decryptor: rlwe.NewDecryptor(params, sk),
	}
}

// Save writes the secret key to path with owner-only permissions.
func (k *Keyring) Save(path string) error {
	data, err := k.sk.MarshalBinary()
	if err != nil {
		return fmt.Errorf("cipher: marshal secret key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cipher: write key file: %w", err)
	}
	return nil
}

// Scheme returns the public scheme bound to this keyring.
func (k *Keyring) Scheme() *Scheme {
	return k.scheme
}

// Open decrypts an exported handle and returns slot 0. A slot above
// math.MaxUint32 is ErrValueRange, never truncated.
func (k *Keyring) Open(b []byte) (uint32, error) {
	ct, err := k.scheme.unmarshal(b)
	if err != nil {
		return 0, err
	}

	k.mu.Lock()
	pt := k.decryptor.DecryptNew(ct)
	k.mu.Unlock()

	values := make([]uint64, k.scheme.params.MaxSlots())
	k.scheme.mu.Lock()
	err = k.scheme.encoder.Decode(pt, values)
	k.scheme.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("cipher: decode: %w", err)
	}
	if values[0] > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d", ErrValueRange, values[0])
	}
	return uint32(values[0]), nil
}

// OpenAll decrypts handles in order.
func (k *Keyring) OpenAll(handles [][]byte) ([]uint32, error) {
	out := make([]uint32, len(handles))
	for i, h := range handles {
		v, err := k.Open(h)
		if err != nil {
			return nil, fmt.Errorf("open handle %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
