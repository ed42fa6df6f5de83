package cipher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// Default BGV parameters.
// 65537 is NTT friendly for every ring degree up to 2^15.
const (
	DefaultLogN             = 12
	DefaultPlaintextModulus = 65537
)

// MaxPlaintextModulus is the largest t whose slot values all fit in a uint32.
const MaxPlaintextModulus = 1 << 32

// ErrValueRange is returned when a decrypted slot does not fit in a uint32.
var ErrValueRange = errors.New("cipher: decrypted value exceeds uint32")

// ErrForeignHandle is returned when a handle from another scheme (or another
// Handle implementation) is combined with this scheme's handles.
var ErrForeignHandle = errors.New("cipher: handle belongs to a different scheme")

// Params selects the BGV ring and plaintext space.
type Params struct {
	LogN             int
	PlaintextModulus uint64
}

// DefaultParams returns the parameters used when no configuration is given.
func DefaultParams() Params {
	return Params{LogN: DefaultLogN, PlaintextModulus: DefaultPlaintextModulus}
}

func (p Params) literal() bgv.ParametersLiteral {
	return bgv.ParametersLiteral{
		LogN:             p.LogN,
		LogQ:             []int{58, 58},
		LogP:             []int{60},
		PlaintextModulus: p.PlaintextModulus,
	}
}

// Scheme is the public side of the BGV instance: encryption and evaluation.
//
// Lattigo encoders, encryptors and evaluators keep scratch buffers and are not
// safe for concurrent use, so every operation holds mu.
type Scheme struct {
	params bgv.Parameters

	mu        sync.Mutex
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	evaluator *bgv.Evaluator
}

func newScheme(params bgv.Parameters, pk *rlwe.PublicKey, rlk *rlwe.RelinearizationKey) *Scheme {
	evk := rlwe.NewMemEvaluationKeySet(rlk)
	return &Scheme{
		params:    params,
		encoder:   bgv.NewEncoder(params),
		encryptor: rlwe.NewEncryptor(params, pk),
		evaluator: bgv.NewEvaluator(params, evk),
	}
}

// PlaintextModulus returns t. Cleartext arithmetic wraps modulo t.
func (s *Scheme) PlaintextModulus() uint64 {
	return s.params.PlaintextModulus()
}

// Encrypt encrypts v into slot 0 of a fresh ciphertext.
func (s *Scheme) Encrypt(v uint32) (Handle, error) {
	if uint64(v) >= s.params.PlaintextModulus() {
		return nil, fmt.Errorf("cipher: value %d exceeds plaintext modulus %d", v, s.params.PlaintextModulus())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]uint64, s.params.MaxSlots())
	values[0] = uint64(v)

	pt := bgv.NewPlaintext(s.params, s.params.MaxLevel())
	if err := s.encoder.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("cipher: encode: %w", err)
	}
	ct, err := s.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("cipher: encrypt: %w", err)
	}
	return &bgvHandle{scheme: s, ct: ct}, nil
}

// Import parses an exported handle.
func (s *Scheme) Import(b []byte) (Handle, error) {
	ct, err := s.unmarshal(b)
	if err != nil {
		return nil, err
	}
	return &bgvHandle{scheme: s, ct: ct}, nil
}

func (s *Scheme) unmarshal(b []byte) (*rlwe.Ciphertext, error) {
	if len(b) == 0 {
		return nil, errors.New("cipher: empty handle")
	}
	ct := rlwe.NewCiphertext(s.params, 1, s.params.MaxLevel())
	if err := ct.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("cipher: unmarshal handle: %w", err)
	}
	return ct, nil
}

// ExportAll exports handles in order. Used to build the byte commitments
// carried by decryption requests.
func ExportAll(handles ...Handle) ([][]byte, error) {
	out := make([][]byte, len(handles))
	for i, h := range handles {
		b, err := h.Bytes()
		if err != nil {
			return nil, fmt.Errorf("export handle %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}
