package cipher

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
)

// Handle is an opaque encrypted value.
//
// Handles are immutable: every operation returns a new handle. There is no
// way to decrypt through a Handle.
type Handle interface {
	Add(other Handle) (Handle, error)
	Mul(other Handle) (Handle, error)
	AddConst(c uint64) (Handle, error)
	MulConst(c uint64) (Handle, error)

	// Bytes returns the canonical serialized form stored in records and
	// committed to by decryption requests.
	Bytes() ([]byte, error)
}

type bgvHandle struct {
	scheme *Scheme
	ct     *rlwe.Ciphertext
}

func (h *bgvHandle) peer(other Handle) (*bgvHandle, error) {
	o, ok := other.(*bgvHandle)
	if !ok || o.scheme != h.scheme {
		return nil, ErrForeignHandle
	}
	return o, nil
}

func (h *bgvHandle) Add(other Handle) (Handle, error) {
	o, err := h.peer(other)
	if err != nil {
		return nil, err
	}
	h.scheme.mu.Lock()
	defer h.scheme.mu.Unlock()
	ct, err := h.scheme.evaluator.AddNew(h.ct, o.ct)
	if err != nil {
		return nil, fmt.Errorf("cipher: add: %w", err)
	}
	return &bgvHandle{scheme: h.scheme, ct: ct}, nil
}

func (h *bgvHandle) Mul(other Handle) (Handle, error) {
	o, err := h.peer(other)
	if err != nil {
		return nil, err
	}
	h.scheme.mu.Lock()
	defer h.scheme.mu.Unlock()
	ct, err := h.scheme.evaluator.MulRelinNew(h.ct, o.ct)
	if err != nil {
		return nil, fmt.Errorf("cipher: mul: %w", err)
	}
	return &bgvHandle{scheme: h.scheme, ct: ct}, nil
}

func (h *bgvHandle) AddConst(c uint64) (Handle, error) {
	h.scheme.mu.Lock()
	defer h.scheme.mu.Unlock()
	ct, err := h.scheme.evaluator.AddNew(h.ct, c)
	if err != nil {
		return nil, fmt.Errorf("cipher: add const: %w", err)
	}
	return &bgvHandle{scheme: h.scheme, ct: ct}, nil
}

func (h *bgvHandle) MulConst(c uint64) (Handle, error) {
	h.scheme.mu.Lock()
	defer h.scheme.mu.Unlock()
	ct, err := h.scheme.evaluator.MulNew(h.ct, c)
	if err != nil {
		return nil, fmt.Errorf("cipher: mul const: %w", err)
	}
	return &bgvHandle{scheme: h.scheme, ct: ct}, nil
}

func (h *bgvHandle) Bytes() ([]byte, error) {
	b, err := h.ct.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("cipher: marshal handle: %w", err)
	}
	return b, nil
}
