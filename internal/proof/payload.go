package proof

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

var uint32Type = mustType("uint32")

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(fmt.Sprintf("proof: abi type %s: %v", name, err))
	}
	return t
}

func arguments(n int) abi.Arguments {
	args := make(abi.Arguments, n)
	for i := range args {
		args[i] = abi.Argument{Type: uint32Type}
	}
	return args
}

// EncodePayload ABI-encodes values as consecutive uint32 words.
func EncodePayload(values []uint32) ([]byte, error) {
	if len(values) == 0 {
		return nil, errors.New("encode payload: no values")
	}
	in := make([]any, len(values))
	for i, v := range values {
		in[i] = v
	}
	data, err := arguments(len(values)).Pack(in...)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes exactly arity uint32 words.
//
// The payload must be the canonical encoding: trailing bytes, dirty high
// bytes in a word, or a different word count are rejected.
func DecodePayload(data []byte, arity int) ([]uint32, error) {
	if arity <= 0 {
		return nil, fmt.Errorf("%w: arity %d", ErrPayloadArity, arity)
	}
	if len(data) != 32*arity {
		return nil, fmt.Errorf("%w: want %d words, got %d bytes", ErrPayloadArity, arity, len(data))
	}

	out, err := arguments(arity).Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadEncoding, err)
	}

	values := make([]uint32, len(out))
	for i, v := range out {
		n, ok := v.(uint32)
		if !ok {
			return nil, fmt.Errorf("%w: word %d decoded as %T", ErrPayloadEncoding, i, v)
		}
		values[i] = n
	}

	canonical, err := EncodePayload(values)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(canonical, data) {
		return nil, fmt.Errorf("%w: non-canonical words", ErrPayloadEncoding)
	}
	return values, nil
}
