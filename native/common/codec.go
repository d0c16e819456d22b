package common

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

var ErrInvalidArgs = errors.New("native: invalid arguments")

// Encode serialises invocation arguments, outputs and substate payloads.
func Encode(v any) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return nil, fmt.Errorf("native: encode %T: %w", v, err)
	}
	return encoded, nil
}

// MustEncode is Encode for values whose encoding cannot fail.
func MustEncode(v any) []byte {
	encoded, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return encoded
}

// DecodeArgs decodes invocation arguments. Empty input decodes into the zero
// value so argument-less calls need no payload.
func DecodeArgs(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

// Decode decodes a substate payload or invocation output.
func Decode(data []byte, v any) error {
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf("native: decode %T: %w", v, err)
	}
	return nil
}
