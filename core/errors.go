package core

import (
	"context"
	"errors"
	"fmt"

	"ledgerengine/core/kernel"
)

var (
	ErrCostLimitExceeded   = errors.New("core: cost unit limit exceeded")
	ErrInsufficientFee     = errors.New("core: locked fee does not cover cost")
	ErrLoanNotRepaid       = errors.New("core: system loan not repaid")
	ErrInvalidFeeVault     = errors.New("core: fee must be paid in the native token")
	ErrInvalidFeeConfig    = errors.New("core: invalid fee configuration")
	ErrWorktopNotEmpty     = errors.New("core: worktop not empty")
	ErrWorktopAssertion    = errors.New("core: worktop assertion failed")
	ErrBucketNotFound      = errors.New("core: bucket not found")
	ErrProofNotFound       = errors.New("core: proof not found")
	ErrAddressNotFound     = errors.New("core: named address not found")
	ErrNameInUse           = errors.New("core: name already in use")
	ErrInvalidInstruction  = errors.New("core: invalid instruction")
	ErrNetworkMismatch     = errors.New("core: network mismatch")
	ErrAlreadyBootstrapped = errors.New("core: ledger already bootstrapped")
	ErrNotBootstrapped     = errors.New("core: ledger not bootstrapped")
)

// InstructionError records which instruction failed.
type InstructionError struct {
	Index int
	Op    string
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *InstructionError) Unwrap() error { return e.Err }

// IsFatal reports whether err ends execution without a committed outcome.
// Cost limit, insufficient fee, call depth and cancellation are fatal.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCostLimitExceeded),
		errors.Is(err, ErrInsufficientFee),
		errors.Is(err, kernel.ErrMaxCallDepthLimitReached),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}
