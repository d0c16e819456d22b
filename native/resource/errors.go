package resource

import "errors"

var (
	ErrInsufficientBalance        = errors.New("resource: insufficient balance")
	ErrInvalidAmount              = errors.New("resource: invalid amount")
	ErrNonFungibleLocalIdNotFound = errors.New("resource: non-fungible local id not found")
	ErrMismatchingResource        = errors.New("resource: mismatching resource")
	ErrContainerLocked            = errors.New("resource: container has outstanding proofs")
	ErrEmptyProof                 = errors.New("resource: proof would be empty")
	ErrNonFungibleExists          = errors.New("resource: non-fungible already exists")
	ErrUnauthorized               = errors.New("resource: unauthorized")
	ErrNotFungible                = errors.New("resource: operation requires a fungible resource")
	ErrNotNonFungible             = errors.New("resource: operation requires a non-fungible resource")
	ErrInvalidDivisibility        = errors.New("resource: invalid divisibility")
	ErrNotEmpty                   = errors.New("resource: container is not empty")
)
