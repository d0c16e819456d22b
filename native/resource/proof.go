package resource

import (
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
)

// Evidence records what a proof locked in one container.
type Evidence struct {
	Container types.NodeId
	Amount    types.Decimal
	Ids       []types.NonFungibleLocalId
}

// ProofState is the main field of a proof. A proof built from several
// containers carries one evidence entry per container.
type ProofState struct {
	Resource types.ResourceAddress
	Fungible bool
	Amount   types.Decimal
	Ids      []types.NonFungibleLocalId
	Evidence []Evidence
}

func (p *ProofState) hasId(id types.NonFungibleLocalId) bool {
	for _, have := range p.Ids {
		if have == id {
			return true
		}
	}
	return false
}

func (p *ProofState) containers() []types.NodeId {
	out := make([]types.NodeId, 0, len(p.Evidence))
	for _, ev := range p.Evidence {
		out = append(out, ev.Container)
	}
	return out
}

func lockEvidence(c *Container, ev Evidence) error {
	if c.Fungible {
		return c.lockAmount(ev.Amount)
	}
	return c.lockIds(ev.Ids)
}

func unlockEvidence(c *Container, ev Evidence) error {
	if c.Fungible {
		return c.unlockAmount(ev.Amount)
	}
	return c.unlockIds(ev.Ids)
}

// newProof creates a proof node referencing every container it locks.
func newProof(api kernel.Api, state *ProofState) (types.NodeId, error) {
	return system.NewObject(api, system.ObjectSpec{
		Entity:    proofEntity(state.Fungible),
		Blueprint: blueprint(ProofBlueprint),
		Outer:     &state.Resource,
		Fields:    []any{state},
		Refs:      state.containers(),
	})
}

type proofRequest func(c *Container) (Evidence, error)

// createProof locks part of the receiving container and returns a proof of it.
func createProof(api kernel.Api, request proofRequest) (*kernel.Output, error) {
	self, resource, err := selfAndResource(api)
	if err != nil {
		return nil, err
	}
	var (
		c  Container
		ev Evidence
	)
	err = system.ModifyField(api, self, 0, &c, func() error {
		var err error
		if ev, err = request(&c); err != nil {
			return err
		}
		ev.Container = self
		if ev.Amount.IsZero() {
			return ErrEmptyProof
		}
		return lockEvidence(&c, ev)
	})
	if err != nil {
		return nil, err
	}
	proof, err := newProof(api, &ProofState{
		Resource: resource,
		Fungible: c.Fungible,
		Amount:   ev.Amount,
		Ids:      ev.Ids,
		Evidence: []Evidence{ev},
	})
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{proof}}, nil
}

func createProofOfAll(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	return createProof(api, func(c *Container) (Evidence, error) {
		if c.Fungible {
			return Evidence{Amount: c.Amount()}, nil
		}
		ids := c.AllIds()
		return Evidence{Amount: types.NewDecimal(uint64(len(ids))), Ids: ids}, nil
	})
}

func createProofOfAmount(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args AmountArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	return createProof(api, func(c *Container) (Evidence, error) {
		if c.Fungible {
			return Evidence{Amount: args.Amount}, nil
		}
		n, err := wholeCount(args.Amount)
		if err != nil {
			return Evidence{}, err
		}
		ids := c.AllIds()
		if n > uint64(len(ids)) {
			return Evidence{}, fmt.Errorf("%w: cannot prove %s of %d", ErrInsufficientBalance, args.Amount, len(ids))
		}
		return Evidence{Amount: args.Amount, Ids: ids[:n]}, nil
	})
}

func createProofOfNonFungibles(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args IdsArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	return createProof(api, func(c *Container) (Evidence, error) {
		if c.Fungible {
			return Evidence{}, ErrNotNonFungible
		}
		ids := append([]types.NonFungibleLocalId(nil), args.Ids...)
		sortIds(ids)
		return Evidence{Amount: types.NewDecimal(uint64(len(ids))), Ids: ids}, nil
	})
}

func readProof(api kernel.Api, proof types.NodeId) (*ProofState, error) {
	var state ProofState
	if err := system.ReadField(api, proof, 0, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// cloneProof bumps the per-amount or per-id lock refcount of every evidence
// entry, so the clone and the original release their locks independently.
func cloneProof(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	state, err := readProof(api, self)
	if err != nil {
		return nil, err
	}
	for _, ev := range state.Evidence {
		var c Container
		if err := system.ModifyField(api, ev.Container, 0, &c, func() error { return lockEvidence(&c, ev) }); err != nil {
			return nil, err
		}
	}
	clone, err := newProof(api, state)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{clone}}, nil
}

func dropProofFunction(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	proof, err := singleOwned(inv)
	if err != nil {
		return nil, err
	}
	if !proof.EntityType().IsProof() {
		return nil, fmt.Errorf("%w: %s is not a proof", kernel.ErrInvalidInvocation, proof.EntityType())
	}
	if err := dropProof(api, proof); err != nil {
		return nil, err
	}
	return &kernel.Output{}, nil
}

// dropProof destroys a frame-owned proof and releases its locks.
func dropProof(api kernel.Api, proof types.NodeId) error {
	state, err := readProof(api, proof)
	if err != nil {
		return err
	}
	if _, err := api.DropNode(proof); err != nil {
		return err
	}
	for _, ev := range state.Evidence {
		var c Container
		if err := system.ModifyField(api, ev.Container, 0, &c, func() error { return unlockEvidence(&c, ev) }); err != nil {
			return err
		}
	}
	return nil
}

func proofAmount(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	state, err := readProof(api, self)
	if err != nil {
		return nil, err
	}
	return system.EncodeOutput(state.Amount)
}

func proofIds(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	state, err := readProof(api, self)
	if err != nil {
		return nil, err
	}
	if state.Fungible {
		return nil, ErrNotNonFungible
	}
	return system.EncodeOutput(state.Ids)
}

func proofResource(api kernel.Api, _ *kernel.Invocation) (*kernel.Output, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	state, err := readProof(api, self)
	if err != nil {
		return nil, err
	}
	return system.EncodeOutput(state.Resource)
}
