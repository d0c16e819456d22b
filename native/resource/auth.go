package resource

import (
	"errors"
	"fmt"

	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
)

// checkAccess evaluates rule against the proofs in the auth zones of the
// current frame and its caller.
func checkAccess(api kernel.Api, rule AccessRule) error {
	switch rule.Kind {
	case AllowAll:
		return nil
	case DenyAll:
		return fmt.Errorf("%w: operation is disabled", ErrUnauthorized)
	case Require:
	default:
		return fmt.Errorf("%w: unknown access rule %d", ErrUnauthorized, rule.Kind)
	}
	raw, err := api.AuthZoneSubstates(types.PartitionMain, types.FieldKey(0))
	if err != nil {
		return err
	}
	var last error
	for _, value := range raw {
		var proof ProofState
		if err := common.Decode(value, &proof); err != nil {
			return err
		}
		if last = proof.Validate(rule.Rule); last == nil {
			return nil
		}
	}
	if last == nil {
		return fmt.Errorf("%w: no proofs presented", ErrUnauthorized)
	}
	return fmt.Errorf("%w: %v", ErrUnauthorized, last)
}

// CheckAccessRule is checkAccess for blueprints outside this package.
func CheckAccessRule(api kernel.Api, rule AccessRule) error {
	return checkAccess(api, rule)
}

// Authorize runs fn with proof pushed onto the current frame's auth zone.
// The proof is removed again by identity on every exit path; proofs fn
// pushed on top stay in the zone.
func Authorize(api kernel.Api, proof types.NodeId, fn func() error) (err error) {
	if err := api.PushToAuthZone(proof); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, removeFromAuthZone(api, proof))
	}()
	return fn()
}

func removeFromAuthZone(api kernel.Api, proof types.NodeId) error {
	var (
		errs  []error
		found bool
	)
	for _, id := range api.DrainAuthZone() {
		if id == proof && !found {
			found = true
			continue
		}
		if err := api.PushToAuthZone(id); err != nil {
			errs = append(errs, err)
		}
	}
	if !found {
		errs = append(errs, fmt.Errorf("%w: proof %s left the auth zone during authorization", kernel.ErrInvalidInvocation, proof.Short()))
	}
	return errors.Join(errs...)
}

type zoneHoldings struct {
	order  []types.NodeId
	amount map[types.NodeId]types.Decimal
	ids    map[types.NodeId]map[types.NonFungibleLocalId]struct{}
}

// holdings collects what proofs prove for resource, per container.
func holdings(api kernel.Api, proofs []types.NodeId, resource types.ResourceAddress) (*zoneHoldings, bool, error) {
	h := &zoneHoldings{
		amount: make(map[types.NodeId]types.Decimal),
		ids:    make(map[types.NodeId]map[types.NonFungibleLocalId]struct{}),
	}
	fungible := resource.EntityType() == types.EntityGlobalFungibleResourceManager
	for _, proof := range proofs {
		state, err := readProof(api, proof)
		if err != nil {
			return nil, false, err
		}
		if state.Resource != resource {
			continue
		}
		fungible = state.Fungible
		for _, ev := range state.Evidence {
			if _, seen := h.amount[ev.Container]; !seen {
				h.order = append(h.order, ev.Container)
				h.ids[ev.Container] = make(map[types.NonFungibleLocalId]struct{})
			}
			h.amount[ev.Container] = h.amount[ev.Container].Max(ev.Amount)
			for _, id := range ev.Ids {
				h.ids[ev.Container][id] = struct{}{}
			}
		}
	}
	return h, fungible, nil
}

// CreateProofFromAuthZone composes a new proof of resource from the proofs in
// the current frame's auth zone. With amount and ids both nil the proof covers
// everything the zone proves. The zone's proofs are lent to the Proof
// blueprint, which alone may lock their source containers.
func CreateProofFromAuthZone(api kernel.Api, resource types.ResourceAddress, amount *types.Decimal, ids []types.NonFungibleLocalId) (types.NodeId, error) {
	zone := api.DrainAuthZone()
	for _, proof := range zone {
		if err := api.PushToAuthZone(proof); err != nil {
			return types.NodeId{}, err
		}
	}
	args := ComposeProofArgs{Resource: resource, HasIds: ids != nil, Ids: ids}
	if amount != nil {
		args.HasAmount, args.Amount = true, *amount
	}
	encoded, err := common.Encode(&args)
	if err != nil {
		return types.NodeId{}, err
	}
	inv := kernel.FunctionInvocation(blueprint(ProofBlueprint), "compose_from_auth_zone", encoded)
	inv.Refs = zone
	out, err := api.Invoke(inv)
	if err != nil {
		return types.NodeId{}, err
	}
	return oneOwned(out, "proof")
}

func composeProof(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
	var args ComposeProofArgs
	if err := decodeArgs(inv, &args); err != nil {
		return nil, err
	}
	h, fungible, err := holdings(api, inv.Refs, args.Resource)
	if err != nil {
		return nil, err
	}
	var amount *types.Decimal
	if args.HasAmount {
		amount = &args.Amount
	}
	var ids []types.NonFungibleLocalId
	if args.HasIds {
		ids = append([]types.NonFungibleLocalId{}, args.Ids...)
	}
	var evidence []Evidence
	if fungible {
		evidence, err = h.fungibleEvidence(amount)
	} else {
		evidence, err = h.nonFungibleEvidence(amount, ids)
	}
	if err != nil {
		return nil, err
	}
	state := &ProofState{Resource: args.Resource, Fungible: fungible, Evidence: evidence}
	for _, ev := range evidence {
		if state.Amount, err = state.Amount.Add(ev.Amount); err != nil {
			return nil, err
		}
		state.Ids = append(state.Ids, ev.Ids...)
	}
	if state.Amount.IsZero() {
		return nil, ErrEmptyProof
	}
	sortIds(state.Ids)
	for _, ev := range evidence {
		var c Container
		if err := system.ModifyField(api, ev.Container, 0, &c, func() error { return lockEvidence(&c, ev) }); err != nil {
			return nil, err
		}
	}
	proof, err := newProof(api, state)
	if err != nil {
		return nil, err
	}
	return &kernel.Output{Owned: []types.NodeId{proof}}, nil
}

func (h *zoneHoldings) fungibleEvidence(amount *types.Decimal) ([]Evidence, error) {
	var remaining types.Decimal
	if amount != nil {
		remaining = *amount
	} else {
		for _, container := range h.order {
			var err error
			if remaining, err = remaining.Add(h.amount[container]); err != nil {
				return nil, err
			}
		}
	}
	var out []Evidence
	for _, container := range h.order {
		if remaining.IsZero() {
			break
		}
		portion := h.amount[container].Min(remaining)
		if portion.IsZero() {
			continue
		}
		remaining, _ = remaining.Sub(portion)
		out = append(out, Evidence{Container: container, Amount: portion})
	}
	if !remaining.IsZero() {
		return nil, fmt.Errorf("%w: auth zone is %s short", ErrInsufficientBalance, remaining)
	}
	return out, nil
}

func (h *zoneHoldings) nonFungibleEvidence(amount *types.Decimal, ids []types.NonFungibleLocalId) ([]Evidence, error) {
	var want map[types.NonFungibleLocalId]struct{}
	switch {
	case ids != nil:
		want = make(map[types.NonFungibleLocalId]struct{}, len(ids))
		for _, id := range ids {
			want[id] = struct{}{}
		}
	case amount != nil:
		n, err := wholeCount(*amount)
		if err != nil {
			return nil, err
		}
		var all []types.NonFungibleLocalId
		for _, container := range h.order {
			for id := range h.ids[container] {
				all = append(all, id)
			}
		}
		sortIds(all)
		if n > uint64(len(all)) {
			return nil, fmt.Errorf("%w: auth zone proves %d non-fungibles", ErrInsufficientBalance, len(all))
		}
		want = make(map[types.NonFungibleLocalId]struct{}, n)
		for _, id := range all[:n] {
			want[id] = struct{}{}
		}
	}
	var out []Evidence
	for _, container := range h.order {
		var picked []types.NonFungibleLocalId
		for id := range h.ids[container] {
			if _, ok := want[id]; want != nil && !ok {
				continue
			}
			picked = append(picked, id)
			delete(want, id)
		}
		if len(picked) == 0 {
			continue
		}
		sortIds(picked)
		out = append(out, Evidence{Container: container, Amount: types.NewDecimal(uint64(len(picked))), Ids: picked})
	}
	if len(want) > 0 {
		missing := make([]types.NonFungibleLocalId, 0, len(want))
		for id := range want {
			missing = append(missing, id)
		}
		sortIds(missing)
		return nil, fmt.Errorf("%w: %s is not proven by the auth zone", ErrNonFungibleLocalIdNotFound, missing[0])
	}
	return out, nil
}
