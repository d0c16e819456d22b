package core

import (
	"context"
	"fmt"
	"sort"

	"ledgerengine/core/kernel"
	"ledgerengine/core/types"
	"ledgerengine/native/common"
	"ledgerengine/native/resource"
)

// processor runs a transaction's instructions in the root frame. The worktop
// holds at most one bucket per resource; named buckets and proofs are owned by
// the root frame until an instruction moves them.
type processor struct {
	api kernel.Api

	worktop   map[types.ResourceAddress]resource.Bucket
	order     []types.ResourceAddress
	buckets   map[string]resource.Bucket
	proofs    map[string]resource.Proof
	addresses map[string]types.NodeId

	outputs []types.HexBytes
}

func newProcessor(api kernel.Api) *processor {
	return &processor{
		api:       api,
		worktop:   make(map[types.ResourceAddress]resource.Bucket),
		buckets:   make(map[string]resource.Bucket),
		proofs:    make(map[string]resource.Proof),
		addresses: make(map[string]types.NodeId),
	}
}

// run executes every instruction, then empties the worktop and drops all
// proofs. Cancellation is checked between instructions.
func (p *processor) run(ctx context.Context, instructions []types.Instruction) error {
	for i, ins := range instructions {
		if err := ctx.Err(); err != nil {
			return &InstructionError{Index: i, Op: ins.Op.String(), Err: err}
		}
		out, err := p.step(ins)
		if err != nil {
			return &InstructionError{Index: i, Op: ins.Op.String(), Err: err}
		}
		p.outputs = append(p.outputs, out)
	}
	return p.finish()
}

func (p *processor) step(ins types.Instruction) (types.HexBytes, error) {
	switch ins.Op {
	case types.OpCallFunction:
		if ins.Package.EntityType() != types.EntityGlobalPackage {
			return nil, fmt.Errorf("%w: %s is not a package", ErrInvalidInstruction, ins.Package.Short())
		}
		inv := kernel.FunctionInvocation(types.BlueprintId{Package: ins.Package, Name: ins.Blueprint}, ins.Function, ins.Args)
		return p.call(inv, ins)
	case types.OpCallMethod:
		if ins.Address.IsZero() {
			return nil, fmt.Errorf("%w: call_method without address", ErrInvalidInstruction)
		}
		return p.call(kernel.MethodInvocation(ins.Address, ins.Function, ins.Args), ins)
	case types.OpLockFee:
		ident := "lock_fee"
		if ins.Contingent {
			ident = "lock_contingent_fee"
		}
		args, err := common.Encode(&resource.AmountArgs{Amount: ins.Amount})
		if err != nil {
			return nil, err
		}
		_, err = p.api.Invoke(kernel.MethodInvocation(ins.Address, ident, args))
		return nil, err
	case types.OpTakeFromWorktop:
		return nil, p.takeFromWorktop(ins)
	case types.OpTakeAllFromWorktop:
		return nil, p.takeAllFromWorktop(ins)
	case types.OpTakeNonFungiblesFromWorktop:
		return nil, p.takeNonFungiblesFromWorktop(ins)
	case types.OpReturnToWorktop:
		bucket, err := p.takeBucket(ins.Bucket)
		if err != nil {
			return nil, err
		}
		return nil, p.putWorktop(bucket)
	case types.OpAssertWorktopContains:
		return nil, p.assertWorktopContains(ins)
	case types.OpCreateProofFromBucket:
		bucket, ok := p.buckets[ins.Bucket]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBucketNotFound, ins.Bucket)
		}
		proof, err := bucket.CreateProofOfAll(p.api)
		if err != nil {
			return nil, err
		}
		return nil, p.nameProof(ins.Into, proof)
	case types.OpCreateProofFromAuthZone:
		return nil, p.createProofFromAuthZone(ins)
	case types.OpCloneProof:
		proof, ok := p.proofs[ins.Proof]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrProofNotFound, ins.Proof)
		}
		clone, err := proof.Clone(p.api)
		if err != nil {
			return nil, err
		}
		return nil, p.nameProof(ins.Into, clone)
	case types.OpDropProof:
		proof, err := p.takeProof(ins.Proof)
		if err != nil {
			return nil, err
		}
		return nil, proof.Drop(p.api)
	case types.OpPushToAuthZone:
		proof, err := p.takeProof(ins.Proof)
		if err != nil {
			return nil, err
		}
		return nil, p.api.PushToAuthZone(proof.Id)
	case types.OpPopFromAuthZone:
		id, err := p.api.PopFromAuthZone()
		if err != nil {
			return nil, err
		}
		return nil, p.nameProof(ins.Into, resource.Proof{Id: id})
	case types.OpDropAllProofs:
		return nil, p.dropAllProofs()
	case types.OpAllocateGlobalAddress:
		return p.allocateGlobalAddress(ins)
	default:
		return nil, fmt.Errorf("%w: unknown opcode %s", ErrInvalidInstruction, ins.Op)
	}
}

// call moves the named buckets and proofs into the callee. Returned buckets
// land on the worktop and returned proofs in the auth zone.
func (p *processor) call(inv kernel.Invocation, ins types.Instruction) (types.HexBytes, error) {
	for _, name := range ins.Buckets {
		bucket, err := p.takeBucket(name)
		if err != nil {
			return nil, err
		}
		inv.Owned = append(inv.Owned, bucket.Id)
	}
	for _, name := range ins.Proofs {
		proof, err := p.takeProof(name)
		if err != nil {
			return nil, err
		}
		inv.Owned = append(inv.Owned, proof.Id)
	}
	for _, name := range ins.Addresses {
		address, ok := p.addresses[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrAddressNotFound, name)
		}
		inv.Addresses = append(inv.Addresses, address)
	}
	out, err := p.api.Invoke(inv)
	if err != nil {
		return nil, err
	}
	for _, id := range out.Owned {
		entity := id.EntityType()
		switch {
		case entity.IsBucket():
			if err := p.putWorktop(resource.Bucket{Id: id}); err != nil {
				return nil, err
			}
		case entity.IsProof():
			if err := p.api.PushToAuthZone(id); err != nil {
				return nil, err
			}
		}
	}
	return out.Data, nil
}

func (p *processor) putWorktop(bucket resource.Bucket) error {
	r, err := bucket.ResourceAddress(p.api)
	if err != nil {
		return err
	}
	if existing, ok := p.worktop[r]; ok {
		return existing.Put(p.api, bucket)
	}
	p.worktop[r] = bucket
	p.order = append(p.order, r)
	return nil
}

func (p *processor) removeWorktop(r types.ResourceAddress) (resource.Bucket, bool) {
	bucket, ok := p.worktop[r]
	if !ok {
		return resource.Bucket{}, false
	}
	delete(p.worktop, r)
	for i, candidate := range p.order {
		if candidate == r {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return bucket, true
}

func (p *processor) worktopBucket(r types.ResourceAddress) (resource.Bucket, error) {
	bucket, ok := p.worktop[r]
	if !ok {
		return resource.Bucket{}, fmt.Errorf("%w: worktop holds no %s", resource.ErrInsufficientBalance, r.Short())
	}
	return bucket, nil
}

func (p *processor) takeFromWorktop(ins types.Instruction) error {
	source, err := p.worktopBucket(ins.Resource)
	if err != nil {
		return err
	}
	bucket, err := source.Take(p.api, ins.Amount)
	if err != nil {
		return err
	}
	return p.nameBucket(ins.Into, bucket)
}

func (p *processor) takeAllFromWorktop(ins types.Instruction) error {
	if bucket, ok := p.removeWorktop(ins.Resource); ok {
		return p.nameBucket(ins.Into, bucket)
	}
	bucket, err := resource.ResourceManager{Address: ins.Resource}.CreateEmptyBucket(p.api)
	if err != nil {
		return err
	}
	return p.nameBucket(ins.Into, bucket)
}

func (p *processor) takeNonFungiblesFromWorktop(ins types.Instruction) error {
	source, err := p.worktopBucket(ins.Resource)
	if err != nil {
		return err
	}
	bucket, err := source.TakeNonFungibles(p.api, ins.Ids...)
	if err != nil {
		return err
	}
	return p.nameBucket(ins.Into, bucket)
}

func (p *processor) assertWorktopContains(ins types.Instruction) error {
	bucket, ok := p.worktop[ins.Resource]
	var amount types.Decimal
	var ids []types.NonFungibleLocalId
	if ok {
		var err error
		if amount, err = bucket.Amount(p.api); err != nil {
			return err
		}
		if len(ins.Ids) > 0 {
			if ids, err = bucket.NonFungibleLocalIds(p.api); err != nil {
				return err
			}
		}
	}
	if amount.LessThan(ins.Amount) {
		return fmt.Errorf("%w: worktop holds %s of %s, want %s", ErrWorktopAssertion, amount, ins.Resource.Short(), ins.Amount)
	}
	held := make(map[types.NonFungibleLocalId]struct{}, len(ids))
	for _, id := range ids {
		held[id] = struct{}{}
	}
	for _, id := range ins.Ids {
		if _, ok := held[id]; !ok {
			return fmt.Errorf("%w: worktop lacks %s", ErrWorktopAssertion, id)
		}
	}
	return nil
}

func (p *processor) createProofFromAuthZone(ins types.Instruction) error {
	var amount *types.Decimal
	if !ins.Amount.IsZero() {
		amount = &ins.Amount
	}
	id, err := resource.CreateProofFromAuthZone(p.api, ins.Resource, amount, ins.Ids)
	if err != nil {
		return err
	}
	return p.nameProof(ins.Into, resource.Proof{Id: id})
}

func (p *processor) allocateGlobalAddress(ins types.Instruction) (types.HexBytes, error) {
	if !ins.Entity.IsGlobal() {
		return nil, fmt.Errorf("%w: %s is not a global entity", ErrInvalidInstruction, ins.Entity)
	}
	if ins.Into == "" {
		return nil, fmt.Errorf("%w: address needs a name", ErrInvalidInstruction)
	}
	if _, used := p.addresses[ins.Into]; used {
		return nil, fmt.Errorf("%w: address %q", ErrNameInUse, ins.Into)
	}
	id, err := p.api.AllocateNodeId(ins.Entity)
	if err != nil {
		return nil, err
	}
	p.addresses[ins.Into] = id
	return common.Encode(id)
}

func (p *processor) nameBucket(name string, bucket resource.Bucket) error {
	if name == "" {
		return fmt.Errorf("%w: bucket needs a name", ErrInvalidInstruction)
	}
	if _, used := p.buckets[name]; used {
		return fmt.Errorf("%w: bucket %q", ErrNameInUse, name)
	}
	p.buckets[name] = bucket
	return nil
}

func (p *processor) nameProof(name string, proof resource.Proof) error {
	if name == "" {
		return fmt.Errorf("%w: proof needs a name", ErrInvalidInstruction)
	}
	if _, used := p.proofs[name]; used {
		return fmt.Errorf("%w: proof %q", ErrNameInUse, name)
	}
	p.proofs[name] = proof
	return nil
}

func (p *processor) takeBucket(name string) (resource.Bucket, error) {
	bucket, ok := p.buckets[name]
	if !ok {
		return resource.Bucket{}, fmt.Errorf("%w: %q", ErrBucketNotFound, name)
	}
	delete(p.buckets, name)
	return bucket, nil
}

func (p *processor) takeProof(name string) (resource.Proof, error) {
	proof, ok := p.proofs[name]
	if !ok {
		return resource.Proof{}, fmt.Errorf("%w: %q", ErrProofNotFound, name)
	}
	delete(p.proofs, name)
	return proof, nil
}

// dropAllProofs drops named proofs in name order, then the auth zone.
func (p *processor) dropAllProofs() error {
	names := make([]string, 0, len(p.proofs))
	for name := range p.proofs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		proof := p.proofs[name]
		delete(p.proofs, name)
		if err := proof.Drop(p.api); err != nil {
			return err
		}
	}
	for _, id := range p.api.DrainAuthZone() {
		if err := (resource.Proof{Id: id}).Drop(p.api); err != nil {
			return err
		}
	}
	return nil
}

// finish requires an empty worktop. Empty worktop buckets are destroyed.
func (p *processor) finish() error {
	for _, r := range append([]types.ResourceAddress(nil), p.order...) {
		bucket, _ := p.removeWorktop(r)
		amount, err := bucket.Amount(p.api)
		if err != nil {
			return err
		}
		if !amount.IsZero() {
			return fmt.Errorf("%w: %s of %s left", ErrWorktopNotEmpty, amount, r.Short())
		}
		if err := bucket.Drop(p.api); err != nil {
			return err
		}
	}
	return p.dropAllProofs()
}
