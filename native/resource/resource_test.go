package resource

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerengine/core/kernel"
	"ledgerengine/core/system"
	"ledgerengine/core/types"
	"ledgerengine/storage"
)

type feeRecorder struct {
	locked     []types.Decimal
	contingent []bool
}

func (f *feeRecorder) ConsumeExecution(string, uint64) error { return nil }

func (f *feeRecorder) LockFee(_, _ types.NodeId, amount types.Decimal, contingent bool) error {
	f.locked = append(f.locked, amount)
	f.contingent = append(f.contingent, contingent)
	return nil
}

func newTestKernel(t *testing.T, extra ...*system.Package) *kernel.Kernel {
	t.Helper()
	registry, err := system.NewRegistry(append([]*system.Package{Package()}, extra...)...)
	require.NoError(t, err)
	track := kernel.NewTrack(storage.NewStore(storage.NewMemDB()))
	k := kernel.New(kernel.Config{MaxCallDepth: 16, Costs: kernel.DefaultCosts()}, track, system.NewDispatcher(registry))
	k.SetIdSeed([]byte(t.Name()))
	k.SetNodeDropper(DropTransientNode)
	return k
}

func openRules() AccessRules {
	return AccessRules{
		Mint:     AccessRule{Kind: AllowAll},
		Burn:     AccessRule{Kind: AllowAll},
		Withdraw: AccessRule{Kind: AllowAll},
		Deposit:  AccessRule{Kind: AllowAll},
	}
}

func newFungible(t *testing.T, api kernel.Api, supply string, divisibility uint8, rules AccessRules) (ResourceManager, Bucket) {
	t.Helper()
	manager, bucket, err := CreateFungible(api, CreateFungibleArgs{
		Divisibility:  divisibility,
		InitialSupply: dec(supply),
		Rules:         rules,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, bucket)
	return manager, *bucket
}

func amountOf(t *testing.T, api kernel.Api, b Bucket) string {
	t.Helper()
	amount, err := b.Amount(api)
	require.NoError(t, err)
	return amount.String()
}

func TestBucketTakeAndPutConserveAmount(t *testing.T) {
	k := newTestKernel(t)
	manager, bucket := newFungible(t, k, "1000", 18, DefaultAccessRules())

	first, err := bucket.Take(k, dec("100"))
	require.NoError(t, err)
	second, err := bucket.Take(k, dec("0.5"))
	require.NoError(t, err)
	require.NoError(t, bucket.Put(k, first))

	require.Equal(t, "999.5", amountOf(t, k, bucket))
	require.Equal(t, "0.5", amountOf(t, k, second))

	supply, err := manager.TotalSupply(k)
	require.NoError(t, err)
	require.Equal(t, "1000", supply.String())

	_, err = bucket.Take(k, dec("1000"))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	resource, err := second.ResourceAddress(k)
	require.NoError(t, err)
	require.Equal(t, manager.Address, resource)
}

func TestTakeRespectsDivisibility(t *testing.T) {
	k := newTestKernel(t)
	_, bucket := newFungible(t, k, "10", 2, DefaultAccessRules())

	_, err := bucket.Take(k, dec("0.001"))
	require.ErrorIs(t, err, ErrInvalidAmount)

	up, err := bucket.TakeAdvanced(k, dec("0.001"), RoundUp)
	require.NoError(t, err)
	require.Equal(t, "0.01", amountOf(t, k, up))

	down, err := bucket.TakeAdvanced(k, dec("1.009"), RoundDown)
	require.NoError(t, err)
	require.Equal(t, "1", amountOf(t, k, down))
	require.Equal(t, "8.99", amountOf(t, k, bucket))
}

func TestPutRejectsOtherResource(t *testing.T) {
	k := newTestKernel(t)
	_, a := newFungible(t, k, "10", 18, DefaultAccessRules())
	_, b := newFungible(t, k, "10", 18, DefaultAccessRules())

	require.ErrorIs(t, a.Put(k, b), ErrMismatchingResource)
}

func TestProofOfHundredUnits(t *testing.T) {
	k := newTestKernel(t)
	manager, bucket := newFungible(t, k, "100", 18, DefaultAccessRules())
	other := types.NewNodeId(types.EntityGlobalFungibleResourceManager, []byte("elsewhere"), 0)

	proof, err := bucket.CreateProofOfAll(k)
	require.NoError(t, err)
	state, err := readProof(k, proof.Id)
	require.NoError(t, err)
	require.NoError(t, state.Validate(ContainsAmount(manager.Address, dec("100"))))
	require.Equal(t, InvalidResourceAddress, validationKind(t, state.Validate(Contains(other))))

	_, err = bucket.Take(k, dec("1"))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, proof.Drop(k))
	taken, err := bucket.Take(k, dec("100"))
	require.NoError(t, err)
	require.Equal(t, "0", amountOf(t, k, bucket))
	require.Equal(t, "100", amountOf(t, k, taken))

	_, err = bucket.Take(k, dec("1"))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestProofDoesNotExposeSourceContainer(t *testing.T) {
	var takeErr, readErr error
	inspector := system.NewPackage("inspector").Add(&system.Blueprint{
		Name: "Inspector",
		Functions: map[string]system.NativeFunc{
			"inspect": func(api kernel.Api, inv *kernel.Invocation) (*kernel.Output, error) {
				state, err := readProof(api, inv.Owned[0])
				if err != nil {
					return nil, err
				}
				source := state.Evidence[0].Container
				_, takeErr = Bucket{Id: source}.Take(api, dec("40"))
				_, readErr = readContainer(api, source)
				return &kernel.Output{Owned: inv.Owned}, nil
			},
		},
	})
	k := newTestKernel(t, inspector)
	_, bucket := newFungible(t, k, "100", 18, DefaultAccessRules())
	proof, err := bucket.CreateProofOfAmount(k, dec("10"))
	require.NoError(t, err)

	_, err = k.Invoke(kernel.FunctionInvocation(inspector.BlueprintId("Inspector"), "inspect", nil, proof.Id))
	require.NoError(t, err)
	require.ErrorIs(t, takeErr, kernel.ErrNodeNotVisible)
	require.ErrorIs(t, readErr, kernel.ErrNodeNotVisible)
	require.Contains(t, k.OwnedNodes(), proof.Id)
	require.Equal(t, "100", amountOf(t, k, bucket))

	require.NoError(t, proof.Drop(k))
	taken, err := bucket.Take(k, dec("100"))
	require.NoError(t, err)
	require.Equal(t, "100", amountOf(t, k, taken))
}

func TestCloneKeepsSourceLockedUntilLastDrop(t *testing.T) {
	k := newTestKernel(t)
	manager, bucket := newFungible(t, k, "100", 18, DefaultAccessRules())

	proof, err := bucket.CreateProofOfAmount(k, dec("40"))
	require.NoError(t, err)
	clone, err := proof.Clone(k)
	require.NoError(t, err)

	require.NoError(t, clone.Drop(k))
	c, err := readContainer(k, bucket.Id)
	require.NoError(t, err)
	require.True(t, c.IsLocked())
	require.Equal(t, "60", c.Available().String())

	state, err := readProof(k, proof.Id)
	require.NoError(t, err)
	require.NoError(t, state.Validate(ContainsAmount(manager.Address, dec("40"))))
	amount, err := proof.Amount(k)
	require.NoError(t, err)
	require.Equal(t, "40", amount.String())

	require.NoError(t, proof.Drop(k))
	c, err = readContainer(k, bucket.Id)
	require.NoError(t, err)
	require.False(t, c.IsLocked())
	require.Equal(t, "100", c.Available().String())
}

func TestLockedBucketCannotBeMergedOrDropped(t *testing.T) {
	k := newTestKernel(t)
	_, bucket := newFungible(t, k, "10", 18, DefaultAccessRules())
	part, err := bucket.Take(k, dec("4"))
	require.NoError(t, err)

	_, err = part.CreateProofOfAll(k)
	require.NoError(t, err)
	require.ErrorIs(t, DropTransientNode(k, part.Id), kernel.ErrNodeOrphaned)
	require.ErrorIs(t, bucket.Put(k, part), ErrContainerLocked)
}

func TestDropTransientNode(t *testing.T) {
	k := newTestKernel(t)
	manager, bucket := newFungible(t, k, "10", 18, DefaultAccessRules())

	require.ErrorIs(t, DropTransientNode(k, bucket.Id), kernel.ErrNodeOrphaned)

	empty, err := manager.CreateEmptyBucket(k)
	require.NoError(t, err)
	require.NoError(t, DropTransientNode(k, empty.Id))
	require.NotContains(t, k.OwnedNodes(), empty.Id)

	require.ErrorIs(t, bucket.Drop(k), ErrNotEmpty)
}

func TestNonFungibleResource(t *testing.T) {
	k := newTestKernel(t)
	manager, bucket, err := CreateNonFungible(k, CreateNonFungibleArgs{
		Ids:   []types.NonFungibleLocalId{"a", "b", "c"},
		Data:  [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")},
		Rules: openRules(),
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, bucket)

	data, err := manager.NonFungibleData(k, "b")
	require.NoError(t, err)
	require.Equal(t, []byte("beta"), data)

	single, err := bucket.TakeNonFungibles(k, "b")
	require.NoError(t, err)
	ids, err := single.NonFungibleLocalIds(k)
	require.NoError(t, err)
	require.Equal(t, []types.NonFungibleLocalId{"b"}, ids)

	_, err = bucket.TakeNonFungibles(k, "z")
	require.ErrorIs(t, err, ErrNonFungibleLocalIdNotFound)

	proof, err := bucket.CreateProofOfNonFungibles(k, "a")
	require.NoError(t, err)
	state, err := readProof(k, proof.Id)
	require.NoError(t, err)
	require.NoError(t, state.Validate(ContainsNonFungible(types.NonFungibleGlobalId{Resource: manager.Address, Local: "a"})))
	require.Equal(t, NonFungibleLocalIdNotFound, validationKind(t, state.Validate(ContainsNonFungibles(manager.Address, "c"))))
	require.NoError(t, proof.Drop(k))

	_, err = manager.MintNonFungible(k, []types.NonFungibleLocalId{"a"}, nil)
	require.ErrorIs(t, err, ErrNonFungibleExists)

	minted, err := manager.MintNonFungible(k, []types.NonFungibleLocalId{"d"}, nil)
	require.NoError(t, err)
	require.NoError(t, bucket.Put(k, minted))
	require.NoError(t, manager.Burn(k, single))

	supply, err := manager.TotalSupply(k)
	require.NoError(t, err)
	require.Equal(t, "3", supply.String())
	_, err = manager.NonFungibleData(k, "b")
	require.ErrorIs(t, err, ErrNonFungibleLocalIdNotFound)
	require.Equal(t, "3", amountOf(t, k, *bucket))
}

func TestMintRequiresBadgeProof(t *testing.T) {
	k := newTestKernel(t)
	badge, badgeBucket := newFungible(t, k, "1", 0, DefaultAccessRules())
	rules := DefaultAccessRules()
	rules.Mint = RequireProof(Contains(badge.Address))
	manager, _ := newFungible(t, k, "1000", 18, rules)

	_, err := manager.Mint(k, dec("50"))
	require.ErrorIs(t, err, ErrUnauthorized)

	proof, err := badgeBucket.CreateProofOfAll(k)
	require.NoError(t, err)
	var minted Bucket
	err = Authorize(k, proof.Id, func() error {
		var err error
		minted, err = manager.Mint(k, dec("50"))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "50", amountOf(t, k, minted))
	require.Empty(t, k.DrainAuthZone())

	supply, err := manager.TotalSupply(k)
	require.NoError(t, err)
	require.Equal(t, "1050", supply.String())

	require.ErrorIs(t, manager.Burn(k, minted), ErrUnauthorized)
}

func TestAuthorizeRemovesProofOnError(t *testing.T) {
	k := newTestKernel(t)
	_, bucket := newFungible(t, k, "1", 18, DefaultAccessRules())
	proof, err := bucket.CreateProofOfAll(k)
	require.NoError(t, err)

	err = Authorize(k, proof.Id, func() error { return ErrUnauthorized })
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Empty(t, k.DrainAuthZone())
}

func TestAuthorizeRemovesOnlyItsOwnProof(t *testing.T) {
	k := newTestKernel(t)
	_, bucket := newFungible(t, k, "10", 18, DefaultAccessRules())
	badge, err := bucket.CreateProofOfAmount(k, dec("1"))
	require.NoError(t, err)
	extra, err := bucket.CreateProofOfAmount(k, dec("2"))
	require.NoError(t, err)

	err = Authorize(k, badge.Id, func() error {
		return k.PushToAuthZone(extra.Id)
	})
	require.NoError(t, err)
	require.Equal(t, []types.NodeId{extra.Id}, k.DrainAuthZone())

	err = Authorize(k, badge.Id, func() error {
		k.DrainAuthZone()
		return nil
	})
	require.ErrorIs(t, err, kernel.ErrInvalidInvocation)
	require.Empty(t, k.DrainAuthZone())
}

func TestVaultLockFee(t *testing.T) {
	k := newTestKernel(t)
	fees := &feeRecorder{}
	k.SetCosting(fees)
	manager, bucket := newFungible(t, k, "100", 18, DefaultAccessRules())

	vault, err := manager.CreateEmptyVault(k)
	require.NoError(t, err)
	require.NoError(t, vault.Put(k, bucket))

	require.NoError(t, vault.LockFee(k, dec("10")))
	require.NoError(t, vault.LockContingentFee(k, dec("5")))
	require.Equal(t, []types.Decimal{dec("10"), dec("5")}, fees.locked)
	require.Equal(t, []bool{false, true}, fees.contingent)

	amount, err := vault.Amount(k)
	require.NoError(t, err)
	require.Equal(t, "85", amount.String())

	require.ErrorIs(t, vault.LockFee(k, dec("1000")), ErrInsufficientBalance)
	require.Len(t, fees.locked, 2)

	var emitted []string
	for _, evt := range k.Events() {
		emitted = append(emitted, evt.Type)
	}
	require.Contains(t, emitted, "vault.deposit")
	require.Contains(t, emitted, "vault.fee_locked")
}

func TestVaultWithdrawRule(t *testing.T) {
	k := newTestKernel(t)
	rules := DefaultAccessRules()
	rules.Withdraw = AccessRule{Kind: DenyAll}
	manager, bucket := newFungible(t, k, "100", 18, rules)

	vault, err := manager.CreateEmptyVault(k)
	require.NoError(t, err)
	require.NoError(t, vault.Put(k, bucket))

	_, err = vault.Take(k, dec("1"))
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, vault.LockFee(k, dec("1")), ErrUnauthorized)
}

func TestCreateProofFromAuthZoneSpansContainers(t *testing.T) {
	k := newTestKernel(t)
	manager, bucket := newFungible(t, k, "80", 18, DefaultAccessRules())
	part, err := bucket.Take(k, dec("30"))
	require.NoError(t, err)

	for _, b := range []Bucket{bucket, part} {
		proof, err := b.CreateProofOfAll(k)
		require.NoError(t, err)
		require.NoError(t, k.PushToAuthZone(proof.Id))
	}

	amount := dec("70")
	composite, err := CreateProofFromAuthZone(k, manager.Address, &amount, nil)
	require.NoError(t, err)
	state, err := readProof(k, composite)
	require.NoError(t, err)
	require.Equal(t, "70", state.Amount.String())
	require.Len(t, state.Evidence, 2)
	require.Len(t, k.DrainAuthZone(), 2)

	tooMuch := dec("81")
	_, err = CreateProofFromAuthZone(k, manager.Address, &tooMuch, nil)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestGlobalizingRawBucketFails(t *testing.T) {
	k := newTestKernel(t)
	_, bucket := newFungible(t, k, "1", 18, DefaultAccessRules())

	address, err := k.AllocateNodeId(types.EntityGlobalGenericComponent)
	require.NoError(t, err)
	require.ErrorIs(t, k.Globalize(address, bucket.Id), kernel.ErrCannotPersistPinnedNode)
}

func TestPreallocatedResourceAddress(t *testing.T) {
	k := newTestKernel(t)
	address, err := k.AllocateNodeId(types.EntityGlobalFungibleResourceManager)
	require.NoError(t, err)

	manager, bucket, err := CreateFungible(k, CreateFungibleArgs{Rules: DefaultAccessRules()}, &address)
	require.NoError(t, err)
	require.Nil(t, bucket)
	require.Equal(t, address, manager.Address)

	wrong, err := k.AllocateNodeId(types.EntityGlobalGenericComponent)
	require.NoError(t, err)
	_, _, err = CreateFungible(k, CreateFungibleArgs{Rules: DefaultAccessRules()}, &wrong)
	require.ErrorIs(t, err, kernel.ErrInvalidInvocation)
}
