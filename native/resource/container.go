package resource

import (
	"fmt"
	"sort"

	"ledgerengine/core/types"
)

// LockedAmount counts the proofs locking one fungible amount.
type LockedAmount struct {
	Amount types.Decimal
	Count  uint64
}

// LockedId counts the proofs locking one non-fungible.
type LockedId struct {
	Id    types.NonFungibleLocalId
	Count uint64
}

// Container is the content of a bucket or vault. Locked fungible amounts
// overlap: the container holds Liquid plus the largest locked amount. Locked
// ids are held in addition to the liquid ids.
type Container struct {
	Fungible      bool
	Liquid        types.Decimal
	Ids           []types.NonFungibleLocalId
	LockedAmounts []LockedAmount
	LockedIds     []LockedId
}

func newFungibleContainer(amount types.Decimal) *Container {
	return &Container{Fungible: true, Liquid: amount}
}

func newNonFungibleContainer(ids []types.NonFungibleLocalId) *Container {
	c := &Container{}
	c.Ids = append(c.Ids, ids...)
	sortIds(c.Ids)
	return c
}

func sortIds(ids []types.NonFungibleLocalId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func (c *Container) maxLocked() types.Decimal {
	var top types.Decimal
	for _, l := range c.LockedAmounts {
		top = top.Max(l.Amount)
	}
	return top
}

// Amount is the total held, liquid or locked.
func (c *Container) Amount() types.Decimal {
	if !c.Fungible {
		return types.NewDecimal(uint64(len(c.Ids) + len(c.LockedIds)))
	}
	total, err := c.Liquid.Add(c.maxLocked())
	if err != nil {
		panic(fmt.Sprintf("container amount overflow: %v", err))
	}
	return total
}

// Available is the amount that can be withdrawn.
func (c *Container) Available() types.Decimal {
	if !c.Fungible {
		return types.NewDecimal(uint64(len(c.Ids)))
	}
	return c.Liquid
}

// AllIds returns liquid and locked ids in order.
func (c *Container) AllIds() []types.NonFungibleLocalId {
	out := make([]types.NonFungibleLocalId, 0, len(c.Ids)+len(c.LockedIds))
	out = append(out, c.Ids...)
	for _, l := range c.LockedIds {
		out = append(out, l.Id)
	}
	sortIds(out)
	return out
}

func (c *Container) IsLocked() bool {
	return len(c.LockedAmounts) > 0 || len(c.LockedIds) > 0
}

func (c *Container) IsEmpty() bool {
	return c.Amount().IsZero()
}

// takeAmount removes amount from the liquid balance.
func (c *Container) takeAmount(amount types.Decimal) (*Container, error) {
	if !c.Fungible {
		n, err := wholeCount(amount)
		if err != nil {
			return nil, err
		}
		if n > uint64(len(c.Ids)) {
			return nil, fmt.Errorf("%w: requested %s, available %d", ErrInsufficientBalance, amount, len(c.Ids))
		}
		return c.takeIds(append([]types.NonFungibleLocalId(nil), c.Ids[:n]...))
	}
	rest, err := c.Liquid.Sub(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: requested %s, available %s", ErrInsufficientBalance, amount, c.Liquid)
	}
	c.Liquid = rest
	return newFungibleContainer(amount), nil
}

// takeIds removes specific liquid ids.
func (c *Container) takeIds(ids []types.NonFungibleLocalId) (*Container, error) {
	if c.Fungible {
		return nil, ErrNotNonFungible
	}
	remaining := make(map[types.NonFungibleLocalId]struct{}, len(c.Ids))
	for _, id := range c.Ids {
		remaining[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := remaining[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNonFungibleLocalIdNotFound, id)
		}
		delete(remaining, id)
	}
	kept := c.Ids[:0]
	for _, id := range c.Ids {
		if _, ok := remaining[id]; ok {
			kept = append(kept, id)
		}
	}
	c.Ids = kept
	return newNonFungibleContainer(ids), nil
}

// put merges other into the liquid balance. other must not be locked.
func (c *Container) put(other *Container) error {
	if other.Fungible != c.Fungible {
		return ErrMismatchingResource
	}
	if other.IsLocked() {
		return ErrContainerLocked
	}
	if c.Fungible {
		sum, err := c.Liquid.Add(other.Liquid)
		if err != nil {
			return err
		}
		c.Liquid = sum
		return nil
	}
	existing := make(map[types.NonFungibleLocalId]struct{}, len(c.Ids))
	for _, id := range c.AllIds() {
		existing[id] = struct{}{}
	}
	for _, id := range other.Ids {
		if _, dup := existing[id]; dup {
			return fmt.Errorf("%w: %s", ErrNonFungibleExists, id)
		}
	}
	c.Ids = append(c.Ids, other.Ids...)
	sortIds(c.Ids)
	return nil
}

// lockAmount locks amount for a proof. Locks overlap, so only the part above
// the current largest lock is drawn from the liquid balance.
func (c *Container) lockAmount(amount types.Decimal) error {
	if !c.Fungible {
		return ErrNotFungible
	}
	if amount.GreaterThan(c.Amount()) {
		return fmt.Errorf("%w: cannot lock %s of %s", ErrInsufficientBalance, amount, c.Amount())
	}
	top := c.maxLocked()
	if amount.GreaterThan(top) {
		extra, _ := amount.Sub(top)
		c.Liquid, _ = c.Liquid.Sub(extra)
	}
	for i := range c.LockedAmounts {
		if c.LockedAmounts[i].Amount.Equal(amount) {
			c.LockedAmounts[i].Count++
			return nil
		}
	}
	c.LockedAmounts = append(c.LockedAmounts, LockedAmount{Amount: amount, Count: 1})
	sort.Slice(c.LockedAmounts, func(i, j int) bool {
		return c.LockedAmounts[i].Amount.LessThan(c.LockedAmounts[j].Amount)
	})
	return nil
}

// unlockAmount releases one lock of amount and returns any amount no longer
// covered by a lock to the liquid balance.
func (c *Container) unlockAmount(amount types.Decimal) error {
	before := c.maxLocked()
	found := false
	for i := range c.LockedAmounts {
		if !c.LockedAmounts[i].Amount.Equal(amount) {
			continue
		}
		found = true
		c.LockedAmounts[i].Count--
		if c.LockedAmounts[i].Count == 0 {
			c.LockedAmounts = append(c.LockedAmounts[:i], c.LockedAmounts[i+1:]...)
		}
		break
	}
	if !found {
		return fmt.Errorf("%w: no lock of %s", ErrInvalidAmount, amount)
	}
	released, _ := before.Sub(c.maxLocked())
	liquid, err := c.Liquid.Add(released)
	if err != nil {
		return err
	}
	c.Liquid = liquid
	return nil
}

// lockIds locks each id, moving liquid ids into the locked set.
func (c *Container) lockIds(ids []types.NonFungibleLocalId) error {
	if c.Fungible {
		return ErrNotNonFungible
	}
	for _, id := range ids {
		if c.bumpLockedId(id) {
			continue
		}
		idx := -1
		for i, liquid := range c.Ids {
			if liquid == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrNonFungibleLocalIdNotFound, id)
		}
		c.Ids = append(c.Ids[:idx], c.Ids[idx+1:]...)
		c.LockedIds = append(c.LockedIds, LockedId{Id: id, Count: 1})
	}
	sort.Slice(c.LockedIds, func(i, j int) bool { return c.LockedIds[i].Id < c.LockedIds[j].Id })
	return nil
}

func (c *Container) bumpLockedId(id types.NonFungibleLocalId) bool {
	for i := range c.LockedIds {
		if c.LockedIds[i].Id == id {
			c.LockedIds[i].Count++
			return true
		}
	}
	return false
}

// unlockIds releases one lock of each id.
func (c *Container) unlockIds(ids []types.NonFungibleLocalId) error {
	for _, id := range ids {
		idx := -1
		for i := range c.LockedIds {
			if c.LockedIds[i].Id == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s is not locked", ErrNonFungibleLocalIdNotFound, id)
		}
		c.LockedIds[idx].Count--
		if c.LockedIds[idx].Count == 0 {
			c.LockedIds = append(c.LockedIds[:idx], c.LockedIds[idx+1:]...)
			c.Ids = append(c.Ids, id)
		}
	}
	sortIds(c.Ids)
	return nil
}

func wholeCount(amount types.Decimal) (uint64, error) {
	if !amount.CheckDivisibility(0) {
		return 0, fmt.Errorf("%w: %s is not a whole number of non-fungibles", ErrInvalidAmount, amount)
	}
	n, ok := amount.Whole()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return n, nil
}
