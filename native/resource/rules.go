package resource

import (
	"fmt"

	"ledgerengine/core/types"
)

// ProofRuleKind selects the predicate a proof is checked against.
type ProofRuleKind uint8

const (
	RuleContains ProofRuleKind = iota + 1
	RuleContainsNonFungible
	RuleContainsNonFungibles
	RuleContainsAmount
	RuleContainsAnyOf
)

// ProofRule is a predicate over a proof's resource and locked contents.
type ProofRule struct {
	Kind      ProofRuleKind
	Resource  types.ResourceAddress
	Resources []types.ResourceAddress
	Ids       []types.NonFungibleLocalId
	Amount    types.Decimal
}

func Contains(resource types.ResourceAddress) ProofRule {
	return ProofRule{Kind: RuleContains, Resource: resource}
}

func ContainsNonFungible(id types.NonFungibleGlobalId) ProofRule {
	return ProofRule{Kind: RuleContainsNonFungible, Resource: id.Resource, Ids: []types.NonFungibleLocalId{id.Local}}
}

func ContainsNonFungibles(resource types.ResourceAddress, ids ...types.NonFungibleLocalId) ProofRule {
	return ProofRule{Kind: RuleContainsNonFungibles, Resource: resource, Ids: ids}
}

func ContainsAmount(resource types.ResourceAddress, amount types.Decimal) ProofRule {
	return ProofRule{Kind: RuleContainsAmount, Resource: resource, Amount: amount}
}

func ContainsAnyOf(resources ...types.ResourceAddress) ProofRule {
	return ProofRule{Kind: RuleContainsAnyOf, Resources: resources}
}

// ProofValidationErrorKind classifies a failed proof validation.
type ProofValidationErrorKind uint8

const (
	InvalidResourceAddress ProofValidationErrorKind = iota + 1
	ResourceAddressDoesNotBelongToList
	DoesNotContainOneNonFungible
	NonFungibleLocalIdNotFound
	InvalidAmount
	InvalidRule
)

var proofValidationNames = map[ProofValidationErrorKind]string{
	InvalidResourceAddress:             "invalid resource address",
	ResourceAddressDoesNotBelongToList: "resource address does not belong to list",
	DoesNotContainOneNonFungible:       "does not contain one non-fungible",
	NonFungibleLocalIdNotFound:         "non-fungible local id not found",
	InvalidAmount:                      "invalid amount",
	InvalidRule:                        "invalid rule",
}

func (k ProofValidationErrorKind) String() string {
	if name, ok := proofValidationNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ProofValidationError is returned when a proof does not satisfy a rule.
type ProofValidationError struct {
	Kind   ProofValidationErrorKind
	Detail string
}

func (e *ProofValidationError) Error() string {
	if e.Detail == "" {
		return "proof validation: " + e.Kind.String()
	}
	return "proof validation: " + e.Kind.String() + ": " + e.Detail
}

func validationError(kind ProofValidationErrorKind, format string, args ...any) error {
	return &ProofValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Validate checks the proof against rule without modifying it.
func (p *ProofState) Validate(rule ProofRule) error {
	switch rule.Kind {
	case RuleContains:
		if p.Resource != rule.Resource {
			return validationError(InvalidResourceAddress, "proof of %s", p.Resource.Short())
		}
		return nil
	case RuleContainsAmount:
		if p.Resource != rule.Resource {
			return validationError(InvalidResourceAddress, "proof of %s", p.Resource.Short())
		}
		if p.Amount.LessThan(rule.Amount) {
			return validationError(InvalidAmount, "proof holds %s, need %s", p.Amount, rule.Amount)
		}
		return nil
	case RuleContainsNonFungible:
		if p.Resource != rule.Resource {
			return validationError(InvalidResourceAddress, "proof of %s", p.Resource.Short())
		}
		if len(rule.Ids) != 1 {
			return validationError(InvalidRule, "expected one id, got %d", len(rule.Ids))
		}
		if !p.hasId(rule.Ids[0]) {
			return validationError(DoesNotContainOneNonFungible, "%s", rule.Ids[0])
		}
		return nil
	case RuleContainsNonFungibles:
		if p.Resource != rule.Resource {
			return validationError(InvalidResourceAddress, "proof of %s", p.Resource.Short())
		}
		for _, id := range rule.Ids {
			if !p.hasId(id) {
				return validationError(NonFungibleLocalIdNotFound, "%s", id)
			}
		}
		return nil
	case RuleContainsAnyOf:
		for _, r := range rule.Resources {
			if p.Resource == r {
				return nil
			}
		}
		return validationError(ResourceAddressDoesNotBelongToList, "proof of %s", p.Resource.Short())
	default:
		return validationError(InvalidRule, "unknown rule kind %d", rule.Kind)
	}
}

// AccessRuleKind selects how an access rule is evaluated.
type AccessRuleKind uint8

const (
	AllowAll AccessRuleKind = iota
	DenyAll
	Require
)

// AccessRule gates a resource operation. Require is satisfied when any proof
// in the caller's auth zone validates against Rule.
type AccessRule struct {
	Kind AccessRuleKind
	Rule ProofRule
}

func RequireProof(rule ProofRule) AccessRule {
	return AccessRule{Kind: Require, Rule: rule}
}

// AccessRules holds the rules of a resource.
type AccessRules struct {
	Mint     AccessRule
	Burn     AccessRule
	Withdraw AccessRule
	Deposit  AccessRule
}

// DefaultAccessRules allows withdraw and deposit and denies mint and burn.
func DefaultAccessRules() AccessRules {
	return AccessRules{
		Mint:     AccessRule{Kind: DenyAll},
		Burn:     AccessRule{Kind: DenyAll},
		Withdraw: AccessRule{Kind: AllowAll},
		Deposit:  AccessRule{Kind: AllowAll},
	}
}
