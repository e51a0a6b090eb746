package authcore

import (
	"context"
	"errors"
	"fmt"
)

// Resolver looks up principals by username across both variant stores and
// answers the union uniqueness probe behind the check-username endpoint.
// Usernames are unique across the union, so at most one store matches.
type Resolver struct {
	accounts PrincipalStore
	members  MemberStore
}

// NewResolver wires the two variant stores.
func NewResolver(accounts PrincipalStore, members MemberStore) *Resolver {
	return &Resolver{accounts: accounts, members: members}
}

// ResolveByUsername checks the account store first, then the member store.
// A miss in both returns ErrPrincipalNotFound.
func (r *Resolver) ResolveByUsername(ctx context.Context, username string) (*Principal, error) {
	p, err := r.accounts.FindByUsername(ctx, username)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPrincipalNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	p, err = r.members.FindByUsername(ctx, username)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrPrincipalNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil, ErrPrincipalNotFound
}

// ResolveByID reloads a principal from the store its variant tag names.
func (r *Resolver) ResolveByID(ctx context.Context, variant Variant, id string) (*Principal, error) {
	store, err := r.storeFor(variant)
	if err != nil {
		return nil, err
	}

	p, err := store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return p, nil
}

// UsernameAvailable reports whether username is free across both stores.
// A record whose id equals excludeID does not count as a conflict, so a
// principal editing its own profile can keep its name.
func (r *Resolver) UsernameAvailable(ctx context.Context, username, excludeID string) (bool, error) {
	p, err := r.ResolveByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return true, nil
		}
		return false, err
	}
	return excludeID != "" && p.ID == excludeID, nil
}

func (r *Resolver) storeFor(variant Variant) (PrincipalStore, error) {
	switch variant {
	case VariantAccount:
		return r.accounts, nil
	case VariantMember:
		return r.members, nil
	default:
		return nil, fmt.Errorf("%w: unknown principal variant %q", ErrValidation, variant)
	}
}
