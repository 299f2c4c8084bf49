package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrTenantAlreadyExists = errors.New("tenant already exists")
	ErrMembershipNotFound  = errors.New("membership not found")
	ErrMembershipMismatch  = errors.New("membership does not belong to principal and tenant")
)

// Repository defines the interface for tenant storage.
// Lookups return nil, nil when no tenant matches.
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
}

// MembershipRepository defines the interface for membership storage.
// Lookups return nil, nil when no membership matches.
type MembershipRepository interface {
	Create(ctx context.Context, m *Membership) error

	// FindActive returns the active membership of a user
	FindActive(ctx context.Context, userID string) (*Membership, error)

	// Find returns the membership between a tenant and a user
	Find(ctx context.Context, tenantID, userID string) (*Membership, error)

	// Activate marks the membership active and every other membership of
	// the same user inactive, atomically.
	Activate(ctx context.Context, membershipID string) error
}
