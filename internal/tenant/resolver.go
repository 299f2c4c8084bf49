// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/observability/logger"
)

// Activator switches which membership is current for its user.
type Activator interface {
	Activate(ctx context.Context, m *Membership) error
}

type repositoryActivator struct {
	repo MembershipRepository
}

func (a repositoryActivator) Activate(ctx context.Context, m *Membership) error {
	return a.repo.Activate(ctx, m.ID)
}

// Resolver determines the tenant a request operates against.
type Resolver struct {
	strategy    Strategy
	tenants     Repository
	memberships MembershipRepository
	activator   Activator
	hostToSlug  HostToSlug
}

// NewResolver validates the strategy and its requirements. A nil activator
// activates memberships directly through the membership repository.
func NewResolver(
	strategy Strategy,
	tenants Repository,
	memberships MembershipRepository,
	activator Activator,
	hostToSlug HostToSlug,
) (*Resolver, error) {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if strategy == ByURL && hostToSlug == nil {
		return nil, &ConfigError{Setting: "HOST_TO_SLUG", Value: "<nil>", Err: errors.New("required for by_url strategy")}
	}
	if activator == nil {
		activator = repositoryActivator{repo: memberships}
	}

	return &Resolver{
		strategy:    strategy,
		tenants:     tenants,
		memberships: memberships,
		activator:   activator,
		hostToSlug:  hostToSlug,
	}, nil
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Resolve returns the tenant of req acting as p, or nil when the request has
// no current tenant.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request, p identity.Principal) *Tenant {
	if r.strategy == ByURL {
		return r.byURL(ctx, req, p)
	}
	return r.byUser(ctx, p)
}

func (r *Resolver) byUser(ctx context.Context, p identity.Principal) *Tenant {
	if p == nil || p.IsAnonymous() {
		return nil
	}

	m, err := r.memberships.FindActive(ctx, p.Subject())
	if err != nil {
		slog.WarnContext(ctx, "active membership lookup failed", logger.UserID(p.Subject()), logger.Error(err))
		return nil
	}
	if m == nil {
		return nil
	}

	t, err := r.tenants.GetByID(ctx, m.TenantID)
	if err != nil {
		slog.WarnContext(ctx, "tenant lookup failed", logger.TenantID(m.TenantID), logger.Error(err))
		return nil
	}
	return t
}

func (r *Resolver) byURL(ctx context.Context, req *http.Request, p identity.Principal) *Tenant {
	slug := r.hostToSlug(req.Host)
	if slug == "" {
		return nil
	}

	t, err := r.tenants.FindBySlug(ctx, slug)
	if err != nil {
		slog.WarnContext(ctx, "tenant lookup by slug failed", logger.Slug(slug), logger.Error(err))
		return nil
	}
	if t == nil {
		return nil
	}

	r.activateMembership(ctx, t, p)
	return t
}

// activateMembership makes t the current tenant of p when p is a member.
// Failures are logged and never affect the resolved tenant.
func (r *Resolver) activateMembership(ctx context.Context, t *Tenant, p identity.Principal) {
	if p == nil || p.IsAnonymous() {
		return
	}

	m, err := r.memberships.Find(ctx, t.ID, p.Subject())
	if err != nil {
		slog.WarnContext(ctx, "membership lookup failed", logger.TenantID(t.ID), logger.UserID(p.Subject()), logger.Error(err))
		return
	}
	if m == nil {
		slog.DebugContext(ctx, "principal is not a member of tenant", logger.TenantID(t.ID), logger.UserID(p.Subject()))
		return
	}
	if m.TenantID != t.ID || m.UserID != p.Subject() {
		slog.DebugContext(ctx, "skipping membership activation", logger.TenantID(t.ID), logger.Error(ErrMembershipMismatch))
		return
	}

	if err := r.activator.Activate(ctx, m); err != nil {
		slog.WarnContext(ctx, "membership activation failed", logger.TenantID(t.ID), logger.UserID(p.Subject()), logger.Error(err))
	}
}
