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
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/tenantscope/internal/audit"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// Service provides tenant and membership management business logic
type Service struct {
	repo        Repository
	memberships MembershipRepository
	auditLogger audit.Logger
}

// NewService creates a new tenant service
func NewService(repo Repository, memberships MembershipRepository, auditLogger audit.Logger) *Service {
	return &Service{
		repo:        repo,
		memberships: memberships,
		auditLogger: auditLogger,
	}
}

// CreateTenant creates a new tenant addressed by slug
func (s *Service) CreateTenant(ctx context.Context, slug, name string) (*Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("invalid tenant slug: %q", slug)
	}
	if name == "" {
		return nil, fmt.Errorf("tenant name is required")
	}

	existing, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to check tenant slug: %w", err)
	}
	if existing != nil {
		return nil, ErrTenantAlreadyExists
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate tenant id: %w", err)
	}

	now := time.Now()
	t := &Tenant{
		ID:        id.String(),
		Slug:      slug,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantCreated,
		TenantID: t.ID,
		Resource: t.Slug,
	})

	return t, nil
}

// GetBySlug retrieves a tenant by slug. It returns ErrTenantNotFound when
// no tenant matches.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	t, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// AddMember adds userID to tenantID. The first membership of a user becomes
// its active one.
func (s *Service) AddMember(ctx context.Context, tenantID, userID, role string) (*Membership, error) {
	if role != RoleOwner && role != RoleMember {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	existing, err := s.memberships.Find(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	active, err := s.memberships.FindActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active membership: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate membership id: %w", err)
	}

	m := &Membership{
		ID:        id.String(),
		TenantID:  tenantID,
		UserID:    userID,
		Role:      role,
		IsActive:  active == nil,
		CreatedAt: time.Now(),
	}
	if m.IsActive {
		m.ActivatedAt = &m.CreatedAt
	}
	if err := s.memberships.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberAdded,
		TenantID: tenantID,
		Resource: role,
		Metadata: map[string]any{"user_id": userID},
	})

	return m, nil
}

// Activate makes m the current membership of its user, deactivating the
// user's other memberships.
func (s *Service) Activate(ctx context.Context, m *Membership) error {
	if err := s.memberships.Activate(ctx, m.ID); err != nil {
		return fmt.Errorf("failed to activate membership: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMembershipActivated,
		TenantID: m.TenantID,
		ActorID:  m.UserID,
		Resource: m.ID,
		Metadata: map[string]any{"was_active": m.IsActive},
	})

	return nil
}
