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

// Package bootstrap seeds the first tenant, user and membership of a fresh
// installation and mints an access token and a session for that user.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/session"
	"github.com/opentrusty/tenantscope/internal/tenant"
)

// userNamespace derives stable user IDs from email addresses so reruns
// find the same user.
var userNamespace = uuid.MustParse("6f1c7e0a-2b0d-4b7e-9a51-6a2a3f0c9d11")

// Request names what to seed
type Request struct {
	TenantSlug string
	TenantName string
	UserEmail  string
	UserName   string
	TokenTTL   time.Duration
}

// Result is what the bootstrap created or found
type Result struct {
	Tenant     *tenant.Tenant
	User       *identity.User
	Membership *tenant.Membership
	Token      string
	Session    *session.Session
}

// Service seeds an installation. Running it twice is harmless; each run
// mints fresh credentials.
type Service struct {
	users    identity.UserRepository
	tenants  *tenant.Service
	verifier *identity.TokenVerifier
	sessions *session.Service
}

// NewService creates a bootstrap service. A nil verifier skips token minting
// and nil sessions skips session creation.
func NewService(users identity.UserRepository, tenants *tenant.Service, verifier *identity.TokenVerifier, sessions *session.Service) *Service {
	return &Service{users: users, tenants: tenants, verifier: verifier, sessions: sessions}
}

// Run creates whatever part of req does not exist yet and makes the user an
// owner of the tenant.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	email := strings.ToLower(strings.TrimSpace(req.UserEmail))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid bootstrap email: %q", req.UserEmail)
	}

	t, err := s.tenants.GetBySlug(ctx, req.TenantSlug)
	if errors.Is(err, tenant.ErrTenantNotFound) {
		t, err = s.tenants.CreateTenant(ctx, req.TenantSlug, req.TenantName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to ensure tenant: %w", err)
	}

	user, err := s.ensureUser(ctx, email, req.UserName)
	if err != nil {
		return nil, err
	}

	m, err := s.tenants.AddMember(ctx, t.ID, user.ID, tenant.RoleOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure membership: %w", err)
	}

	res := &Result{Tenant: t, User: user, Membership: m}
	if s.verifier != nil {
		res.Token, err = s.verifier.Issue(user, req.TokenTTL)
		if err != nil {
			return nil, err
		}
	}
	if s.sessions != nil {
		res.Session, err = s.sessions.Create(ctx, user.ID, "", "bootstrap")
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) ensureUser(ctx context.Context, email, name string) (*identity.User, error) {
	id := uuid.NewSHA1(userNamespace, []byte(email)).String()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up bootstrap user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user = &identity.User{
		ID:     id,
		Email:  email,
		Name:   name,
		Active: true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create bootstrap user: %w", err)
	}
	return user, nil
}
