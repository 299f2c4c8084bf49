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

package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/opentrusty/tenantscope/internal/audit"
	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/observability/metrics"
	"github.com/opentrusty/tenantscope/internal/scope"
	"github.com/opentrusty/tenantscope/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// headerPrincipals resolves X-Test-User to an active user and fails with
// the configured error when X-Test-Fail is set.
type headerPrincipals struct {
	err error
}

func (h headerPrincipals) Resolve(r *http.Request) (identity.Principal, error) {
	if r.Header.Get("X-Test-Fail") != "" {
		return nil, h.err
	}
	if id := r.Header.Get("X-Test-User"); id != "" {
		return &identity.User{ID: id, Active: true}, nil
	}
	return identity.Anonymous, nil
}

type countingTenants struct {
	strategy tenant.Strategy
	calls    atomic.Int32
}

func (c *countingTenants) Strategy() tenant.Strategy { return c.strategy }

func (c *countingTenants) Resolve(_ context.Context, _ *http.Request, p identity.Principal) *tenant.Tenant {
	c.calls.Add(1)
	if p.IsAnonymous() {
		return nil
	}
	return &tenant.Tenant{ID: "tenant-" + p.Subject(), Slug: "t-" + p.Subject()}
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *recordingAudit) Log(_ context.Context, e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func newTestController(t *testing.T, principals PrincipalResolver, tenants TenantResolver, registry *scope.Registry, auditLogger audit.Logger) *ScopeController {
	t.Helper()
	inst, err := metrics.NewScopeInstruments(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return NewScopeController(principals, tenants, registry, auditLogger,
		tracenoop.NewTracerProvider().Tracer("test"), inst)
}

// TestPurpose: Validates the scope lifecycle around a handler.
// Scope: Unit Test
// Expected: The handler sees the user, tenant and strategy; afterwards the registry is empty and the
// captured context resolves nothing.
func TestScopeController_EntryLivesForHandlerOnly(t *testing.T) {
	registry := scope.NewRegistry()
	tenants := &countingTenants{strategy: tenant.ByUser}
	c := newTestController(t, headerPrincipals{}, tenants, registry, &recordingAudit{})

	var captured context.Context
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
		assert.Equal(t, 1, registry.Len())
		assert.True(t, registry.IsWeb(r.Context()))
		assert.Equal(t, "user-1", registry.CurrentUser(r.Context()).Subject())
		assert.Equal(t, tenant.ByUser, RequestStrategy(r.Context()))
		require.NotNil(t, registry.CurrentTenant(r.Context()))
		assert.Equal(t, "t-user-1", registry.CurrentTenant(r.Context()).Slug)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User", "user-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, registry.Len())
	require.NotNil(t, captured)
	assert.Nil(t, registry.CurrentUser(captured))
	assert.Nil(t, registry.CurrentTenant(captured))
	assert.False(t, registry.IsWeb(captured))
	assert.Equal(t, tenant.Strategy(""), RequestStrategy(captured))
	assert.Equal(t, int32(1), tenants.calls.Load(), "tenant is resolved once however often it is read")
}

// TestPurpose: Validates that by_user keeps the tenant lazy.
// Scope: Unit Test
// Expected: A handler that never asks for the tenant causes no tenant resolution.
func TestScopeController_ByUser_TenantStaysLazy(t *testing.T) {
	registry := scope.NewRegistry()
	tenants := &countingTenants{strategy: tenant.ByUser}
	c := newTestController(t, headerPrincipals{}, tenants, registry, &recordingAudit{})

	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User", "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, int32(0), tenants.calls.Load())
}

// TestPurpose: Validates that by_url resolves the tenant before the handler runs.
// Scope: Unit Test
// Expected: Exactly one tenant resolution even though the handler never reads the tenant.
func TestScopeController_ByURL_ForcesTenant(t *testing.T) {
	registry := scope.NewRegistry()
	tenants := &countingTenants{strategy: tenant.ByURL}
	c := newTestController(t, headerPrincipals{}, tenants, registry, &recordingAudit{})

	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, int32(1), tenants.calls.Load())
		registry.CurrentTenant(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User", "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, int32(1), tenants.calls.Load())
}

// TestPurpose: Validates that teardown runs when the handler panics.
// Scope: Unit Test
// Expected: The panic reaches the outer recoverer (500) and no registry entry survives.
func TestScopeController_PanicStillTearsDown(t *testing.T) {
	registry := scope.NewRegistry()
	c := newTestController(t, headerPrincipals{}, &countingTenants{strategy: tenant.ByUser}, registry, &recordingAudit{})

	var captured context.Context
	handler := middleware.Recoverer(c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
		panic("boom")
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, tenant.Strategy(""), RequestStrategy(captured))
}

// TestPurpose: Validates the error responses for rejected credentials.
// Scope: Unit Test
// Security: Unsupported schemes fail closed instead of degrading to anonymous
// Expected: 501 for unsupported schemes, 401 for invalid tokens, 500 for store failures; the handler never
// runs, no entry remains and rejections are audited.
func TestScopeController_RejectedCredentials(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		audited bool
	}{
		{"unsupported", &identity.UnsupportedSchemeError{Scheme: "hawk"}, http.StatusNotImplemented, true},
		{"invalid token", fmt.Errorf("%w: expired", identity.ErrInvalidToken), http.StatusUnauthorized, true},
		{"store failure", fmt.Errorf("failed to load token subject: connection refused"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := scope.NewRegistry()
			auditLog := &recordingAudit{}
			c := newTestController(t, headerPrincipals{err: tt.err}, &countingTenants{strategy: tenant.ByURL}, registry, auditLog)

			called := false
			handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Test-Fail", "1")
			req.Header.Set("Authorization", "hawk abc")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.False(t, called)
			assert.Equal(t, 0, registry.Len())
			if tt.audited {
				require.Len(t, auditLog.events, 1)
				assert.Equal(t, audit.TypeCredentialRejected, auditLog.events[0].Type)
				assert.Equal(t, "hawk", auditLog.events[0].Resource)
			} else {
				assert.Empty(t, auditLog.events)
			}
		})
	}
}

// TestPurpose: Validates isolation between concurrent request scopes.
// Scope: Unit Test
// Expected: Every handler observes only its own user and tenant; the registry drains to zero.
func TestScopeController_ConcurrentRequestsAreIsolated(t *testing.T) {
	registry := scope.NewRegistry()
	c := newTestController(t, headerPrincipals{}, &countingTenants{strategy: tenant.ByUser}, registry, &recordingAudit{})

	var mismatches atomic.Int32
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := r.Header.Get("X-Test-User")
		for range 20 {
			if registry.CurrentUser(r.Context()).Subject() != want {
				mismatches.Add(1)
			}
			if tn := registry.CurrentTenant(r.Context()); tn == nil || tn.Slug != "t-"+want {
				mismatches.Add(1)
			}
		}
	}))

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Test-User", fmt.Sprintf("user-%d", i))
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), mismatches.Load())
	assert.Equal(t, 0, registry.Len())
}

// contextTenants records the context the tenant is resolved against and
// optionally panics while resolving.
type contextTenants struct {
	strategy tenant.Strategy
	panics   bool
	ctx      context.Context
}

func (c *contextTenants) Strategy() tenant.Strategy { return c.strategy }

func (c *contextTenants) Resolve(ctx context.Context, _ *http.Request, _ identity.Principal) *tenant.Tenant {
	c.ctx = ctx
	if c.panics {
		panic("tenant store unavailable")
	}
	return &tenant.Tenant{ID: "tenant-1", Slug: "acme"}
}

func newRecordedController(t *testing.T, tenants TenantResolver, registry *scope.Registry) (*ScopeController, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	inst, err := metrics.NewScopeInstruments(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return NewScopeController(headerPrincipals{}, tenants, registry, &recordingAudit{}, tp.Tracer("test"), inst), sr
}

// TestPurpose: Validates that a tenant deferred to the handler resolves against the handler's context.
// Scope: Unit Test
// Expected: The resolver sees the request's unit and scope log attributes, and not the ended resolve span.
func TestScopeController_DeferredTenantUsesHandlerContext(t *testing.T) {
	registry := scope.NewRegistry()
	tenants := &contextTenants{strategy: tenant.ByUser}
	c, sr := newRecordedController(t, tenants, registry)

	var unit scope.Unit
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unit, _ = scope.UnitFromContext(r.Context())
		require.NotNil(t, registry.CurrentTenant(r.Context()))

		got, ok := scope.UnitFromContext(tenants.ctx)
		assert.True(t, ok)
		assert.Equal(t, unit, got)
		_, ok = registry.LogAttrs(tenants.ctx)
		assert.True(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User", "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tenantscope.resolve", spans[0].Name())
	require.NotNil(t, tenants.ctx)
	assert.NotEqual(t, spans[0].SpanContext().SpanID(), trace.SpanContextFromContext(tenants.ctx).SpanID())
}

// TestPurpose: Validates that a panic during tenant resolution still ends the resolve span.
// Scope: Unit Test
// Expected: The outer recoverer answers 500, the span is ended and no registry entry exists.
func TestScopeController_ResolvePanicEndsSpan(t *testing.T) {
	registry := scope.NewRegistry()
	c, sr := newRecordedController(t, &contextTenants{strategy: tenant.ByURL, panics: true}, registry)

	called := false
	handler := middleware.Recoverer(c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User", "user-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.False(t, called)
	assert.Len(t, sr.Ended(), 1)
	assert.Equal(t, 0, registry.Len())
}

type chainUsers map[string]*identity.User

func (u chainUsers) Create(_ context.Context, user *identity.User) error {
	u[user.ID] = user
	return nil
}

func (u chainUsers) GetByID(_ context.Context, id string) (*identity.User, error) {
	return u[id], nil
}

type chainTenants map[string]*tenant.Tenant

func (c chainTenants) Create(_ context.Context, t *tenant.Tenant) error {
	c[t.Slug] = t
	return nil
}

func (c chainTenants) GetByID(_ context.Context, id string) (*tenant.Tenant, error) {
	for _, t := range c {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (c chainTenants) FindBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	return c[slug], nil
}

type chainMemberships struct {
	mu          sync.Mutex
	all         []*tenant.Membership
	activations int
}

func (m *chainMemberships) Create(_ context.Context, mm *tenant.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = append(m.all, mm)
	return nil
}

func (m *chainMemberships) FindActive(_ context.Context, userID string) (*tenant.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mm := range m.all {
		if mm.UserID == userID && mm.IsActive {
			return mm, nil
		}
	}
	return nil, nil
}

func (m *chainMemberships) Find(_ context.Context, tenantID, userID string) (*tenant.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mm := range m.all {
		if mm.TenantID == tenantID && mm.UserID == userID {
			return mm, nil
		}
	}
	return nil, nil
}

func (m *chainMemberships) Activate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activations++
	for _, mm := range m.all {
		if mm.ID == id {
			mm.IsActive = true
		}
	}
	return nil
}

// TestPurpose: Validates the full resolution chain with the real identity and tenant resolvers.
// Scope: Integration Test (in-memory repositories)
// Security: Unsupported and invalid credentials never reach the handler
// Expected: With by_url on acme.example.com a valid simplejwt token yields user u1, tenant acme and one
// activation; oauth yields 501; bad tokens yield 401; unrecognized and missing credentials yield anonymous
// with tenant acme; the registry is empty after every request.
func TestScopeController_RealResolvers_ByURL(t *testing.T) {
	users := chainUsers{"u1": {ID: "u1", Email: "u1@example.com", Active: true}}
	tenants := chainTenants{"acme": {ID: "tenant-acme", Slug: "acme", Name: "Acme", Status: tenant.StatusActive}}
	memberships := &chainMemberships{all: []*tenant.Membership{
		{ID: "m1", TenantID: "tenant-acme", UserID: "u1", Role: tenant.RoleMember},
	}}
	auditLog := &recordingAudit{}

	verifier, err := identity.NewTokenVerifier([]byte("scope-chain-secret-0123"), "tenantscope", 0)
	require.NoError(t, err)
	token, err := verifier.Issue(users["u1"], time.Minute)
	require.NoError(t, err)

	tenantResolver, err := tenant.NewResolver(tenant.ByURL, tenants, memberships,
		tenant.NewService(tenants, memberships, auditLog), tenant.SubdomainSlug("example.com"))
	require.NoError(t, err)

	registry := scope.NewRegistry()
	c := newTestController(t, identity.NewResolver(users, verifier, nil), tenantResolver, registry, auditLog)

	tests := []struct {
		name        string
		auth        string
		status      int
		user        string
		tenant      string
		activations int
	}{
		{"simplejwt", "simplejwt " + token, http.StatusOK, "u1", "acme", 1},
		{"unsupported scheme", "oauth abc", http.StatusNotImplemented, "", "", 0},
		{"invalid token", "simplejwt not-a-token", http.StatusUnauthorized, "", "", 0},
		{"unrecognized scheme", "Bearer abc", http.StatusOK, "", "acme", 0},
		{"no credentials", "", http.StatusOK, "", "acme", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memberships.activations = 0

			called := false
			var gotUser, gotTenant string
			handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				gotUser = registry.CurrentUser(r.Context()).Subject()
				if tn := registry.CurrentTenant(r.Context()); tn != nil {
					gotTenant = tn.Slug
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "http://acme.example.com/api/v1/context", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.status == http.StatusOK, called)
			assert.Equal(t, tt.user, gotUser)
			assert.Equal(t, tt.tenant, gotTenant)
			assert.Equal(t, tt.activations, memberships.activations)
			assert.Equal(t, 0, registry.Len())
		})
	}
}

// TestPurpose: Validates by_user resolution through the real resolvers.
// Scope: Integration Test (in-memory repositories)
// Expected: The user's active membership selects the tenant regardless of host; anonymous callers have none.
func TestScopeController_RealResolvers_ByUser(t *testing.T) {
	users := chainUsers{"u1": {ID: "u1", Active: true}}
	tenants := chainTenants{"acme": {ID: "tenant-acme", Slug: "acme", Status: tenant.StatusActive}}
	memberships := &chainMemberships{all: []*tenant.Membership{
		{ID: "m1", TenantID: "tenant-acme", UserID: "u1", Role: tenant.RoleOwner, IsActive: true},
	}}

	verifier, err := identity.NewTokenVerifier([]byte("scope-chain-secret-0123"), "tenantscope", 0)
	require.NoError(t, err)
	token, err := verifier.Issue(users["u1"], time.Minute)
	require.NoError(t, err)

	tenantResolver, err := tenant.NewResolver(tenant.ByUser, tenants, memberships, nil, nil)
	require.NoError(t, err)

	registry := scope.NewRegistry()
	c := newTestController(t, identity.NewResolver(users, verifier, nil), tenantResolver, registry, &recordingAudit{})

	var got *tenant.Tenant
	handler := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = registry.CurrentTenant(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "http://other.example.com/", nil)
	req.Header.Set("Authorization", "simplejwt "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.Slug)
	assert.Zero(t, memberships.activations)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Nil(t, got)
	assert.Equal(t, 0, registry.Len())
}
