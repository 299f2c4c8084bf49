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

// Package scope keeps the user and tenant of each in-flight request (or
// background job) reachable from any code running on its behalf.
//
// A scope is entered with Registry.Enter, which mints a Unit, stores the
// Entry under it and returns a context carrying the unit. Code holding that
// context reads the scope through CurrentUser, CurrentTenant and IsWeb.
// The release function returned by Enter removes the entry and must run
// when the request ends, whatever the outcome.
package scope

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/tenant"
)

// Channel tells what kind of work a scope belongs to.
type Channel int

const (
	ChannelWeb Channel = iota + 1
	ChannelOther
)

func (c Channel) String() string {
	switch c {
	case ChannelWeb:
		return "web"
	case ChannelOther:
		return "other"
	default:
		return "unknown"
	}
}

// Entry is the scope of one unit. Entries are never modified once stored.
type Entry struct {
	User    *Lazy[identity.Principal]
	Tenant  *Lazy[*tenant.Tenant]
	Channel Channel
}

// Registry maps live units to their entries. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Unit]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Unit]*Entry)}
}

// Set installs or replaces the entry of unit. A nil entry removes it.
func (r *Registry) Set(unit Unit, e *Entry) {
	if e == nil {
		r.Remove(unit)
		return
	}
	r.mu.Lock()
	r.entries[unit] = e
	r.mu.Unlock()
}

// Get returns the entry of unit, if any.
func (r *Registry) Get(unit Unit) (*Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[unit]
	r.mu.RUnlock()
	return e, ok
}

// Remove deletes the entry of unit. Removing an absent unit is a no-op.
func (r *Registry) Remove(unit Unit) {
	r.mu.Lock()
	delete(r.entries, unit)
	r.mu.Unlock()
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Enter stores e under a fresh unit and returns a context carrying that
// unit. The returned release removes the entry; it is safe to call more
// than once.
func (r *Registry) Enter(ctx context.Context, e *Entry) (context.Context, func()) {
	unit := NewUnit()
	r.Set(unit, e)

	var once sync.Once
	return WithUnit(ctx, unit), func() {
		once.Do(func() { r.Remove(unit) })
	}
}

func (r *Registry) current(ctx context.Context) (*Entry, bool) {
	unit, ok := UnitFromContext(ctx)
	if !ok {
		return nil, false
	}
	return r.Get(unit)
}

// CurrentTenant returns the tenant of the caller's scope, evaluating it on
// first use. It returns nil outside a scope or when the scope has no tenant.
func (r *Registry) CurrentTenant(ctx context.Context) *tenant.Tenant {
	e, ok := r.current(ctx)
	if !ok || e.Tenant == nil {
		return nil
	}
	t, err := e.Tenant.Get()
	if err != nil {
		return nil
	}
	return t
}

// CurrentUser returns the principal of the caller's scope. It returns nil
// outside a scope and Anonymous when the scope's user could not be resolved.
func (r *Registry) CurrentUser(ctx context.Context) identity.Principal {
	e, ok := r.current(ctx)
	if !ok {
		return nil
	}
	if e.User == nil {
		return identity.Anonymous
	}
	p, err := e.User.Get()
	if err != nil || p == nil {
		return identity.Anonymous
	}
	return p
}

// IsWeb reports whether the caller runs inside a web request scope.
func (r *Registry) IsWeb(ctx context.Context) bool {
	e, ok := r.current(ctx)
	return ok && e.Channel == ChannelWeb
}

// LogAttrs is a logger.ContextExtractor describing the caller's scope.
// It only reports values that are already resolved.
func (r *Registry) LogAttrs(ctx context.Context) (slog.Attr, bool) {
	unit, ok := UnitFromContext(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	e, ok := r.Get(unit)
	if !ok {
		return slog.Attr{}, false
	}

	attrs := []any{slog.String("unit", unit.String()), slog.String("channel", e.Channel.String())}
	if p, ok := e.User.Peek(); ok && p != nil && !p.IsAnonymous() {
		attrs = append(attrs, slog.String("user_id", p.Subject()))
	}
	if t, ok := e.Tenant.Peek(); ok && t != nil {
		attrs = append(attrs, slog.String("tenant_slug", t.Slug))
	}
	return slog.Group("scope", attrs...), true
}
