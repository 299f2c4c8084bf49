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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opentrusty/tenantscope/internal/audit"
	"github.com/opentrusty/tenantscope/internal/identity"
	"github.com/opentrusty/tenantscope/internal/observability/logger"
	"github.com/opentrusty/tenantscope/internal/observability/metrics"
	"github.com/opentrusty/tenantscope/internal/scope"
	"github.com/opentrusty/tenantscope/internal/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// PrincipalResolver derives the acting principal of a request
type PrincipalResolver interface {
	Resolve(r *http.Request) (identity.Principal, error)
}

// TenantResolver derives the tenant of a request for a principal
type TenantResolver interface {
	Strategy() tenant.Strategy
	Resolve(ctx context.Context, r *http.Request, p identity.Principal) *tenant.Tenant
}

type requestAttrsKey struct{}

// requestAttrs are per-request values that stop being visible at teardown.
type requestAttrs struct {
	strategy atomic.Pointer[tenant.Strategy]
}

// RequestStrategy returns the tenant strategy attached to the request, or
// the empty strategy outside an active request scope.
func RequestStrategy(ctx context.Context) tenant.Strategy {
	attrs, ok := ctx.Value(requestAttrsKey{}).(*requestAttrs)
	if !ok {
		return ""
	}
	if s := attrs.strategy.Load(); s != nil {
		return *s
	}
	return ""
}

// ScopeController binds the user and tenant of each request into the
// registry for the lifetime of the handler.
type ScopeController struct {
	identities  PrincipalResolver
	tenants     TenantResolver
	registry    *scope.Registry
	auditLogger audit.Logger
	tracer      trace.Tracer
	instruments *metrics.ScopeInstruments
}

// NewScopeController creates a scope controller. The strategy is read once
// from tenants.
func NewScopeController(
	identities PrincipalResolver,
	tenants TenantResolver,
	registry *scope.Registry,
	auditLogger audit.Logger,
	tracer trace.Tracer,
	instruments *metrics.ScopeInstruments,
) *ScopeController {
	return &ScopeController{
		identities:  identities,
		tenants:     tenants,
		registry:    registry,
		auditLogger: auditLogger,
		tracer:      tracer,
		instruments: instruments,
	}
}

// Middleware resolves the request scope, runs next inside it and tears the
// scope down afterwards, including when next panics.
func (c *ScopeController) Middleware(next http.Handler) http.Handler {
	strategy := c.tenants.Strategy()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs := &requestAttrs{}
		attrs.strategy.Store(&strategy)
		ctx := context.WithValue(r.Context(), requestAttrsKey{}, attrs)

		var (
			release func()
			span    trace.Span
			ended   bool
		)
		endSpan := func() {
			if span != nil && !ended {
				ended = true
				span.End()
			}
		}
		defer func() {
			endSpan()
			attrs.strategy.Store(nil)
			if release != nil {
				release()
				c.instruments.Active.Add(context.WithoutCancel(ctx), -1)
			}
		}()

		start := time.Now()
		var resolveCtx context.Context
		resolveCtx, span = c.tracer.Start(ctx, "tenantscope.resolve",
			trace.WithAttributes(attribute.String("tenant.strategy", strategy.String())),
		)

		// evalReq is the request lazy values resolve against. It becomes the
		// handler's request once the scope is entered.
		var evalReq atomic.Pointer[http.Request]
		evalReq.Store(r.WithContext(resolveCtx))

		user := scope.NewLazy(func() (identity.Principal, error) {
			return c.identities.Resolve(evalReq.Load())
		})
		current := scope.NewLazy(func() (*tenant.Tenant, error) {
			p, err := user.Get()
			if err != nil {
				return nil, nil
			}
			req := evalReq.Load()
			return c.tenants.Resolve(req.Context(), req, p), nil
		})

		p, err := user.Get()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "identity resolution failed")
			endSpan()
			c.reject(w, r.WithContext(resolveCtx), err)
			return
		}
		span.SetAttributes(attribute.Bool("user.anonymous", p.IsAnonymous()))

		if strategy == tenant.ByURL {
			if t, _ := current.Get(); t != nil {
				span.SetAttributes(attribute.String("tenant.slug", t.Slug))
			}
		}
		endSpan()
		c.instruments.ResolveDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000,
			metric.WithAttributes(attribute.String("strategy", strategy.String())),
		)

		ctx, release = c.registry.Enter(ctx, &scope.Entry{
			User:    user,
			Tenant:  current,
			Channel: scope.ChannelWeb,
		})
		c.instruments.Entered.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy.String())))
		c.instruments.Active.Add(ctx, 1)

		handlerReq := r.WithContext(ctx)
		evalReq.Store(handlerReq)
		next.ServeHTTP(w, handlerReq)
	})
}

// reject writes the error response for a failed identity resolution.
func (c *ScopeController) reject(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var unsupported *identity.UnsupportedSchemeError
	status, reason := http.StatusInternalServerError, "resolution_failed"
	switch {
	case errors.As(err, &unsupported):
		status, reason = http.StatusNotImplemented, "unsupported_scheme"
	case errors.Is(err, identity.ErrInvalidToken):
		status, reason = http.StatusUnauthorized, "invalid_token"
	}

	c.instruments.CredentialRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))

	if status == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "identity resolution failed", logger.Error(err))
	} else {
		slog.WarnContext(ctx, "credential rejected", logger.Error(err))
		cred, _ := identity.ParseCredential(r.Header.Get("Authorization"))
		c.auditLogger.Log(ctx, audit.Event{
			Type:      audit.TypeCredentialRejected,
			Resource:  cred.Tag,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{"reason": reason},
		})
	}

	switch status {
	case http.StatusNotImplemented:
		respondError(w, status, fmt.Sprintf("authentication scheme %q is not supported", unsupported.Scheme))
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `simplejwt realm="api"`)
		respondError(w, status, "invalid token")
	default:
		respondError(w, status, "failed to resolve identity")
	}
}
