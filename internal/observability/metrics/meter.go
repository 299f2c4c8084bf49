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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled     bool
	ServiceName string
}

// New returns the meter for the service. A disabled config yields a no-op meter.
func New(_ context.Context, cfg Config) metric.Meter {
	if !cfg.Enabled {
		return noop.NewMeterProvider().Meter(cfg.ServiceName)
	}
	return otel.Meter(cfg.ServiceName)
}

// ScopeInstruments are the instruments recorded around request scopes
type ScopeInstruments struct {
	Entered            metric.Int64Counter
	CredentialRejected metric.Int64Counter
	Active             metric.Int64UpDownCounter
	ResolveDuration    metric.Float64Histogram
}

// NewScopeInstruments registers the scope instruments on meter
func NewScopeInstruments(meter metric.Meter) (*ScopeInstruments, error) {
	entered, err := meter.Int64Counter(
		"tenantscope.scope.entered",
		metric.WithDescription("Request scopes installed in the registry"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter tenantscope.scope.entered: %w", err)
	}

	rejected, err := meter.Int64Counter(
		"tenantscope.credential.rejected",
		metric.WithDescription("Requests rejected during identity resolution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter tenantscope.credential.rejected: %w", err)
	}

	active, err := meter.Int64UpDownCounter(
		"tenantscope.registry.active",
		metric.WithDescription("Request scopes currently registered"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create up/down counter tenantscope.registry.active: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"tenantscope.resolve.duration",
		metric.WithDescription("Time spent resolving user and tenant before the handler runs"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram tenantscope.resolve.duration: %w", err)
	}

	return &ScopeInstruments{
		Entered:            entered,
		CredentialRejected: rejected,
		Active:             active,
		ResolveDuration:    duration,
	}, nil
}
