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
	"errors"
	"fmt"
)

// ErrUnknownStrategy is returned for a tenant strategy outside the recognized set.
var ErrUnknownStrategy = errors.New("unknown tenant strategy")

// ConfigError reports a tenancy misconfiguration. It is fatal at startup and
// never produced while serving a request.
type ConfigError struct {
	Setting string
	Value   string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Setting, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Strategy selects how the tenant of a request is determined.
type Strategy string

const (
	// ByUser uses the active membership of the authenticated user.
	ByUser Strategy = "by_user"
	// ByURL maps the request host to a tenant slug and activates the
	// user's membership in that tenant.
	ByURL Strategy = "by_url"
)

// ParseStrategy validates a TENANT_STRATEGY value.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case ByUser, ByURL:
		return Strategy(s), nil
	default:
		return "", &ConfigError{Setting: "TENANT_STRATEGY", Value: s, Err: ErrUnknownStrategy}
	}
}

func (s Strategy) String() string { return string(s) }
