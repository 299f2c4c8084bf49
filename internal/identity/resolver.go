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

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/opentrusty/tenantscope/internal/observability/logger"
)

// SessionSource provides the user bound to a request's session.
// It returns nil, nil when the request has no authenticated session.
type SessionSource interface {
	SessionUser(r *http.Request) (*User, error)
}

type credentialHandler func(ctx context.Context, cred Credential) (*User, error)

// Resolver derives the acting principal of a request from its Authorization
// header or, failing that, from its session.
type Resolver struct {
	users    UserRepository
	sessions SessionSource
	handlers map[Scheme]credentialHandler
}

// NewResolver creates a resolver. A nil verifier disables the simplejwt
// scheme; a nil session source makes requests session-incapable.
func NewResolver(users UserRepository, verifier *TokenVerifier, sessions SessionSource) *Resolver {
	r := &Resolver{
		users:    users,
		sessions: sessions,
		handlers: make(map[Scheme]credentialHandler),
	}
	if verifier != nil {
		r.handlers[SchemeSimpleJWT] = func(ctx context.Context, cred Credential) (*User, error) {
			return r.userFromToken(ctx, verifier, cred.Token)
		}
	}
	return r
}

// Resolve returns the principal for req. Only recognized but unusable
// credentials produce an error; everything else resolves to a user or
// Anonymous.
func (r *Resolver) Resolve(req *http.Request) (Principal, error) {
	ctx := req.Context()

	if cred, ok := ParseCredential(req.Header.Get("Authorization")); ok && cred.Recognized() {
		handle, supported := r.handlers[cred.Scheme]
		if !supported {
			return nil, &UnsupportedSchemeError{Scheme: cred.Tag}
		}
		user, err := handle(ctx, cred)
		if err != nil {
			return nil, err
		}
		return user, nil
	}

	if r.sessions != nil {
		user, err := r.sessions.SessionUser(req)
		if err != nil {
			slog.WarnContext(ctx, "session lookup failed, resolving as anonymous", logger.Error(err))
		} else if user != nil {
			return user, nil
		}
	}

	return Anonymous, nil
}

func (r *Resolver) userFromToken(ctx context.Context, verifier *TokenVerifier, raw string) (*User, error) {
	claims, err := verifier.Verify(raw)
	if err != nil {
		return nil, err
	}

	user, err := r.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load token subject: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, ErrUserNotFound)
	}
	if !user.Active {
		return nil, fmt.Errorf("%w: user is inactive", ErrInvalidToken)
	}
	return user, nil
}
