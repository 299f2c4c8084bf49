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
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrInvalidToken      = errors.New("invalid or expired token")
)

// Principal is the identity acting on behalf of a request.
// It is either an authenticated *User or Anonymous.
type Principal interface {
	IsAnonymous() bool
	// Subject returns the user ID, or "" for the anonymous principal.
	Subject() string
}

type anonymous struct{}

func (anonymous) IsAnonymous() bool { return true }
func (anonymous) Subject() string   { return "" }
func (anonymous) String() string    { return "anonymous" }

// Anonymous is the principal of a request that carries no usable identity.
var Anonymous Principal = anonymous{}

// User represents an authenticated user identity
type User struct {
	ID         string
	Email      string
	Name       string
	Active     bool
	Attributes map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u *User) IsAnonymous() bool { return false }
func (u *User) Subject() string   { return u.ID }

// UserOf returns the authenticated user behind p, if any.
func UserOf(p Principal) (*User, bool) {
	u, ok := p.(*User)
	if !ok || u == nil {
		return nil, false
	}
	return u, true
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID. It returns nil, nil when no such user exists.
	GetByID(ctx context.Context, id string) (*User, error)
}
