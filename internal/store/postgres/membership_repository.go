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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opentrusty/tenantscope/internal/tenant"
)

const membershipColumns = `id, tenant_id, user_id, role, is_active, created_at, activated_at`

// MembershipRepository implements tenant.MembershipRepository
type MembershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// Create creates a new membership. An active membership deactivates the
// user's other memberships in the same transaction.
func (r *MembershipRepository) Create(ctx context.Context, m *tenant.Membership) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if m.IsActive {
			if _, err := tx.Exec(ctx, `
				UPDATE memberships SET is_active = FALSE
				WHERE user_id = $1 AND is_active
			`, m.UserID); err != nil {
				return fmt.Errorf("failed to deactivate memberships: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO memberships (`+membershipColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, m.TenantID, m.UserID, m.Role, m.IsActive, m.CreatedAt, m.ActivatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("membership already exists: %w", err)
			}
			return fmt.Errorf("failed to create membership: %w", err)
		}
		return nil
	})
}

// FindActive returns the active membership of a user
func (r *MembershipRepository) FindActive(ctx context.Context, userID string) (*tenant.Membership, error) {
	return r.queryOne(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE user_id = $1 AND is_active
	`, userID)
}

// Find returns the membership between a tenant and a user
func (r *MembershipRepository) Find(ctx context.Context, tenantID, userID string) (*tenant.Membership, error) {
	return r.queryOne(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)
}

// Activate makes membershipID the only active membership of its user.
// Every membership of the user is locked first so concurrent activations
// for the same user serialize.
func (r *MembershipRepository) Activate(ctx context.Context, membershipID string) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx, `
			SELECT user_id FROM memberships WHERE id = $1
		`, membershipID).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return tenant.ErrMembershipNotFound
			}
			return fmt.Errorf("failed to find membership: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			SELECT id FROM memberships WHERE user_id = $1 ORDER BY id FOR UPDATE
		`, userID); err != nil {
			return fmt.Errorf("failed to lock memberships: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE memberships SET is_active = FALSE
			WHERE user_id = $1 AND id <> $2 AND is_active
		`, userID, membershipID); err != nil {
			return fmt.Errorf("failed to deactivate memberships: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE memberships SET is_active = TRUE, activated_at = $2
			WHERE id = $1
		`, membershipID, time.Now()); err != nil {
			return fmt.Errorf("failed to activate membership: %w", err)
		}
		return nil
	})
}

func (r *MembershipRepository) queryOne(ctx context.Context, query string, args ...any) (*tenant.Membership, error) {
	var m tenant.Membership
	err := r.db.pool.QueryRow(ctx, query, args...).Scan(
		&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.IsActive, &m.CreatedAt, &m.ActivatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}
