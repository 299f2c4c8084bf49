package tenant

import (
	"context"

	"github.com/opentrusty/tenantscope/internal/audit"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) Create(ctx context.Context, t *Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockRepo) GetByID(ctx context.Context, id string) (*Tenant, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(*Tenant), args.Error(1)
}

func (m *mockRepo) FindBySlug(ctx context.Context, slug string) (*Tenant, error) {
	args := m.Called(ctx, slug)
	return args.Get(0).(*Tenant), args.Error(1)
}

type mockMembershipRepo struct {
	mock.Mock
}

func (m *mockMembershipRepo) Create(ctx context.Context, ms *Membership) error {
	args := m.Called(ctx, ms)
	return args.Error(0)
}

func (m *mockMembershipRepo) FindActive(ctx context.Context, userID string) (*Membership, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(*Membership), args.Error(1)
}

func (m *mockMembershipRepo) Find(ctx context.Context, tenantID, userID string) (*Membership, error) {
	args := m.Called(ctx, tenantID, userID)
	return args.Get(0).(*Membership), args.Error(1)
}

func (m *mockMembershipRepo) Activate(ctx context.Context, membershipID string) error {
	args := m.Called(ctx, membershipID)
	return args.Error(0)
}

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) Log(ctx context.Context, event audit.Event) {
	m.Called(ctx, event)
}
