package mocks

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockOrderStore struct {
	mock.Mock
}

func (m *MockOrderStore) ReadShipping(ctx context.Context, orderID string) (models.OrderShipping, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(models.OrderShipping), args.Error(1)
}

func (m *MockOrderStore) WriteShipping(ctx context.Context, orderID string, addr models.ShippingAddress, status string) error {
	args := m.Called(ctx, orderID, addr, status)
	return args.Error(0)
}
