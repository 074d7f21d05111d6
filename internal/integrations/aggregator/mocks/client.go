package mocks

import (
	"context"
	"net/http"

	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/extract"
	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

var _ aggregator.Client = (*MockClient)(nil)

func (m *MockClient) CreateQuotation(ctx context.Context, auth http.Header, req aggregator.QuotationRequest) (extract.Document, error) {
	args := m.Called(ctx, auth, req)
	return doc(args.Get(0)), args.Error(1)
}

func (m *MockClient) GetQuotation(ctx context.Context, auth http.Header, quotationID string) (extract.Document, error) {
	args := m.Called(ctx, auth, quotationID)
	return doc(args.Get(0)), args.Error(1)
}

func (m *MockClient) CreateShipment(ctx context.Context, auth http.Header, req aggregator.ShipmentRequest) (extract.Document, error) {
	args := m.Called(ctx, auth, req)
	return doc(args.Get(0)), args.Error(1)
}

func doc(v any) extract.Document {
	if v == nil {
		return nil
	}
	return v.(extract.Document)
}
