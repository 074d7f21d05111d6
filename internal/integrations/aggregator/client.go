package aggregator

import (
	"context"
	"net/http"

	"github.com/BearBump/ShipBox/internal/integrations/aggregator/extract"
)

// Client talks to the carrier aggregator. Responses are returned undecoded
// into types because their shape is not stable; callers use package extract.
// auth carries the Authorization header resolved for the current workflow.
type Client interface {
	CreateQuotation(ctx context.Context, auth http.Header, req QuotationRequest) (extract.Document, error)
	GetQuotation(ctx context.Context, auth http.Header, quotationID string) (extract.Document, error)
	CreateShipment(ctx context.Context, auth http.Header, req ShipmentRequest) (extract.Document, error)
}
