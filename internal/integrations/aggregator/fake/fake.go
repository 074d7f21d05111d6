package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"

	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/extract"
	"github.com/google/uuid"
)

var namespace = uuid.MustParse("6f1c44a4-5d5e-4b8e-9a43-0c1f9c1d2b70")

// Client is an in-process aggregator for local runs. Quotations complete on
// the first poll; prices and tracking numbers are derived from the ids.
type Client struct {
	mu     sync.Mutex
	orders map[string]string // quotation id -> order id
}

var _ aggregator.Client = (*Client)(nil)

func New() *Client {
	return &Client{orders: make(map[string]string)}
}

func (c *Client) CreateQuotation(_ context.Context, _ http.Header, req aggregator.QuotationRequest) (extract.Document, error) {
	id := uuid.NewSHA1(namespace, []byte("quotation|"+req.Quotation.OrderID+"|"+req.Quotation.AddressTo.PostalCode)).String()

	c.mu.Lock()
	c.orders[id] = req.Quotation.OrderID
	c.mu.Unlock()

	return extract.Document{
		"data": map[string]any{
			"id":         id,
			"type":       "quotations",
			"attributes": map[string]any{"is_completed": false},
		},
	}, nil
}

func (c *Client) GetQuotation(_ context.Context, _ http.Header, quotationID string) (extract.Document, error) {
	v := hash(quotationID)

	carriers := []string{"estafeta", "fedex", "dhl"}
	included := make([]any, 0, len(carriers))
	for i, name := range carriers {
		cents := 9900 + int(v%10000) + i*2500
		included = append(included, map[string]any{
			"id":   fmt.Sprintf("%s-%s", quotationID, name),
			"type": "rates",
			"attributes": map[string]any{
				"success":               true,
				"provider_display_name": name,
				"provider_service_name": "standard",
				"total":                 fmt.Sprintf("%d.%02d", cents/100, cents%100),
				"currency_code":         "MXN",
				"days":                  2 + i,
			},
		})
	}

	return extract.Document{
		"data": map[string]any{
			"id":         quotationID,
			"type":       "quotations",
			"attributes": map[string]any{"is_completed": true},
		},
		"included": included,
	}, nil
}

func (c *Client) CreateShipment(_ context.Context, _ http.Header, req aggregator.ShipmentRequest) (extract.Document, error) {
	key := req.Shipment.QuotationID + "|" + req.Shipment.RateID + "|" + req.IdempotencyKey
	id := uuid.NewSHA1(namespace, []byte("shipment|"+key)).String()
	tracking := fmt.Sprintf("FK%010d", hash(key)%10_000_000_000)

	return extract.Document{
		"data": map[string]any{
			"id":   id,
			"type": "shipments",
			"attributes": map[string]any{
				"master_tracking_number": tracking,
				"label_url":              "https://labels.invalid/" + id + ".pdf",
			},
		},
	}, nil
}

func hash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
