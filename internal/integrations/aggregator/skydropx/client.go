package skydropx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/extract"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

const (
	DefaultBaseURL = "https://pro.skydropx.com/api/v1"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 4 << 20
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

var _ aggregator.Client = (*Client)(nil)

func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) CreateQuotation(ctx context.Context, auth http.Header, req aggregator.QuotationRequest) (extract.Document, error) {
	return c.do(ctx, http.MethodPost, "/quotations", auth, req, nil, "create quotation")
}

func (c *Client) GetQuotation(ctx context.Context, auth http.Header, quotationID string) (extract.Document, error) {
	return c.do(ctx, http.MethodGet, "/quotations/"+url.PathEscape(quotationID), auth, nil, nil, "get quotation")
}

func (c *Client) CreateShipment(ctx context.Context, auth http.Header, req aggregator.ShipmentRequest) (extract.Document, error) {
	var extra http.Header
	if req.IdempotencyKey != "" {
		extra = http.Header{"Idempotency-Key": []string{req.IdempotencyKey}}
	}
	return c.do(ctx, http.MethodPost, "/shipments", auth, req, extra, "create shipment")
}

func (c *Client) do(ctx context.Context, method, path string, auth http.Header, body any, extra http.Header, op string) (extract.Document, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal "+op)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range []http.Header{auth, extra} {
		for k, vs := range h {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	if resp.StatusCode/100 != 2 {
		return nil, shiperr.Provider(op, resp.StatusCode, raw)
	}

	doc := extract.Decode(raw)
	if doc == nil {
		doc = extract.Document{}
	}
	return doc, nil
}
