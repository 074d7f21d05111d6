package shipping_api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/services/quotations"
	"github.com/BearBump/ShipBox/internal/services/shipments"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
)

const maxBodySize = 1 << 20

type QuotationService interface {
	CreateQuotation(ctx context.Context, in quotations.CreateQuotationInput) (models.Quotation, error)
	RefreshQuotation(ctx context.Context, quotationID string) (models.Quotation, error)
}

type ShipmentService interface {
	IssueShipment(ctx context.Context, in shipments.IssueShipmentInput) (models.Shipment, error)
}

type ShippingAPI struct {
	quotes QuotationService
	ships  ShipmentService
}

func New(quotes QuotationService, ships ShipmentService) *ShippingAPI {
	return &ShippingAPI{quotes: quotes, ships: ships}
}

// Register mounts the REST routes on a gateway mux.
func (a *ShippingAPI) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, path string
		h            runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/orders/{order_id}/quotations", a.createQuotation},
		{http.MethodGet, "/v1/quotations/{quotation_id}", a.getQuotation},
		{http.MethodPost, "/v1/orders/{order_id}/shipments", a.issueShipment},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, rt.h); err != nil {
			return errors.Wrapf(err, "register %s %s", rt.method, rt.path)
		}
	}
	return nil
}

type CreateQuotationRequest struct {
	Package models.PackageSpec `json:"package"`
	Sender  *models.Address    `json:"sender,omitempty"`
}

type IssueShipmentRequest struct {
	QuotationID string          `json:"quotation_id"`
	RateID      string          `json:"rate_id"`
	Sender      *models.Address `json:"sender,omitempty"`
}

const (
	QuotationStatusCompleted = "completed"
	QuotationStatusPending   = "pending"
)

// QuotationResponse tells "still pricing" apart from "priced, no offers"
// through Status.
type QuotationResponse struct {
	QuotationID string             `json:"quotation_id"`
	OrderID     string             `json:"order_id,omitempty"`
	Status      string             `json:"status"`
	Attempts    int                `json:"attempts"`
	Rates       []models.RateOffer `json:"rates"`
	FetchedAt   time.Time          `json:"fetched_at"`
}

type ShipmentResponse struct {
	OrderID        string `json:"order_id"`
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url,omitempty"`
	ShipmentID     string `json:"shipment_id,omitempty"`
}

func (a *ShippingAPI) createQuotation(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req CreateQuotationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	q, err := a.quotes.CreateQuotation(r.Context(), quotations.CreateQuotationInput{
		OrderID: params["order_id"],
		Package: req.Package,
		Sender:  req.Sender,
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeOK(w, http.StatusOK, toQuotationResponse(q))
}

func (a *ShippingAPI) getQuotation(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q, err := a.quotes.RefreshQuotation(r.Context(), params["quotation_id"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeOK(w, http.StatusOK, toQuotationResponse(q))
}

func (a *ShippingAPI) issueShipment(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req IssueShipmentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err, nil)
		return
	}
	sh, err := a.ships.IssueShipment(r.Context(), shipments.IssueShipmentInput{
		OrderID:     params["order_id"],
		QuotationID: req.QuotationID,
		RateID:      req.RateID,
		Sender:      req.Sender,
	})
	if err != nil {
		// the label may already be bought; hand the caller what we have
		var data any
		if sh.TrackingNumber != "" {
			data = toShipmentResponse(sh)
		}
		writeError(w, err, data)
		return
	}
	writeOK(w, http.StatusCreated, toShipmentResponse(sh))
}

func toQuotationResponse(q models.Quotation) QuotationResponse {
	status := QuotationStatusPending
	if q.Completed {
		status = QuotationStatusCompleted
	}
	rates := q.Rates
	if rates == nil {
		rates = []models.RateOffer{}
	}
	return QuotationResponse{
		QuotationID: q.ID,
		OrderID:     q.OrderID,
		Status:      status,
		Attempts:    q.Attempts,
		Rates:       rates,
		FetchedAt:   q.FetchedAt,
	}
}

func toShipmentResponse(sh models.Shipment) ShipmentResponse {
	return ShipmentResponse{
		OrderID:        sh.OrderID,
		TrackingNumber: sh.TrackingNumber,
		LabelURL:       sh.LabelURL,
		ShipmentID:     sh.ID,
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return shiperr.Validation("request body is required")
		}
		return shiperr.Validation("invalid request body: %v", err)
	}
	return nil
}
