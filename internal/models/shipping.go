package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusShipped = "shipped"

	// TrackingNumberPending is stored when the aggregator accepted the shipment
	// but has not assigned a tracking number yet.
	TrackingNumberPending = "GENERADA"
)

type PackageSpec struct {
	Weight float64 `json:"weight" validate:"gt=0"`
	Length float64 `json:"length" validate:"gt=0"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

type Address struct {
	Name           string `json:"name,omitempty" yaml:"name"`
	Company        string `json:"company,omitempty" yaml:"company"`
	Email          string `json:"email,omitempty" yaml:"email"`
	Phone          string `json:"phone,omitempty" yaml:"phone"`
	Street         string `json:"street,omitempty" yaml:"street"`
	ExteriorNumber string `json:"exterior_number,omitempty" yaml:"exterior_number"`
	InteriorNumber string `json:"interior_number,omitempty" yaml:"interior_number"`
	Neighborhood   string `json:"neighborhood,omitempty" yaml:"neighborhood"`
	City           string `json:"city,omitempty" yaml:"city"`
	State          string `json:"state,omitempty" yaml:"state"`
	PostalCode     string `json:"postal_code,omitempty" yaml:"postal_code"`
	CountryCode    string `json:"country_code,omitempty" yaml:"country_code"`
	// Reference holds delivery instructions for recipients and the internal
	// reference for the sender profile.
	Reference string `json:"reference,omitempty" yaml:"reference"`
}

type RateOffer struct {
	ID       string          `json:"id"`
	Provider string          `json:"provider"`
	Service  string          `json:"service"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
	Days     *int            `json:"days,omitempty"`
	Success  bool            `json:"success"`
}

type Quotation struct {
	ID        string      `json:"id"`
	OrderID   string      `json:"order_id,omitempty"`
	Completed bool        `json:"completed"`
	Attempts  int         `json:"attempts"`
	Rates     []RateOffer `json:"rates"`
	FetchedAt time.Time   `json:"fetched_at"`
}

type Shipment struct {
	ID             string `json:"id,omitempty"`
	OrderID        string `json:"order_id"`
	QuotationID    string `json:"quotation_id"`
	RateID         string `json:"rate_id"`
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url,omitempty"`
}

// OrderShipping is the slice of an order the orchestrator reads.
type OrderShipping struct {
	OrderID string
	Address ShippingAddress
	Total   decimal.Decimal
	Email   string
	Status  string
}
