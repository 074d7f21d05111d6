package messages

import "time"

const TopicShipmentPurchased = "shipment.purchased"

// ShipmentPurchased is published once a label is bought, before the order row
// is updated. The worker replays it into the order when that update is lost.
type ShipmentPurchased struct {
	OrderID     string    `json:"order_id"`
	QuotationID string    `json:"quotation_id"`
	RateID      string    `json:"rate_id"`
	ShipmentID  string    `json:"shipment_id,omitempty"`
	Tracking    string    `json:"tracking_number"`
	LabelURL    string    `json:"label_url,omitempty"`
	Attempt     int64     `json:"attempt,omitempty"`
	PurchasedAt time.Time `json:"purchased_at"`
}
