package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Keys the orchestrator adds to an order's shipping address after a purchase.
const (
	AddressKeyTrackingNumber = "tracking_number"
	AddressKeyLabelURL       = "label_url"
	AddressKeyShipmentID     = "skydropx_shipment_id"

	addressKeyRaw = "raw_address"
)

// Storefront checkouts have written the address blob with a few naming
// conventions over time; the first present alias wins.
var addressAliases = map[string][]string{
	"name":            {"name", "full_name", "recipient_name"},
	"email":           {"email"},
	"phone":           {"phone", "phone_number", "telephone"},
	"street":          {"street", "address1", "line1", "calle"},
	"exterior_number": {"exterior_number", "ext_number", "number", "num_ext"},
	"interior_number": {"interior_number", "int_number", "num_int"},
	"neighborhood":    {"neighborhood", "colonia", "area_level3"},
	"city":            {"city", "municipality", "area_level2"},
	"state":           {"state", "province", "area_level1"},
	"postal_code":     {"postal_code", "zip", "zip_code", "cp"},
	"country_code":    {"country_code", "country"},
	"reference":       {"delivery_instructions", "reference", "references"},
}

// ShippingAddress is the JSON blob an order stores as its shipping address.
// Unknown keys survive a read/modify/write cycle.
type ShippingAddress struct {
	fields map[string]any
	// raw is the original value when it was not a JSON object, e.g. a string
	// holding malformed JSON.
	raw any
}

// ParseShippingAddress accepts a JSON object or a JSON string that itself
// encodes an object. Anything else is kept verbatim and yields empty fields.
func ParseShippingAddress(b []byte) ShippingAddress {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ShippingAddress{}
	}

	var v any
	if err := decodeNumber(b, &v); err != nil {
		return ShippingAddress{raw: string(b)}
	}

	switch t := v.(type) {
	case map[string]any:
		return ShippingAddress{fields: t}
	case string:
		var inner map[string]any
		if err := decodeNumber([]byte(t), &inner); err == nil && inner != nil {
			return ShippingAddress{fields: inner}
		}
		return ShippingAddress{raw: t}
	default:
		return ShippingAddress{raw: t}
	}
}

func NewShippingAddress(fields map[string]any) ShippingAddress {
	return ShippingAddress{fields: fields}
}

func decodeNumber(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

// Get returns the value under key as a trimmed string. Numbers are formatted
// as they appeared in the document.
func (a ShippingAddress) Get(key string) string {
	v, ok := a.fields[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool, float64, int, int64:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

func (a ShippingAddress) lookup(field string) string {
	for _, key := range addressAliases[field] {
		if s := a.Get(key); s != "" {
			return s
		}
	}
	return ""
}

func (a ShippingAddress) Address() Address {
	return Address{
		Name:           a.lookup("name"),
		Email:          a.lookup("email"),
		Phone:          a.lookup("phone"),
		Street:         a.lookup("street"),
		ExteriorNumber: a.lookup("exterior_number"),
		InteriorNumber: a.lookup("interior_number"),
		Neighborhood:   a.lookup("neighborhood"),
		City:           a.lookup("city"),
		State:          a.lookup("state"),
		PostalCode:     a.lookup("postal_code"),
		CountryCode:    a.lookup("country_code"),
		Reference:      a.lookup("reference"),
	}
}

func (a ShippingAddress) TrackingNumber() string {
	return a.Get(AddressKeyTrackingNumber)
}

// WithShipment returns a copy carrying the shipment's tracking metadata.
func (a ShippingAddress) WithShipment(s Shipment) ShippingAddress {
	out := make(map[string]any, len(a.fields)+3)
	for k, v := range a.fields {
		out[k] = v
	}
	if a.fields == nil && a.raw != nil {
		out[addressKeyRaw] = a.raw
	}
	out[AddressKeyTrackingNumber] = s.TrackingNumber
	out[AddressKeyLabelURL] = s.LabelURL
	if s.ID != "" {
		out[AddressKeyShipmentID] = s.ID
	}
	return ShippingAddress{fields: out}
}

func (a ShippingAddress) MarshalJSON() ([]byte, error) {
	switch {
	case a.fields != nil:
		return json.Marshal(a.fields)
	case a.raw != nil:
		return json.Marshal(a.raw)
	default:
		return []byte("{}"), nil
	}
}

func (a *ShippingAddress) UnmarshalJSON(b []byte) error {
	*a = ParseShippingAddress(b)
	return nil
}
