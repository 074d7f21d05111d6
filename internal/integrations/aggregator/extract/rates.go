package extract

import (
	"encoding/json"
	"strconv"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/shopspring/decimal"
)

const rateResourceType = "rates"

type rateSource func(doc Document) []map[string]any

// Order matters: JSON:API "included" resources, then a flat "rates" array,
// then rates nested under data.attributes. The first non-empty source wins.
var rateSources = []rateSource{
	includedRates,
	objectsAt("rates"),
	objectsAt("data", "attributes", "rates"),
}

// Rates normalizes the offers in a quotation response. Offers explicitly marked
// unsuccessful are dropped; offers without a success flag are kept.
func Rates(doc Document) []models.RateOffer {
	if doc == nil {
		return nil
	}

	var raw []map[string]any
	for _, src := range rateSources {
		if raw = src(doc); len(raw) > 0 {
			break
		}
	}

	out := make([]models.RateOffer, 0, len(raw))
	for _, r := range raw {
		ok, present := boolField(r, "success")
		if present && !ok {
			continue
		}
		out = append(out, toOffer(r))
	}
	return out
}

func includedRates(doc Document) []map[string]any {
	var out []map[string]any
	for _, it := range objectsAt("included")(doc) {
		if t, _ := asString(it["type"]); t == rateResourceType {
			out = append(out, it)
		}
	}
	return out
}

func objectsAt(keys ...string) rateSource {
	return func(doc Document) []map[string]any {
		v, ok := Path(doc, keys...)
		if !ok {
			return nil
		}
		arr, ok := v.([]any)
		if !ok {
			return nil
		}
		out := make([]map[string]any, 0, len(arr))
		for _, it := range arr {
			if m, ok := asObject(it); ok {
				out = append(out, m)
			}
		}
		return out
	}
}

// field looks a key up on the resource itself, then under its attributes.
func field(r map[string]any, keys ...string) (any, bool) {
	attrs, _ := asObject(r["attributes"])
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v, true
		}
		if v, ok := attrs[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(r map[string]any, keys ...string) string {
	v, ok := field(r, keys...)
	if !ok {
		return ""
	}
	s, _ := asString(v)
	return s
}

func boolField(r map[string]any, key string) (value, present bool) {
	v, ok := field(r, key)
	if !ok {
		return false, false
	}
	return asBool(v)
}

func toOffer(r map[string]any) models.RateOffer {
	o := models.RateOffer{
		ID:       stringField(r, "id"),
		Provider: stringField(r, "provider_display_name", "provider_name", "provider", "carrier"),
		Service:  stringField(r, "provider_service_name", "service_level_name", "service"),
		Currency: stringField(r, "currency_code", "currency"),
		Amount:   decimalField(r, "total", "amount_local", "amount"),
		Success:  true,
	}
	if d, ok := intField(r, "days", "estimated_days"); ok {
		o.Days = &d
	}
	return o
}

func decimalField(r map[string]any, keys ...string) decimal.Decimal {
	v, ok := field(r, keys...)
	if !ok {
		return decimal.Zero
	}
	switch t := v.(type) {
	case json.Number:
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return d
		}
	case string:
		if d, err := decimal.NewFromString(t); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(t)
	}
	return decimal.Zero
}

func intField(r map[string]any, keys ...string) (int, bool) {
	v, ok := field(r, keys...)
	if !ok {
		return 0, false
	}
	s, ok := asString(v)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
