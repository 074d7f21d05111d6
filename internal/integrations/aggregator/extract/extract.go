// Package extract reads values out of aggregator responses whose shape depends
// on the endpoint and API version. Every lookup is an ordered list of small
// strategies; the first one that finds a value wins.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is a decoded JSON object. Numbers are kept as json.Number.
type Document map[string]any

// Decode never fails: anything that is not a JSON object yields nil.
func Decode(body []byte) Document {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}
	return doc
}

type Extractor[T any] func(doc Document) (T, bool)

func First[T any](doc Document, strategies ...Extractor[T]) (T, bool) {
	for _, s := range strategies {
		if v, ok := s(doc); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Path walks nested objects.
func Path(doc Document, keys ...string) (any, bool) {
	var cur any = map[string]any(doc)
	for _, k := range keys {
		m, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func StringAt(keys ...string) Extractor[string] {
	return func(doc Document) (string, bool) {
		v, ok := Path(doc, keys...)
		if !ok {
			return "", false
		}
		s, ok := asString(v)
		return s, ok && s != ""
	}
}

func BoolAt(keys ...string) Extractor[bool] {
	return func(doc Document) (bool, bool) {
		v, ok := Path(doc, keys...)
		if !ok {
			return false, false
		}
		return asBool(v)
	}
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return t, true
	default:
		return nil, false
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case json.Number:
		return t.String(), true
	case float64, int, int64:
		return fmt.Sprint(t), true
	default:
		return "", false
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	}
	return false, false
}

var (
	quotationID = []Extractor[string]{
		StringAt("data", "id"),
		StringAt("data", "attributes", "id"),
		StringAt("id"),
	}
	quotationCompleted = []Extractor[bool]{
		BoolAt("data", "attributes", "is_completed"),
		BoolAt("data", "is_completed"),
		BoolAt("is_completed"),
	}
	trackingNumber = []Extractor[string]{
		StringAt("data", "attributes", "master_tracking_number"),
		StringAt("data", "attributes", "tracking_number"),
		StringAt("master_tracking_number"),
		StringAt("tracking_number"),
	}
	labelURL = []Extractor[string]{
		StringAt("data", "attributes", "label_url"),
		StringAt("label_url"),
	}
	shipmentID = []Extractor[string]{
		StringAt("data", "id"),
		StringAt("data", "attributes", "id"),
		StringAt("id"),
	}
)

func QuotationID(doc Document) (string, bool)  { return First(doc, quotationID...) }
func TrackingNumber(doc Document) (string, bool) { return First(doc, trackingNumber...) }
func LabelURL(doc Document) (string, bool)     { return First(doc, labelURL...) }
func ShipmentID(doc Document) (string, bool)   { return First(doc, shipmentID...) }

// QuotationCompleted reports false when the flag is absent: the aggregator is
// still pricing until it says otherwise.
func QuotationCompleted(doc Document) bool {
	done, _ := First(doc, quotationCompleted...)
	return done
}
