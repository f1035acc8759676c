package datasync

import (
	"encoding/json"
	"strings"
)

// Phase describes one step of a snapshot download.
//
// A root phase (Source == "") fetches the whole collection for the tenant.
// A dependent phase collects SourceField values from the already downloaded
// Source collection and fetches the records whose Field matches one of them.
type Phase struct {
	Collection  string
	Message     string
	Field       string
	Source      string
	SourceField string
}

// Dependent reports whether the phase is keyed by an earlier collection.
func (p Phase) Dependent() bool {
	return p.Source != ""
}

// DefaultPhases is the download plan for the shopping-list working set:
// lists, their items, the products those items reference, baskets and
// basket items.
func DefaultPhases() []Phase {
	return []Phase{
		{Collection: "lists", Message: "Downloading lists"},
		{Collection: "list_items", Message: "Downloading list items", Field: "list_id", Source: "lists", SourceField: "id"},
		{Collection: "products", Message: "Downloading products", Field: "id", Source: "list_items", SourceField: "product_id"},
		{Collection: "baskets", Message: "Downloading baskets"},
		{Collection: "basket_items", Message: "Downloading basket items", Field: "basket_id", Source: "baskets", SourceField: "id"},
	}
}

// collectKeys возвращает уникальные значения поля field в порядке первого появления.
// Записи без поля или с null пропускаются.
func collectKeys(records []json.RawMessage, field string) []string {
	seen := make(map[string]struct{}, len(records))
	keys := make([]string, 0, len(records))

	for _, record := range records {
		key := fieldValue(record, field)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func fieldValue(record json.RawMessage, field string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(record, &obj); err != nil {
		return ""
	}
	raw, ok := obj[field]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	value := strings.TrimSpace(string(raw))
	if value == "null" {
		return ""
	}
	return value
}
