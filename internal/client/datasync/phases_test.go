package datasync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func raw(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item))
	}
	return out
}

func TestCollectKeys(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		records  []json.RawMessage
		expected []string
	}{
		{
			name:     "string ids in first-seen order",
			field:    "id",
			records:  raw(`{"id":"b"}`, `{"id":"a"}`, `{"id":"b"}`),
			expected: []string{"b", "a"},
		},
		{
			name:     "numeric ids",
			field:    "product_id",
			records:  raw(`{"product_id":7}`, `{"product_id":12}`),
			expected: []string{"7", "12"},
		},
		{
			name:     "missing and null fields skipped",
			field:    "product_id",
			records:  raw(`{"id":"x"}`, `{"product_id":null}`, `{"product_id":"p1"}`),
			expected: []string{"p1"},
		},
		{
			name:     "non-object records skipped",
			field:    "id",
			records:  raw(`[1,2]`, `"str"`, `{"id":"ok"}`),
			expected: []string{"ok"},
		},
		{
			name:     "empty input",
			field:    "id",
			records:  nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, collectKeys(tt.records, tt.field))
		})
	}
}

func TestDefaultPhases(t *testing.T) {
	phases := DefaultPhases()

	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, p.Collection)
	}
	assert.Equal(t, []string{"lists", "list_items", "products", "baskets", "basket_items"}, names)

	// каждая зависимая фаза ссылается на более раннюю коллекцию
	seen := map[string]bool{}
	for _, p := range phases {
		if p.Dependent() {
			assert.True(t, seen[p.Source], "phase %s depends on %s", p.Collection, p.Source)
			assert.NotEmpty(t, p.Field)
			assert.NotEmpty(t, p.SourceField)
		}
		seen[p.Collection] = true
	}
}
