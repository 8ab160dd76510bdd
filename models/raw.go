package models

import (
	"sort"
	"strings"
)

// RawListing is the loosely-typed record an extractor produces. It never outlives a pipeline pass.
type RawListing struct {
	SourceURL    string            `json:"source_url"`
	Source       Source            `json:"source"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	PriceText    string            `json:"price_text"`
	LocationText string            `json:"location_text"`
	ImageURLs    []string          `json:"image_urls"`
	ContactPhone string            `json:"contact_phone,omitempty"`
	ContactEmail string            `json:"contact_email,omitempty"`
	Fields       map[string]string `json:"fields,omitempty"` // detail-table cells keyed by lowercased label
}

// Field returns the first labeled cell whose key starts with one of the given prefixes.
func (r *RawListing) Field(prefixes ...string) (string, bool) {
	for _, prefix := range prefixes {
		if v, ok := r.Fields[prefix]; ok && v != "" {
			return v, true
		}
	}
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, prefix := range prefixes {
		for _, k := range keys {
			if v := r.Fields[k]; v != "" && strings.HasPrefix(k, prefix) {
				return v, true
			}
		}
	}
	return "", false
}
