package fhir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// NewSearchBundle creates a searchset Bundle from already-encoded resources.
func NewSearchBundle(resources ...interface{}) (*Bundle, error) {
	entries := make([]BundleEntry, 0, len(resources))
	for i, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshal entry %d: %w", i, err)
		}
		entries = append(entries, BundleEntry{
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		})
	}
	total := len(entries)
	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Entry:        entries,
	}, nil
}

// Len returns the number of entries carried by the bundle.
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Entry)
}

// DecodeEntry unmarshals the resource of entry i into v.
func (b *Bundle) DecodeEntry(i int, v interface{}) error {
	if i < 0 || i >= b.Len() {
		return fmt.Errorf("bundle entry %d out of range (len %d)", i, b.Len())
	}
	raw := bytes.TrimSpace(b.Entry[i].Resource)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("bundle entry %d has no resource", i)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode bundle entry %d: %w", i, err)
	}
	return nil
}

// NextLink returns the URL of the "next" page link, or "" when there is none.
func (b *Bundle) NextLink() string {
	if b == nil {
		return ""
	}
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

// FormatReference builds a relative literal reference such as "Patient/123".
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// ParseReference splits a relative literal reference into type and id.
func ParseReference(ref string) (resourceType, id string, ok bool) {
	parts := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	resourceType, id = parts[len(parts)-2], parts[len(parts)-1]
	if resourceType == "" || id == "" {
		return "", "", false
	}
	return resourceType, id, true
}
