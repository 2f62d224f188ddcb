package model

import (
	"encoding/json"
	"sync"
)

// DescriptiveMetadata is the format-agnostic descriptive block of an
// entity. The payload is an opaque document in the named format; the
// repository only needs the searchable text out of it, which a
// registered TextExtractor provides.
type DescriptiveMetadata struct {
	ID      string          `json:"id"`
	Format  string          `json:"format,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SearchableText holds the analyzed fields the search index cares about.
type SearchableText struct {
	Title       string
	Description string
}

// TextExtractor pulls searchable text out of a format-specific payload.
// Deployments register one extractor per descriptive-metadata format.
type TextExtractor func(payload json.RawMessage) SearchableText

var (
	extractorsMu sync.RWMutex
	extractors   = map[string]TextExtractor{}
)

// RegisterExtractor installs the extractor for a descriptive-metadata
// format. Later registrations for the same format win.
func RegisterExtractor(format string, fn TextExtractor) {
	extractorsMu.Lock()
	defer extractorsMu.Unlock()
	extractors[format] = fn
}

// SearchableText runs the registered extractor for the metadata format.
// Unknown formats and nil metadata yield empty text, never an error.
func (d *DescriptiveMetadata) SearchableText() SearchableText {
	if d == nil || len(d.Payload) == 0 {
		return SearchableText{}
	}
	extractorsMu.RLock()
	fn, ok := extractors[d.Format]
	extractorsMu.RUnlock()
	if !ok {
		return SearchableText{}
	}
	return fn(d.Payload)
}

// FormatDublinCore is the descriptive-metadata format served by the
// built-in extractor. The payload is a flat element container in the
// shape {"title": ["..."], "description": ["..."]}.
const FormatDublinCore = "dublin-core"

func init() {
	RegisterExtractor(FormatDublinCore, extractDublinCore)
}

func extractDublinCore(payload json.RawMessage) SearchableText {
	var doc map[string][]string
	if err := json.Unmarshal(payload, &doc); err != nil {
		return SearchableText{}
	}
	var out SearchableText
	if titles := doc["title"]; len(titles) > 0 {
		out.Title = titles[0]
	}
	if descs := doc["description"]; len(descs) > 0 {
		out.Description = descs[0]
	}
	return out
}
