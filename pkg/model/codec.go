package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Encode serializes an entity snapshot for storage.
func Encode(e *IntellectualEntity) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("encode entity: entity is nil")
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entity: %w", err)
	}
	return raw, nil
}

// Decode parses a serialized entity snapshot. Empty input and malformed
// documents are both decode failures; the store never holds either.
func Decode(raw []byte) (*IntellectualEntity, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("decode entity: empty payload")
	}
	var e IntellectualEntity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	return &e, nil
}
