package api

import (
	"encoding/json"
	"errors"
)

// EmbeddingText accepts either a single JSON string or an array of
// strings, normalizing both to a slice.
type EmbeddingText []string

// UnmarshalJSON implements json.Unmarshaler.
func (e *EmbeddingText) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*e = EmbeddingText{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*e = EmbeddingText(many)
		return nil
	}
	return errors.New("input must be a string or an array of strings")
}

// MarshalJSON implements json.Marshaler. A single entry round-trips as a
// bare string.
func (e EmbeddingText) MarshalJSON() ([]byte, error) {
	if len(e) == 1 {
		return json.Marshal(e[0])
	}
	return json.Marshal([]string(e))
}
