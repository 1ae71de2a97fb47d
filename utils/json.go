package utils

import "encoding/json"

// MustJSON is for values that are always marshalable (maps of strings, decoded structs).
func MustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
