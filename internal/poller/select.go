package poller

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SelectPath walks a JSON document using dot notation and returns the value
// found at path, re-encoded as JSON.
//
// Object members are addressed by name and array elements by index, so
// "data.items.0.id" navigates {"data": {"items": [{"id": 7}]}} to 7.
// A missing member or out-of-range index yields [ErrPathNotFound].
func SelectPath(body []byte, path string) (json.RawMessage, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, ErrInvalidJSON
	}

	current := doc
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("%w: %q", ErrPathNotFound, path)
		}
	}

	out, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("re-encode selection: %w", err)
	}
	return out, nil
}
