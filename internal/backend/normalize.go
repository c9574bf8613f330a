package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeList accepts the three shapes the backend produces for collections:
// a bare list, a paginated {"results": [...]} envelope, or a single object.
// null and {} decode to an empty list.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return items, nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		if len(probe) == 0 {
			return nil, nil
		}
		if results, ok := probe["results"]; ok {
			return decodeList[T](results)
		}
		var item T
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		return []T{item}, nil
	default:
		return nil, fmt.Errorf("decode list: unexpected JSON %q", string(trimmed[:1]))
	}
}
