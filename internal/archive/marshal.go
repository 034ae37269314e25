package archive

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/convlog/internal/ir"
)

// marshalBody converts a record body to canonical JSON TEXT.
func marshalBody(body ir.IRObject) (string, error) {
	if body == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

// unmarshalBody parses canonical JSON TEXT. An empty object decodes to a
// nil body so records round-trip unchanged.
func unmarshalBody(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var obj ir.IRObject
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	return obj, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
