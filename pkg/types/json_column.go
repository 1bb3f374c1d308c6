package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// scanJSON decodes a json/jsonb column. Drivers hand back either string or
// []byte depending on dialect.
func scanJSON(value any, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("json column: unsupported Scan type %T", value)
	}
}

// valueJSON encodes a json/jsonb column as text so both postgres simple
// protocol and sqlite accept it.
func valueJSON(src any) (driver.Value, error) {
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// JSONMap is a free-form json object column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return valueJSON(map[string]any(m))
}

func (m *JSONMap) Scan(value any) error {
	out := map[string]any{}
	if err := scanJSON(value, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
