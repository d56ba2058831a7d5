package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONBMap is a custom type for handling JSONB data in PostgreSQL.
// It implements sql.Scanner and driver.Valuer so source metadata round-trips
// between Go's map[string]any and a JSONB column.
type JSONBMap map[string]any

// Scan implements the sql.Scanner interface.
func (j *JSONBMap) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for JSONBMap")
	}

	if len(data) == 0 {
		*j = JSONBMap{}
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements the driver.Valuer interface.
func (j JSONBMap) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return json.Marshal(j)
}
