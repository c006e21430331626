package repository

import (
	"encoding/json"
	"fmt"
)

// State documents are stored as JSON text columns so the same repository code
// serves SQLite and PostgreSQL.

func encodeColumn(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	return string(data), nil
}

func decodeColumn(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}
