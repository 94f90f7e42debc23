package models

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONMap is a JSON object column (jsonb on PostgreSQL).
type JSONMap map[string]interface{}

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.Errorf("unsupported type for JSONMap: %T", value)
	}
	return json.Unmarshal(bytes, j)
}

// JSONList is a JSON array column (jsonb on PostgreSQL).
type JSONList []map[string]interface{}

func (j JSONList) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONList) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.Errorf("unsupported type for JSONList: %T", value)
	}
	return json.Unmarshal(bytes, j)
}
