package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"killwatch/pkg/models"
)

// Int64List stores an int64 slice as a JSON text column.
type Int64List []int64

// Value implements driver.Valuer.
func (l Int64List) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *Int64List) Scan(v interface{}) error {
	return scanJSON(v, (*[]int64)(l))
}

// Int32List stores an int32 slice as a JSON text column.
type Int32List []int32

// Value implements driver.Valuer.
func (l Int32List) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]int32(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *Int32List) Scan(v interface{}) error {
	return scanJSON(v, (*[]int32)(l))
}

// RuleTagList stores matched rule tags as a JSON text column.
type RuleTagList []models.RuleTag

// Value implements driver.Valuer.
func (l RuleTagList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]models.RuleTag(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *RuleTagList) Scan(v interface{}) error {
	return scanJSON(v, (*[]models.RuleTag)(l))
}

func scanJSON(v interface{}, dst interface{}) error {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		if s == "" {
			return nil
		}
		return json.Unmarshal([]byte(s), dst)
	case []byte:
		if len(s) == 0 {
			return nil
		}
		return json.Unmarshal(s, dst)
	default:
		return fmt.Errorf("unsupported column type %T", v)
	}
}
