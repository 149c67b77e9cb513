package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
)

// StringArray stores an ordered list of strings as a JSON text column so
// the same model works on PostgreSQL, MySQL and SQLite.
type StringArray []string

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return a.scanText(string(v))
	case string:
		return a.scanText(v)
	default:
		return errors.New("StringArray: unsupported scan type")
	}
}

func (a *StringArray) scanText(s string) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		*a = StringArray{}
		return nil
	case strings.HasPrefix(s, "["):
		return json.Unmarshal([]byte(s), a)
	default:
		// Legacy rows hold a single bare value.
		*a = StringArray{s}
		return nil
	}
}

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (StringArray) GormDataType() string {
	return "text"
}
