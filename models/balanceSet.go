package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceSet maps balance id -> amount. Reconciliation records store the
// expected and actual sets through this single codec; nothing else in the
// codebase hand-marshals map columns.
type BalanceSet map[int]decimal.Decimal

func (s BalanceSet) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *BalanceSet) Scan(value interface{}) error {
	if value == nil {
		*s = BalanceSet{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into BalanceSet", value)
	}
	if len(raw) == 0 {
		*s = BalanceSet{}
		return nil
	}
	return json.Unmarshal(raw, s)
}

// Equal compares two sets exactly. Used by the reconciliation idempotence
// check, which must reproduce identical sets on re-run.
func (s BalanceSet) Equal(o BalanceSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id, amt := range s {
		other, ok := o[id]
		if !ok || !amt.Equal(other) {
			return false
		}
	}
	return true
}
