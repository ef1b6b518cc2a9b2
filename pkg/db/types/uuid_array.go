// Package dbtypes holds column types shared by the gorm models.
package dbtypes

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// UUIDArray maps a Postgres uuid[] column through lib/pq's array codec. Tests on sqlite keep the
// same literal as text.
type UUIDArray []uuid.UUID

func (a *UUIDArray) Scan(src any) error {
	if src == nil || isEmptyLiteral(src) {
		*a = UUIDArray{}
		return nil
	}
	ids := []uuid.UUID{}
	codec := pq.GenericArray{A: &ids}
	if err := codec.Scan(src); err != nil {
		return fmt.Errorf("uuid array: %w", err)
	}
	*a = ids
	return nil
}

func (a UUIDArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	return pq.GenericArray{A: []uuid.UUID(a)}.Value()
}

func (a UUIDArray) Strings() []string {
	out := make([]string, len(a))
	for i, id := range a {
		out[i] = id.String()
	}
	return out
}

func isEmptyLiteral(src any) bool {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return false
	}
	s = strings.Join(strings.Fields(s), "")
	return s == "" || s == "{}"
}
