package sqlutil

import "database/sql"

// Helper functions for converting between Go types and sql.Null* types

// ToSqlInt16 converts a Go int to sql.NullInt16
func ToSqlInt16(val int) sql.NullInt16 {
	return sql.NullInt16{Int16: int16(val), Valid: true}
}

// FromSqlInt16Ptr converts sql.NullInt16 to Go int pointer
func FromSqlInt16Ptr(val sql.NullInt16) *int {
	if !val.Valid {
		return nil
	}
	i := int(val.Int16)
	return &i
}
