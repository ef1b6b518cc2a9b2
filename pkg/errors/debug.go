package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the message, the typed code and step, the
// unwrap chain, and any Postgres diagnostics from either pgx or lib/pq. Empty values are omitted.
func LogFields(err error) map[string]any {
	if err == nil {
		return nil
	}
	fields := map[string]any{"error": err.Error()}
	if te := As(err); te != nil {
		fields["error_code"] = string(te.Code())
		if step := te.Step(); step != "" {
			fields["step"] = step
		}
	}

	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	if len(chain) > 1 {
		fields["error_chain"] = chain
	}

	for k, v := range pgFields(err) {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

func pgFields(err error) map[string]string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return map[string]string{
			"pg_code":       pgxErr.Code,
			"pg_constraint": pgxErr.ConstraintName,
			"pg_table":      pgxErr.TableName,
			"pg_column":     pgxErr.ColumnName,
			"pg_detail":     pgxErr.Detail,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_constraint": pqErr.Constraint,
			"pg_table":      pqErr.Table,
			"pg_column":     pqErr.Column,
			"pg_detail":     pqErr.Detail,
		}
	}
	return nil
}
