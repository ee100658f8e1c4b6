package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLSTATE values the services branch on.
const (
	PGUniqueViolation     = "23505"
	PGForeignKeyViolation = "23503"
	PGCheckViolation      = "23514"
	PGSerializationFail   = "40001"
	PGDeadlockDetected    = "40P01"
)

// PGFault is the driver-neutral view of a postgres error.
type PGFault struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

// Transient reports a failure that succeeds when the whole transaction is
// retried: serialization conflicts, deadlocks and lost connections.
func (f *PGFault) Transient() bool {
	if f == nil {
		return false
	}
	switch f.Code {
	case PGSerializationFail, PGDeadlockDetected:
		return true
	}
	return len(f.Code) == 5 && f.Code[:2] == "08"
}

// Postgres finds the postgres error inside err, whichever driver raised it.
func Postgres(err error) *PGFault {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PGFault{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PGFault{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	return nil
}

// Diagnosis is what gets logged about a failed request.
type Diagnosis struct {
	Code      Code
	Retryable bool
	Chain     []string
	Postgres  *PGFault
}

func Diagnose(err error) Diagnosis {
	var d Diagnosis
	if err == nil {
		return d
	}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = MetadataFor(te.Code()).Retryable
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.Postgres = Postgres(err)
	return d
}

// LogFields flattens the diagnosis for a structured log line. Empty
// postgres attributes are left out.
func (d Diagnosis) LogFields() map[string]any {
	fields := map[string]any{"error_chain": d.Chain}
	pg := d.Postgres
	if pg == nil {
		return fields
	}
	for key, value := range map[string]string{
		"pg_code":       pg.Code,
		"pg_constraint": pg.Constraint,
		"pg_table":      pg.Table,
		"pg_column":     pg.Column,
		"pg_detail":     pg.Detail,
		"pg_message":    pg.Message,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
