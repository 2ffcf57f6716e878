package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// StorageCause is the driver error at the bottom of a failed query, if any.
type StorageCause struct {
	Driver     string `json:"driver"`
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Report flattens an error chain for logging.
type Report struct {
	Message   string        `json:"message"`
	Code      Code          `json:"code,omitempty"`
	Retryable bool          `json:"retryable,omitempty"`
	Chain     []string      `json:"chain,omitempty"`
	Storage   *StorageCause `json:"storage,omitempty"`
}

func Dump(err error) Report {
	if err == nil {
		return Report{}
	}
	r := Report{Message: err.Error(), Storage: storageCause(err)}
	if typed := As(err); typed != nil {
		r.Code = typed.Code()
		r.Retryable = MetadataFor(r.Code).Retryable
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		r.Chain = append(r.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	return r
}

// Fields returns the report as log fields, leaving out empty values.
func (r Report) Fields() map[string]any {
	fields := map[string]any{"error": r.Message}
	if r.Code != "" {
		fields["error_code"] = r.Code
	}
	if len(r.Chain) > 1 {
		fields["error_chain"] = r.Chain
	}
	if s := r.Storage; s != nil {
		fields["db_driver"] = s.Driver
		fields["db_code"] = s.Code
		for key, value := range map[string]string{
			"db_constraint": s.Constraint,
			"db_table":      s.Table,
			"db_column":     s.Column,
			"db_detail":     s.Detail,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}

func storageCause(err error) *StorageCause {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &StorageCause{
			Driver:     "pgx",
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
		return &StorageCause{
			Driver:     "pq",
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return &StorageCause{
			Driver:  "sqlite",
			Code:    liteErr.ExtendedCode.Error(),
			Message: liteErr.Error(),
		}
	}
	return nil
}
