package errors

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// "Key (owner_id)=(x) already exists."
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// "... is still referenced from table "catalogue_items"."
	reReferencedFrom = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	// "... is not present in table "catalogue_jobs"."
	reNotPresent = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// tableNames maps catalogue tables to the names used in API messages.
var tableNames = map[string]string{
	"catalogue_jobs":    "catalogue job",
	"catalogue_items":   "catalogue item",
	"schema_migrations": "schema migration",
}

// MapDBError converts store errors into AppErrors the API layer can render:
// pgx.ErrNoRows becomes NotFound, constraint violations become Conflict, ForeignKey
// or Validation, and context errors become Timeout or Canceled. Anything else is
// returned unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "Request timed out. Please try again.", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "Request was canceled.", Cause: err}
	case errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "Resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:    ErrCodeConflict,
			Message: "This value already exists.",
			Field:   uniqueField(pgErr),
			Cause:   pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{Code: ErrCodeForeignKey, Message: foreignKeyMessage(pgErr), Cause: pgErr}
	case pgerrcode.CheckViolation:
		return columnValidation(pgErr, "This field has an invalid value.", "Invalid data. Please check your input.")
	case pgerrcode.NotNullViolation:
		return columnValidation(pgErr, "This field is required.", "Required field is missing. Please check your input.")
	default:
		return &AppError{Code: ErrCodeInternal, Message: "A database error occurred. Please try again.", Cause: pgErr}
	}
}

func columnValidation(pgErr *pgconn.PgError, withField, withoutField string) *AppError {
	if pgErr.ColumnName != "" {
		return &AppError{Code: ErrCodeValidation, Message: withField, Field: pgErr.ColumnName, Cause: pgErr}
	}
	return &AppError{Code: ErrCodeValidation, Message: withoutField, Cause: pgErr}
}

// uniqueField prefers ColumnName, then the Detail key list, then the constraint name.
func uniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return inferFieldFromConstraint(pgErr.ConstraintName)
}

func foreignKeyMessage(pgErr *pgconn.PgError) string {
	if m := reReferencedFrom.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "Cannot delete because it is still referenced by a " + mapTableToDomain(m[1]) + "."
	}
	if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "The referenced " + mapTableToDomain(m[1]) + " does not exist."
	}
	if pgErr.TableName != "" {
		return "Cannot complete operation because it conflicts with a " + mapTableToDomain(pgErr.TableName) + "."
	}
	if strings.Contains(strings.ToLower(pgErr.ConstraintName), "job") {
		return "The referenced catalogue job does not exist."
	}
	return "Cannot complete operation because this item is in use."
}

// inferFieldFromConstraint reads the column out of "<table>_<column>_key" style
// names. Tables and columns may contain underscores, so only known table prefixes
// are stripped; anything ambiguous yields "".
func inferFieldFromConstraint(name string) string {
	name = strings.ToLower(name)
	for table := range tableNames {
		if !strings.HasPrefix(name, table+"_") {
			continue
		}
		rest := strings.TrimPrefix(name, table+"_")
		for _, suffix := range []string{"_key", "_unique", "_idx"} {
			if field, ok := strings.CutSuffix(rest, suffix); ok && field != "" {
				return field
			}
		}
	}
	return ""
}

// mapTableToDomain returns the API name of a table, or the table name with
// underscores replaced when it is not a catalogue table.
func mapTableToDomain(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if name, ok := tableNames[table]; ok {
		return name
	}
	return strings.ReplaceAll(table, "_", " ")
}
