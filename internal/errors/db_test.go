package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_Passthrough(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}

	plain := errors.New("plain")
	if got := MapDBError(plain); got != plain {
		t.Errorf("MapDBError(plain) = %v, want original error", got)
	}
}

func TestMapDBError_Sentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeCanceled},
		{"wrapped canceled", fmt.Errorf("list jobs: %w", context.Canceled), ErrCodeCanceled},
		{"no rows", pgx.ErrNoRows, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if GetCode(err) != tt.wantCode {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("MapDBError() should keep the cause")
			}
		})
	}
}

func TestMapDBError_PgErrors(t *testing.T) {
	tests := []struct {
		name         string
		pgErr        *pgconn.PgError
		wantCode     ErrorCode
		wantField    string
		wantContains string
	}{
		{
			name:      "unique violation with column",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ColumnName: "id"},
			wantCode:  ErrCodeConflict,
			wantField: "id",
		},
		{
			name: "unique violation from detail",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.UniqueViolation,
				Detail: `Key (asset_ref)=(images/a.jpg) already exists.`,
			},
			wantCode:  ErrCodeConflict,
			wantField: "asset_ref",
		},
		{
			name:      "unique violation from constraint",
			pgErr:     &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "catalogue_items_asset_ref_key"},
			wantCode:  ErrCodeConflict,
			wantField: "asset_ref",
		},
		{
			name: "item insert for missing job",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.ForeignKeyViolation,
				Detail: `Key (job_id)=(6f1c) is not present in table "catalogue_jobs".`,
			},
			wantCode:     ErrCodeForeignKey,
			wantContains: "catalogue job does not exist",
		},
		{
			name: "job delete still referenced",
			pgErr: &pgconn.PgError{
				Code:   pgerrcode.ForeignKeyViolation,
				Detail: `Key (id)=(6f1c) is still referenced from table "catalogue_items".`,
			},
			wantCode:     ErrCodeForeignKey,
			wantContains: "referenced by a catalogue item",
		},
		{
			name:         "foreign key from constraint only",
			pgErr:        &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "catalogue_items_job_id_fkey"},
			wantCode:     ErrCodeForeignKey,
			wantContains: "catalogue job",
		},
		{
			name:      "check violation",
			pgErr:     &pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "progress"},
			wantCode:  ErrCodeValidation,
			wantField: "progress",
		},
		{
			name:         "not null without column",
			pgErr:        &pgconn.PgError{Code: pgerrcode.NotNullViolation},
			wantCode:     ErrCodeValidation,
			wantContains: "required field",
		},
		{
			name:     "unknown pg error",
			pgErr:    &pgconn.PgError{Code: pgerrcode.DeadlockDetected},
			wantCode: ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(fmt.Errorf("store: %w", tt.pgErr))
			if GetCode(err) != tt.wantCode {
				t.Fatalf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
			if GetField(err) != tt.wantField {
				t.Errorf("MapDBError() field = %q, want %q", GetField(err), tt.wantField)
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %T", err)
			}
			if !strings.Contains(strings.ToLower(appErr.Message), strings.ToLower(tt.wantContains)) {
				t.Errorf("message = %q, want to contain %q", appErr.Message, tt.wantContains)
			}
		})
	}
}

func TestInferFieldFromConstraint(t *testing.T) {
	tests := map[string]string{
		"catalogue_jobs_owner_id_idx":   "owner_id",
		"catalogue_items_asset_ref_key": "asset_ref",
		"catalogue_jobs_pkey":           "",
		"other_table_name_key":          "",
		"":                              "",
	}
	for in, want := range tests {
		if got := inferFieldFromConstraint(in); got != want {
			t.Errorf("inferFieldFromConstraint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapTableToDomain(t *testing.T) {
	tests := map[string]string{
		"catalogue_jobs":     "catalogue job",
		" CATALOGUE_ITEMS ":  "catalogue item",
		"worker_checkpoints": "worker checkpoints",
	}
	for in, want := range tests {
		if got := mapTableToDomain(in); got != want {
			t.Errorf("mapTableToDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
