package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "field_verifications_case_id_field_name_key"}
	if !isUniqueViolation(unique) {
		t.Error("expected a 23505 to be a unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("insert field verification: %w", unique)) {
		t.Error("expected a wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("a foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("connection reset")) {
		t.Error("an arbitrary error is not a unique violation")
	}
}
