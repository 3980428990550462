package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// caseFieldColumns is the closed whitelist of caller-addressable case fields.
// Anything outside it is rejected before storage addressing, never passed
// through.
var caseFieldColumns = map[string]string{
	"title":             "title",
	"summary":           "summary",
	"subject_name":      "subject_name",
	"subject_full_name": "subject_full_name",
	"date_of_incident":  "date_of_incident",
	"cause_of_death":    "cause_of_death",
	"facility":          "facility",
	"agency":            "agency",
	"city":              "city",
	"state":             "state",
	"tags":              "tags",
}

// CaseFieldColumn resolves a caller-supplied field name against the
// whitelist.
func CaseFieldColumn(field string) (string, bool) {
	column, ok := caseFieldColumns[field]
	return column, ok
}

// isUniqueViolation reports whether err is a postgres unique constraint
// failure (pgcode 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// lockCase takes a row lock on the case and returns its current status.
// Counter allocation and conditional transitions run behind this lock.
func lockCase(ctx context.Context, tx *sql.Tx, caseID string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM case_records WHERE id=$1 FOR UPDATE`, caseID).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}

// appendHistory allocates the next per-case verification number and inserts
// the audit entry. The caller must hold the case row lock.
func appendHistory(ctx context.Context, tx *sql.Tx, caseID, action, actor, note string) (int, error) {
	var number int
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(verification_number), 0) + 1 FROM case_history WHERE case_id=$1
	`, caseID).Scan(&number)
	if err != nil {
		return 0, fmt.Errorf("next verification number: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO case_history (case_id, verification_number, action, actor, note)
		VALUES ($1, $2, $3, $4, $5)
	`, caseID, number, action, actor, note); err != nil {
		return 0, fmt.Errorf("append history: %w", err)
	}
	return number, nil
}

// applyCaseField writes one whitelisted field. tags is the only JSONB column;
// everything else stores text.
func applyCaseField(ctx context.Context, tx *sql.Tx, caseID, field string, value any) error {
	column, ok := caseFieldColumns[field]
	if !ok {
		return fmt.Errorf("field %q is not updatable", field)
	}
	if column == "tags" {
		encoded, err := json.Marshal(tagList(value))
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE case_records SET tags=$2::jsonb, updated_at=NOW() WHERE id=$1`, caseID, string(encoded))
		if err != nil {
			return fmt.Errorf("apply tags: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE case_records SET %s=$2, updated_at=NOW() WHERE id=$1`, column),
		caseID, textValue(value))
	if err != nil {
		return fmt.Errorf("apply field %s: %w", field, err)
	}
	return nil
}

func tagList(value any) []string {
	switch list := value.(type) {
	case nil:
		return []string{}
	case []string:
		return list
	case []any:
		tags := make([]string, 0, len(list))
		for _, item := range list {
			tags = append(tags, textValue(item))
		}
		return tags
	default:
		return []string{textValue(value)}
	}
}

func textValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// recomputeCaseVerification rescans the case's field verifications and
// stores the aggregate: verified if all live rows are verified, first_review
// if any live row is mid-cycle, pending otherwise.
func recomputeCaseVerification(ctx context.Context, tx *sql.Tx, caseID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE case_records SET verification_status = (
			SELECT CASE
				WHEN COUNT(*) FILTER (WHERE invalidated_at IS NULL) = 0 THEN 'pending'
				WHEN COUNT(*) FILTER (WHERE invalidated_at IS NULL AND verification_status <> 'verified') = 0 THEN 'verified'
				WHEN COUNT(*) FILTER (WHERE invalidated_at IS NULL AND verification_status = 'first_review') > 0 THEN 'first_review'
				ELSE 'pending'
			END
			FROM field_verifications WHERE case_id=$1
		), updated_at=NOW()
		WHERE id=$1
	`, caseID)
	if err != nil {
		return fmt.Errorf("recompute verification status: %w", err)
	}
	return nil
}
