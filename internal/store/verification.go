package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const fieldVerificationColumns = `
	id, case_id, field_name, COALESCE(captured_value::text, 'null'),
	first_verifier, first_verified_at, first_notes, first_evidence::text,
	COALESCE(second_verifier, ''), second_verified_at, second_notes, second_evidence::text,
	verification_status, invalidated_at
`

func scanFieldVerification(row rowScanner) (FieldVerification, error) {
	var item FieldVerification
	var firstEvidence, secondEvidence string
	err := row.Scan(
		&item.ID, &item.CaseID, &item.FieldName, &item.CapturedValue,
		&item.FirstVerifier, &item.FirstVerifiedAt, &item.FirstNotes, &firstEvidence,
		&item.SecondVerifier, &item.SecondVerifiedAt, &item.SecondNotes, &secondEvidence,
		&item.VerificationStatus, &item.InvalidatedAt,
	)
	if err != nil {
		return FieldVerification{}, err
	}
	item.FirstEvidence = []string{}
	item.SecondEvidence = []string{}
	_ = json.Unmarshal([]byte(firstEvidence), &item.FirstEvidence)
	_ = json.Unmarshal([]byte(secondEvidence), &item.SecondEvidence)
	return item, nil
}

func (s *PostgresStore) GetFieldVerification(ctx context.Context, caseID, fieldName string) (FieldVerification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+fieldVerificationColumns+`
		FROM field_verifications
		WHERE case_id=$1 AND field_name=$2
	`, caseID, fieldName)
	return scanFieldVerification(row)
}

func (s *PostgresStore) ListFieldVerifications(ctx context.Context, caseID string) ([]FieldVerification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fieldVerificationColumns+`
		FROM field_verifications
		WHERE case_id=$1
		ORDER BY field_name ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list field verifications: %w", err)
	}
	defer rows.Close()

	items := make([]FieldVerification, 0)
	for rows.Next() {
		item, err := scanFieldVerification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field verification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field verifications: %w", err)
	}
	return items, nil
}

// CreateFieldVerification opens a field's two-person cycle: the first sign-off
// captures a snapshot of the value it verified. The aggregate case status is
// recomputed in the same transaction.
func (s *PostgresStore) CreateFieldVerification(ctx context.Context, item FieldVerification) (FieldVerification, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("begin field verification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockCase(ctx, tx, item.CaseID); err != nil {
		return FieldVerification{}, 0, err
	}

	evidence, err := json.Marshal(tagList(item.FirstEvidence))
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("marshal evidence: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO field_verifications (id, case_id, field_name, captured_value, first_verifier, first_notes, first_evidence)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7::jsonb)
	`, item.ID, item.CaseID, item.FieldName, item.CapturedValue, item.FirstVerifier, item.FirstNotes, string(evidence)); err != nil {
		// A racing first verifier loses on UNIQUE(case_id, field_name).
		if isUniqueViolation(err) {
			return FieldVerification{}, 0, ErrConflict
		}
		return FieldVerification{}, 0, fmt.Errorf("insert field verification: %w", err)
	}

	if err := recomputeCaseVerification(ctx, tx, item.CaseID); err != nil {
		return FieldVerification{}, 0, err
	}
	number, err := appendHistory(ctx, tx, item.CaseID, "field_first_verified", item.FirstVerifier, item.FieldName)
	if err != nil {
		return FieldVerification{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return FieldVerification{}, 0, fmt.Errorf("commit field verification: %w", err)
	}
	saved, err := s.GetFieldVerification(ctx, item.CaseID, item.FieldName)
	return saved, number, err
}

// CompleteFieldVerification records the second sign-off. The conditional
// WHERE re-checks the mid-cycle state so a concurrent completion or
// invalidation loses cleanly with ErrConflict.
func (s *PostgresStore) CompleteFieldVerification(ctx context.Context, caseID, fieldName, verifier, notes string, evidence []string) (FieldVerification, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("begin complete verification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockCase(ctx, tx, caseID); err != nil {
		return FieldVerification{}, 0, err
	}

	encoded, err := json.Marshal(tagList(evidence))
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("marshal evidence: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE field_verifications
		SET second_verifier=$3, second_verified_at=NOW(), second_notes=$4, second_evidence=$5::jsonb,
			verification_status='verified'
		WHERE case_id=$1 AND field_name=$2
		  AND verification_status='first_review' AND invalidated_at IS NULL
	`, caseID, fieldName, verifier, notes, string(encoded))
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("complete field verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("complete field verification: %w", err)
	}
	if affected == 0 {
		return FieldVerification{}, 0, ErrConflict
	}

	if err := recomputeCaseVerification(ctx, tx, caseID); err != nil {
		return FieldVerification{}, 0, err
	}
	number, err := appendHistory(ctx, tx, caseID, "field_verified", verifier, fieldName)
	if err != nil {
		return FieldVerification{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return FieldVerification{}, 0, fmt.Errorf("commit complete verification: %w", err)
	}
	saved, err := s.GetFieldVerification(ctx, caseID, fieldName)
	return saved, number, err
}

// RestartFieldVerification reuses an invalidated row for a fresh cycle. The
// new first sign-off replaces the old snapshot in place; second-stage slots
// are cleared.
func (s *PostgresStore) RestartFieldVerification(ctx context.Context, item FieldVerification) (FieldVerification, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("begin restart verification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockCase(ctx, tx, item.CaseID); err != nil {
		return FieldVerification{}, 0, err
	}

	evidence, err := json.Marshal(tagList(item.FirstEvidence))
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("marshal evidence: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE field_verifications
		SET captured_value=$3::jsonb,
			first_verifier=$4, first_verified_at=NOW(), first_notes=$5, first_evidence=$6::jsonb,
			second_verifier=NULL, second_verified_at=NULL, second_notes='', second_evidence='[]'::jsonb,
			verification_status='first_review', invalidated_at=NULL
		WHERE case_id=$1 AND field_name=$2 AND invalidated_at IS NOT NULL
	`, item.CaseID, item.FieldName, item.CapturedValue, item.FirstVerifier, item.FirstNotes, string(evidence))
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("restart field verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return FieldVerification{}, 0, fmt.Errorf("restart field verification: %w", err)
	}
	if affected == 0 {
		return FieldVerification{}, 0, ErrConflict
	}

	if err := recomputeCaseVerification(ctx, tx, item.CaseID); err != nil {
		return FieldVerification{}, 0, err
	}
	number, err := appendHistory(ctx, tx, item.CaseID, "field_first_verified", item.FirstVerifier, item.FieldName)
	if err != nil {
		return FieldVerification{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return FieldVerification{}, 0, fmt.Errorf("commit restart verification: %w", err)
	}
	saved, err := s.GetFieldVerification(ctx, item.CaseID, item.FieldName)
	return saved, number, err
}
