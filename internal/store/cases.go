package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const caseColumns = `
	id, title, summary, subject_name, subject_full_name, date_of_incident,
	cause_of_death, facility, agency, city, state, tags::text,
	status, submitted_by, submitted_at,
	COALESCE(first_reviewer, ''), first_reviewed_at,
	COALESCE(second_reviewer, ''), second_reviewed_at,
	COALESCE(first_validator, ''), first_validated_at,
	COALESCE(second_validator, ''), second_validated_at,
	COALESCE(rejected_by, ''), rejected_at, rejection_reason,
	review_cycle, verification_status, verification_level, verification_scope,
	last_verified_at, content_hash, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (CaseRecord, error) {
	var item CaseRecord
	var rawTags string
	err := row.Scan(
		&item.ID, &item.Title, &item.Summary, &item.SubjectName, &item.SubjectFullName, &item.DateOfIncident,
		&item.CauseOfDeath, &item.Facility, &item.Agency, &item.City, &item.State, &rawTags,
		&item.Status, &item.SubmittedBy, &item.SubmittedAt,
		&item.FirstReviewer, &item.FirstReviewedAt,
		&item.SecondReviewer, &item.SecondReviewedAt,
		&item.FirstValidator, &item.FirstValidatedAt,
		&item.SecondValidator, &item.SecondValidatedAt,
		&item.RejectedBy, &item.RejectedAt, &item.RejectionReason,
		&item.ReviewCycle, &item.VerificationStatus, &item.VerificationLevel, &item.VerificationScope,
		&item.LastVerifiedAt, &item.ContentHash, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return CaseRecord{}, err
	}
	item.Tags = []string{}
	_ = json.Unmarshal([]byte(rawTags), &item.Tags)
	return item, nil
}

// CreateCase inserts the record and its "submitted" audit entry in one
// transaction. Returns the allocated verification number (always 1).
func (s *PostgresStore) CreateCase(ctx context.Context, item CaseRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create case: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	encodedTags, err := json.Marshal(tagList(item.Tags))
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO case_records (
			id, title, summary, subject_name, subject_full_name, date_of_incident,
			cause_of_death, facility, agency, city, state, tags, status, submitted_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, 'pending_review', $13)
	`, item.ID, item.Title, item.Summary, item.SubjectName, item.SubjectFullName, item.DateOfIncident,
		item.CauseOfDeath, item.Facility, item.Agency, item.City, item.State, string(encodedTags), item.SubmittedBy,
	); err != nil {
		return 0, fmt.Errorf("insert case: %w", err)
	}

	number, err := appendHistory(ctx, tx, item.ID, "submitted", item.SubmittedBy, "Case submitted for review")
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create case: %w", err)
	}
	return number, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (CaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM case_records WHERE id=$1`, caseID)
	return scanCase(row)
}

func (s *PostgresStore) ListCases(ctx context.Context, status string) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+`
		FROM case_records
		WHERE ($1='' OR status=$1)
		ORDER BY submitted_at DESC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]CaseRecord, 0)
	for rows.Next() {
		item, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return items, nil
}

// AdvanceCaseReview moves pending_review to first_review, or first_review to
// second_review. The second advance implicitly resolves open validation
// issues from any prior return-to-review cycle. Status is re-checked under
// the row lock; a racing transition gets ErrConflict.
func (s *PostgresStore) AdvanceCaseReview(ctx context.Context, caseID, actor string) (CaseRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CaseRecord{}, 0, fmt.Errorf("begin review: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return CaseRecord{}, 0, err
	}

	var action string
	switch status {
	case "pending_review":
		action = "first_review"
		if _, err := tx.ExecContext(ctx, `
			UPDATE case_records
			SET status='first_review', first_reviewer=$2, first_reviewed_at=NOW(), updated_at=NOW()
			WHERE id=$1
		`, caseID, actor); err != nil {
			return CaseRecord{}, 0, fmt.Errorf("first review: %w", err)
		}
	case "first_review":
		action = "second_review"
		if _, err := tx.ExecContext(ctx, `
			UPDATE case_records
			SET status='second_review', second_reviewer=$2, second_reviewed_at=NOW(), updated_at=NOW()
			WHERE id=$1
		`, caseID, actor); err != nil {
			return CaseRecord{}, 0, fmt.Errorf("second review: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE validation_issues SET resolved_at=NOW()
			WHERE case_id=$1 AND resolved_at IS NULL
		`, caseID); err != nil {
			return CaseRecord{}, 0, fmt.Errorf("resolve validation issues: %w", err)
		}
	default:
		return CaseRecord{}, 0, ErrConflict
	}

	number, err := appendHistory(ctx, tx, caseID, action, actor, "")
	if err != nil {
		return CaseRecord{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return CaseRecord{}, 0, fmt.Errorf("commit review: %w", err)
	}

	item, err := s.GetCase(ctx, caseID)
	return item, number, err
}

// AdvanceCaseValidation moves second_review to first_validation, or
// first_validation to verified.
func (s *PostgresStore) AdvanceCaseValidation(ctx context.Context, caseID, actor string) (CaseRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CaseRecord{}, 0, fmt.Errorf("begin validation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return CaseRecord{}, 0, err
	}

	var action string
	switch status {
	case "second_review":
		action = "first_validation"
		if _, err := tx.ExecContext(ctx, `
			UPDATE case_records
			SET status='first_validation', first_validator=$2, first_validated_at=NOW(), updated_at=NOW()
			WHERE id=$1
		`, caseID, actor); err != nil {
			return CaseRecord{}, 0, fmt.Errorf("first validation: %w", err)
		}
	case "first_validation":
		action = "verified"
		if _, err := tx.ExecContext(ctx, `
			UPDATE case_records
			SET status='verified', second_validator=$2, second_validated_at=NOW(), updated_at=NOW()
			WHERE id=$1
		`, caseID, actor); err != nil {
			return CaseRecord{}, 0, fmt.Errorf("second validation: %w", err)
		}
	default:
		return CaseRecord{}, 0, ErrConflict
	}

	number, err := appendHistory(ctx, tx, caseID, action, actor, "")
	if err != nil {
		return CaseRecord{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return CaseRecord{}, 0, fmt.Errorf("commit validation: %w", err)
	}

	item, err := s.GetCase(ctx, caseID)
	return item, number, err
}

// ReturnCaseToReview bounces a case out of validation back to first_review.
// All supplied issues share one freshly allocated validation session id, the
// review cycle is bumped, validation metadata is cleared, and live field
// verifications are invalidated so every field restarts its two-person
// cycle. Returns the session id and the audit entry number.
func (s *PostgresStore) ReturnCaseToReview(ctx context.Context, caseID, actor, note string, issues []ValidationIssue) (CaseRecord, int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CaseRecord{}, 0, 0, fmt.Errorf("begin return: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return CaseRecord{}, 0, 0, err
	}
	if status != "second_review" && status != "first_validation" {
		return CaseRecord{}, 0, 0, ErrConflict
	}

	var sessionID int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(validation_session_id), 0) + 1 FROM validation_issues WHERE case_id=$1
	`, caseID).Scan(&sessionID); err != nil {
		return CaseRecord{}, 0, 0, fmt.Errorf("next validation session: %w", err)
	}

	for _, issue := range issues {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO validation_issues (case_id, validation_session_id, field_type, field_name, reason, raised_by)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, caseID, sessionID, issue.FieldType, issue.FieldName, issue.Reason, actor); err != nil {
			return CaseRecord{}, 0, 0, fmt.Errorf("insert validation issue: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE case_records
		SET status='first_review',
			review_cycle=review_cycle+1,
			first_validator=NULL, first_validated_at=NULL,
			second_validator=NULL, second_validated_at=NULL,
			updated_at=NOW()
		WHERE id=$1
	`, caseID); err != nil {
		return CaseRecord{}, 0, 0, fmt.Errorf("return to review: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE field_verifications SET invalidated_at=NOW()
		WHERE case_id=$1 AND invalidated_at IS NULL
	`, caseID); err != nil {
		return CaseRecord{}, 0, 0, fmt.Errorf("invalidate field verifications: %w", err)
	}
	if err := recomputeCaseVerification(ctx, tx, caseID); err != nil {
		return CaseRecord{}, 0, 0, err
	}

	number, err := appendHistory(ctx, tx, caseID, "return_to_review", actor, note)
	if err != nil {
		return CaseRecord{}, 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return CaseRecord{}, 0, 0, fmt.Errorf("commit return: %w", err)
	}

	item, err := s.GetCase(ctx, caseID)
	return item, sessionID, number, err
}

// RejectCase is terminal. There is no reopen edge at the case level.
func (s *PostgresStore) RejectCase(ctx context.Context, caseID, actor, reason string) (CaseRecord, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CaseRecord{}, 0, fmt.Errorf("begin reject: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	status, err := lockCase(ctx, tx, caseID)
	if err != nil {
		return CaseRecord{}, 0, err
	}
	if status == "verified" || status == "rejected" {
		return CaseRecord{}, 0, ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE case_records
		SET status='rejected', rejected_by=$2, rejected_at=NOW(), rejection_reason=$3, updated_at=NOW()
		WHERE id=$1
	`, caseID, actor, reason); err != nil {
		return CaseRecord{}, 0, fmt.Errorf("reject case: %w", err)
	}

	number, err := appendHistory(ctx, tx, caseID, "rejected", actor, reason)
	if err != nil {
		return CaseRecord{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return CaseRecord{}, 0, fmt.Errorf("commit reject: %w", err)
	}

	item, err := s.GetCase(ctx, caseID)
	return item, number, err
}

func (s *PostgresStore) ListCaseHistory(ctx context.Context, caseID string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, verification_number, action, actor, note, created_at
		FROM case_history
		WHERE case_id=$1
		ORDER BY verification_number ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case history: %w", err)
	}
	defer rows.Close()

	items := make([]HistoryEntry, 0)
	for rows.Next() {
		var item HistoryEntry
		if err := rows.Scan(&item.ID, &item.CaseID, &item.VerificationNumber, &item.Action, &item.Actor, &item.Note, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListValidationIssues(ctx context.Context, caseID string, openOnly bool) ([]ValidationIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, validation_session_id, field_type, field_name, reason, raised_by, created_at, resolved_at
		FROM validation_issues
		WHERE case_id=$1
		  AND (NOT $2::boolean OR resolved_at IS NULL)
		ORDER BY validation_session_id DESC, id ASC
	`, caseID, openOnly)
	if err != nil {
		return nil, fmt.Errorf("list validation issues: %w", err)
	}
	defer rows.Close()

	items := make([]ValidationIssue, 0)
	for rows.Next() {
		var item ValidationIssue
		if err := rows.Scan(&item.ID, &item.CaseID, &item.ValidationSessionID, &item.FieldType, &item.FieldName, &item.Reason, &item.RaisedBy, &item.CreatedAt, &item.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan validation issue: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation issues: %w", err)
	}
	return items, nil
}

type SummaryCounts struct {
	TotalCases      int
	PendingReview   int
	InReview        int
	InValidation    int
	Verified        int
	Rejected        int
	OpenRequests    int
	OpenSuggestions int
	OpenProposals   int
}

func (s *PostgresStore) SummaryCounts(ctx context.Context) (SummaryCounts, error) {
	var counts SummaryCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status='pending_review'),
			COUNT(*) FILTER (WHERE status IN ('first_review', 'second_review')),
			COUNT(*) FILTER (WHERE status='first_validation'),
			COUNT(*) FILTER (WHERE status='verified'),
			COUNT(*) FILTER (WHERE status='rejected')
		FROM case_records
	`).Scan(&counts.TotalCases, &counts.PendingReview, &counts.InReview, &counts.InValidation, &counts.Verified, &counts.Rejected)
	if err != nil {
		return SummaryCounts{}, fmt.Errorf("count cases: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verification_requests WHERE status IN ('pending', 'in_progress', 'needs_revision')
	`).Scan(&counts.OpenRequests); err != nil {
		return SummaryCounts{}, fmt.Errorf("count open requests: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edit_suggestions WHERE status IN ('pending', 'first_review')
	`).Scan(&counts.OpenSuggestions); err != nil {
		return SummaryCounts{}, fmt.Errorf("count open suggestions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM proposed_changes WHERE status IN ('pending_review', 'pending_validation')
	`).Scan(&counts.OpenProposals); err != nil {
		return SummaryCounts{}, fmt.Errorf("count open proposals: %w", err)
	}
	return counts, nil
}
