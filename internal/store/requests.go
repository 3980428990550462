package store

import (
	"context"
	"fmt"
)

const requestColumns = `
	id, case_id, scope, priority, status, requested_by,
	COALESCE(assigned_to, ''), assigned_at,
	outcome, issues_found, notes, rejection_reason,
	completed_at, created_at, updated_at
`

func scanRequest(row rowScanner) (VerificationRequest, error) {
	var item VerificationRequest
	err := row.Scan(
		&item.ID, &item.CaseID, &item.Scope, &item.Priority, &item.Status, &item.RequestedBy,
		&item.AssignedTo, &item.AssignedAt,
		&item.Outcome, &item.IssuesFound, &item.Notes, &item.RejectionReason,
		&item.CompletedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return VerificationRequest{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertVerificationRequest(ctx context.Context, item VerificationRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_requests (id, case_id, scope, priority, requested_by)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.CaseID, item.Scope, item.Priority, item.RequestedBy)
	if err != nil {
		return fmt.Errorf("insert verification request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVerificationRequest(ctx context.Context, requestID string) (VerificationRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM verification_requests WHERE id=$1`, requestID)
	return scanRequest(row)
}

func (s *PostgresStore) ListVerificationRequests(ctx context.Context, status, assignedTo string) ([]VerificationRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM verification_requests
		WHERE ($1='' OR status=$1)
		  AND ($2='' OR assigned_to=$2)
		ORDER BY priority DESC, created_at ASC
	`, status, assignedTo)
	if err != nil {
		return nil, fmt.Errorf("list verification requests: %w", err)
	}
	defer rows.Close()

	items := make([]VerificationRequest, 0)
	for rows.Next() {
		item, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification requests: %w", err)
	}
	return items, nil
}

// AssignedRequestCount counts the verifier's open workload: everything
// currently on their plate, including revision rounds.
func (s *PostgresStore) AssignedRequestCount(ctx context.Context, verifier string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM verification_requests
		WHERE assigned_to=$1 AND status IN ('in_progress', 'needs_revision')
	`, verifier).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count assigned requests: %w", err)
	}
	return count, nil
}

// GetVerifierMaxConcurrent returns sql.ErrNoRows for verifiers without a
// profile; callers fall back to the configured default.
func (s *PostgresStore) GetVerifierMaxConcurrent(ctx context.Context, verifier string) (int, error) {
	var limit int
	err := s.db.QueryRowContext(ctx, `
		SELECT max_concurrent FROM verifier_profiles WHERE verifier=$1
	`, verifier).Scan(&limit)
	if err != nil {
		return 0, err
	}
	return limit, nil
}

func (s *PostgresStore) UpsertVerifierProfile(ctx context.Context, verifier string, maxConcurrent int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verifier_profiles (verifier, max_concurrent)
		VALUES ($1, $2)
		ON CONFLICT (verifier) DO UPDATE SET max_concurrent=EXCLUDED.max_concurrent, updated_at=NOW()
	`, verifier, maxConcurrent)
	if err != nil {
		return fmt.Errorf("upsert verifier profile: %w", err)
	}
	return nil
}

// AssignVerificationRequest claims a pending request. Two verifiers racing
// for the same request resolve on the conditional status check.
func (s *PostgresStore) AssignVerificationRequest(ctx context.Context, requestID, verifier string) (VerificationRequest, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status='in_progress', assigned_to=$2, assigned_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='pending'
	`, requestID, verifier)
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("assign verification request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("assign verification request: %w", err)
	}
	if affected == 0 {
		return VerificationRequest{}, ErrConflict
	}
	return s.GetVerificationRequest(ctx, requestID)
}

// UnassignVerificationRequest returns a claimed request to the pending pool.
func (s *PostgresStore) UnassignVerificationRequest(ctx context.Context, requestID string) (VerificationRequest, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status='pending', assigned_to=NULL, assigned_at=NULL, updated_at=NOW()
		WHERE id=$1 AND status IN ('in_progress', 'needs_revision')
	`, requestID)
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("unassign verification request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("unassign verification request: %w", err)
	}
	if affected == 0 {
		return VerificationRequest{}, ErrConflict
	}
	return s.GetVerificationRequest(ctx, requestID)
}

type CompleteVerificationRequestInput struct {
	RequestID   string
	CaseID      string
	Actor       string
	Outcome     string
	IssuesFound string
	Notes       string
	Results     []VerificationResult

	// Stamped onto the case when the outcome is passed. HashFields, when
	// set, fingerprints the case as read under the completing transaction's
	// row lock, so the stored hash cannot go stale against a racing edit.
	Level      string
	Scope      string
	HashFields func(CaseRecord) string
}

// CompleteVerificationRequest records the verifier's outcome and per-item
// results, and on a pass stamps the verification metadata onto the case. The
// content hash is only recorded for whole-record passes: it snapshots what
// was verified, so later edits are detectable as drift.
func (s *PostgresStore) CompleteVerificationRequest(ctx context.Context, input CompleteVerificationRequestInput) (VerificationRequest, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VerificationRequest{}, 0, fmt.Errorf("begin complete request: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockCase(ctx, tx, input.CaseID); err != nil {
		return VerificationRequest{}, 0, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE verification_requests
		SET status='completed', outcome=$3, issues_found=$4, notes=$5, completed_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND assigned_to=$2 AND status IN ('in_progress', 'needs_revision')
	`, input.RequestID, input.Actor, input.Outcome, input.IssuesFound, input.Notes)
	if err != nil {
		return VerificationRequest{}, 0, fmt.Errorf("complete verification request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return VerificationRequest{}, 0, fmt.Errorf("complete verification request: %w", err)
	}
	if affected == 0 {
		return VerificationRequest{}, 0, ErrConflict
	}

	for _, item := range input.Results {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO verification_results (request_id, case_id, item_type, item_name, passed, notes)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, input.RequestID, input.CaseID, item.ItemType, item.ItemName, item.Passed, item.Notes); err != nil {
			return VerificationRequest{}, 0, fmt.Errorf("insert verification result: %w", err)
		}
	}

	if input.Outcome == "passed" {
		contentHash := ""
		if input.HashFields != nil {
			row := tx.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM case_records WHERE id=$1`, input.CaseID)
			item, err := scanCase(row)
			if err != nil {
				return VerificationRequest{}, 0, fmt.Errorf("read case for content hash: %w", err)
			}
			contentHash = input.HashFields(item)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE case_records
			SET verification_level=$2, verification_scope=$3, last_verified_at=NOW(),
				content_hash=CASE WHEN $4 <> '' THEN $4 ELSE content_hash END,
				updated_at=NOW()
			WHERE id=$1
		`, input.CaseID, input.Level, input.Scope, contentHash); err != nil {
			return VerificationRequest{}, 0, fmt.Errorf("stamp case verification: %w", err)
		}
	}

	number, err := appendHistory(ctx, tx, input.CaseID, "verification_completed", input.Actor, input.Outcome)
	if err != nil {
		return VerificationRequest{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return VerificationRequest{}, 0, fmt.Errorf("commit complete request: %w", err)
	}
	saved, err := s.GetVerificationRequest(ctx, input.RequestID)
	return saved, number, err
}

// RejectVerificationRequest closes the request without a verification.
func (s *PostgresStore) RejectVerificationRequest(ctx context.Context, requestID, reason string) (VerificationRequest, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status='rejected', rejection_reason=$2, assigned_to=NULL, updated_at=NOW()
		WHERE id=$1 AND status IN ('pending', 'in_progress', 'needs_revision')
	`, requestID, reason)
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("reject verification request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("reject verification request: %w", err)
	}
	if affected == 0 {
		return VerificationRequest{}, ErrConflict
	}
	return s.GetVerificationRequest(ctx, requestID)
}

// ReviseVerificationRequest sends an in-progress request back to its
// assignee for another pass. The assignment survives the round trip.
func (s *PostgresStore) ReviseVerificationRequest(ctx context.Context, requestID, notes string) (VerificationRequest, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status='needs_revision', notes=$2, updated_at=NOW()
		WHERE id=$1 AND status='in_progress'
	`, requestID, notes)
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("revise verification request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return VerificationRequest{}, fmt.Errorf("revise verification request: %w", err)
	}
	if affected == 0 {
		return VerificationRequest{}, ErrConflict
	}
	return s.GetVerificationRequest(ctx, requestID)
}
