package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const proposalColumns = `
	id, entity_type, entity_id, proposed::text, changed_fields::text, summary, submitted_by, status,
	COALESCE(reviewer, ''), reviewed_at, review_notes,
	COALESCE(validator, ''), validated_at, validation_notes,
	audit_note, applied_at, created_at
`

func scanProposal(row rowScanner) (ProposedChange, error) {
	var item ProposedChange
	var rawFields string
	err := row.Scan(
		&item.ID, &item.EntityType, &item.EntityID, &item.Proposed, &rawFields, &item.Summary, &item.SubmittedBy, &item.Status,
		&item.Reviewer, &item.ReviewedAt, &item.ReviewNotes,
		&item.Validator, &item.ValidatedAt, &item.ValidationNotes,
		&item.AuditNote, &item.AppliedAt, &item.CreatedAt,
	)
	if err != nil {
		return ProposedChange{}, err
	}
	item.ChangedFields = []string{}
	_ = json.Unmarshal([]byte(rawFields), &item.ChangedFields)
	return item, nil
}

func (s *PostgresStore) InsertProposedChange(ctx context.Context, item ProposedChange) error {
	changed, err := json.Marshal(tagList(item.ChangedFields))
	if err != nil {
		return fmt.Errorf("marshal changed fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposed_changes (id, entity_type, entity_id, proposed, changed_fields, summary, submitted_by)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7)
	`, item.ID, item.EntityType, item.EntityID, item.Proposed, string(changed), item.Summary, item.SubmittedBy)
	if err != nil {
		return fmt.Errorf("insert proposed change: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposedChange(ctx context.Context, proposalID string) (ProposedChange, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposed_changes WHERE id=$1`, proposalID)
	return scanProposal(row)
}

func (s *PostgresStore) ListProposedChanges(ctx context.Context, entityID, status string) ([]ProposedChange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposed_changes
		WHERE ($1='' OR entity_id=$1)
		  AND ($2='' OR status=$2)
		ORDER BY created_at DESC
	`, entityID, status)
	if err != nil {
		return nil, fmt.Errorf("list proposed changes: %w", err)
	}
	defer rows.Close()

	items := make([]ProposedChange, 0)
	for rows.Next() {
		item, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposed change: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposed changes: %w", err)
	}
	return items, nil
}

// ApproveProposedChangeReview records the first-stage approval and hands the
// proposal to validation.
func (s *PostgresStore) ApproveProposedChangeReview(ctx context.Context, proposalID, reviewer, notes string) (ProposedChange, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposed_changes
		SET status='pending_validation', reviewer=$2, reviewed_at=NOW(), review_notes=$3
		WHERE id=$1 AND status='pending_review'
	`, proposalID, reviewer, notes)
	if err != nil {
		return ProposedChange{}, fmt.Errorf("approve proposed change review: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ProposedChange{}, fmt.Errorf("approve proposed change review: %w", err)
	}
	if affected == 0 {
		return ProposedChange{}, ErrConflict
	}
	return s.GetProposedChange(ctx, proposalID)
}

type QuoteUpsert struct {
	ID       string
	Body     string
	Category string
}

type SourceUpsert struct {
	ID          string
	URL         string
	Title       string
	Publication string
}

type ApplyProposedChangeInput struct {
	ProposalID string
	CaseID     string
	Actor      string
	Notes      string
	Fields     map[string]any
	Quotes     []QuoteUpsert
	Sources    []SourceUpsert
}

// ApplyProposedChange is the validation-stage approval plus the apply.
// Collections are upserted by identity: an item with a known id is updated
// in place, anything else is added. Nothing is ever deleted by an apply.
func (s *PostgresStore) ApplyProposedChange(ctx context.Context, input ApplyProposedChangeInput) (ProposedChange, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProposedChange{}, 0, fmt.Errorf("begin apply proposed change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockCase(ctx, tx, input.CaseID); err != nil {
		return ProposedChange{}, 0, err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE proposed_changes
		SET status='approved', validator=$2, validated_at=NOW(), validation_notes=$3, applied_at=NOW()
		WHERE id=$1 AND status='pending_validation'
	`, input.ProposalID, input.Actor, input.Notes)
	if err != nil {
		return ProposedChange{}, 0, fmt.Errorf("apply proposed change: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ProposedChange{}, 0, fmt.Errorf("apply proposed change: %w", err)
	}
	if affected == 0 {
		return ProposedChange{}, 0, ErrConflict
	}

	fields := make([]string, 0, len(input.Fields))
	for field, value := range input.Fields {
		if err := applyCaseField(ctx, tx, input.CaseID, field, value); err != nil {
			return ProposedChange{}, 0, err
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, src := range input.Sources {
		if src.ID != "" {
			result, err := tx.ExecContext(ctx, `
				UPDATE sources SET url=$3, title=$4, publication=$5
				WHERE id=$1 AND case_id=$2
			`, src.ID, input.CaseID, src.URL, src.Title, src.Publication)
			if err != nil {
				return ProposedChange{}, 0, fmt.Errorf("update source: %w", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return ProposedChange{}, 0, fmt.Errorf("update source: %w", err)
			}
			if affected > 0 {
				continue
			}
			// An id no longer on the case falls through to the add path.
		}
		if _, err := upsertSource(ctx, tx, input.CaseID, src.URL, src.Title, src.Publication); err != nil {
			return ProposedChange{}, 0, err
		}
	}

	for _, quote := range input.Quotes {
		if quote.ID != "" {
			result, err := tx.ExecContext(ctx, `
				UPDATE quotes SET body=$3, category=$4
				WHERE id=$1 AND case_id=$2
			`, quote.ID, input.CaseID, quote.Body, quote.Category)
			if err != nil {
				return ProposedChange{}, 0, fmt.Errorf("update quote: %w", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return ProposedChange{}, 0, fmt.Errorf("update quote: %w", err)
			}
			if affected > 0 {
				continue
			}
		}
		if _, err := insertQuote(ctx, tx, input.CaseID, "", quote.Body, quote.Category); err != nil {
			return ProposedChange{}, 0, err
		}
	}

	number, err := appendHistory(ctx, tx, input.CaseID, "change_applied", input.Actor, strings.Join(fields, ", "))
	if err != nil {
		return ProposedChange{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return ProposedChange{}, 0, fmt.Errorf("commit apply proposed change: %w", err)
	}
	saved, err := s.GetProposedChange(ctx, input.ProposalID)
	return saved, number, err
}

// RejectProposedChange lands the decision in whichever stage the proposal is
// waiting on.
func (s *PostgresStore) RejectProposedChange(ctx context.Context, proposalID, actor, notes string) (ProposedChange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ProposedChange{}, fmt.Errorf("begin reject proposed change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRowContext(ctx, `
		SELECT status FROM proposed_changes WHERE id=$1 FOR UPDATE
	`, proposalID).Scan(&status); err != nil {
		return ProposedChange{}, err
	}

	switch status {
	case "pending_review":
		_, err = tx.ExecContext(ctx, `
			UPDATE proposed_changes
			SET status='rejected', reviewer=$2, reviewed_at=NOW(), review_notes=$3
			WHERE id=$1
		`, proposalID, actor, notes)
	case "pending_validation":
		_, err = tx.ExecContext(ctx, `
			UPDATE proposed_changes
			SET status='rejected', validator=$2, validated_at=NOW(), validation_notes=$3
			WHERE id=$1
		`, proposalID, actor, notes)
	default:
		return ProposedChange{}, ErrConflict
	}
	if err != nil {
		return ProposedChange{}, fmt.Errorf("reject proposed change: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ProposedChange{}, fmt.Errorf("commit reject proposed change: %w", err)
	}
	return s.GetProposedChange(ctx, proposalID)
}

// ReopenProposedChange puts a rejected proposal back into review with a
// fresh slate and an audit note recording who reopened it.
func (s *PostgresStore) ReopenProposedChange(ctx context.Context, proposalID, auditNote string) (ProposedChange, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposed_changes
		SET status='pending_review',
			reviewer=NULL, reviewed_at=NULL, review_notes='',
			validator=NULL, validated_at=NULL, validation_notes='',
			audit_note=$2
		WHERE id=$1 AND status='rejected'
	`, proposalID, auditNote)
	if err != nil {
		return ProposedChange{}, fmt.Errorf("reopen proposed change: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return ProposedChange{}, fmt.Errorf("reopen proposed change: %w", err)
	}
	if affected == 0 {
		return ProposedChange{}, ErrConflict
	}
	return s.GetProposedChange(ctx, proposalID)
}
