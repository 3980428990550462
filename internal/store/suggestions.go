package store

import (
	"context"
	"fmt"
)

const suggestionColumns = `
	id, case_id, field_name,
	COALESCE(current_value::text, 'null'), COALESCE(suggested_value::text, 'null'),
	quote_text, source_url, suggested_by, status,
	COALESCE(first_reviewer, ''), first_reviewed_at, first_decision, first_notes,
	COALESCE(second_reviewer, ''), second_reviewed_at, second_decision, second_notes,
	COALESCE(applied_by, ''), applied_at, created_at
`

func scanSuggestion(row rowScanner) (EditSuggestion, error) {
	var item EditSuggestion
	err := row.Scan(
		&item.ID, &item.CaseID, &item.FieldName,
		&item.CurrentValue, &item.SuggestedValue,
		&item.QuoteText, &item.SourceURL, &item.SuggestedBy, &item.Status,
		&item.FirstReviewer, &item.FirstReviewedAt, &item.FirstDecision, &item.FirstNotes,
		&item.SecondReviewer, &item.SecondReviewedAt, &item.SecondDecision, &item.SecondNotes,
		&item.AppliedBy, &item.AppliedAt, &item.CreatedAt,
	)
	if err != nil {
		return EditSuggestion{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSuggestion(ctx context.Context, item EditSuggestion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edit_suggestions (id, case_id, field_name, current_value, suggested_value, quote_text, source_url, suggested_by)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8)
	`, item.ID, item.CaseID, item.FieldName, item.CurrentValue, item.SuggestedValue, item.QuoteText, item.SourceURL, item.SuggestedBy)
	if err != nil {
		return fmt.Errorf("insert suggestion: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSuggestion(ctx context.Context, suggestionID string) (EditSuggestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM edit_suggestions WHERE id=$1`, suggestionID)
	return scanSuggestion(row)
}

func (s *PostgresStore) ListSuggestions(ctx context.Context, caseID, status string) ([]EditSuggestion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+suggestionColumns+`
		FROM edit_suggestions
		WHERE ($1='' OR case_id=$1)
		  AND ($2='' OR status=$2)
		ORDER BY created_at DESC
	`, caseID, status)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	items := make([]EditSuggestion, 0)
	for rows.Next() {
		item, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return items, nil
}

// ReviewSuggestion records the first approval. Conditional on the pending
// state; a racing first reviewer gets ErrConflict.
func (s *PostgresStore) ReviewSuggestion(ctx context.Context, suggestionID, reviewer, notes string) (EditSuggestion, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE edit_suggestions
		SET status='first_review', first_reviewer=$2, first_reviewed_at=NOW(), first_decision='approve', first_notes=$3
		WHERE id=$1 AND status='pending'
	`, suggestionID, reviewer, notes)
	if err != nil {
		return EditSuggestion{}, fmt.Errorf("review suggestion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return EditSuggestion{}, fmt.Errorf("review suggestion: %w", err)
	}
	if affected == 0 {
		return EditSuggestion{}, ErrConflict
	}
	return s.GetSuggestion(ctx, suggestionID)
}

type ApproveSuggestionInput struct {
	SuggestionID string
	CaseID       string
	FieldName    string
	Value        any
	Actor        string
	Notes        string

	// Resolved evidence: either an existing quote on the case, or the text
	// and source for a new one.
	QuoteID           string
	QuoteText         string
	SourceURL         string
	SourceTitle       string
	SourcePublication string
}

// ApproveSuggestion is the second approval plus the apply, in one
// transaction: the evidence quote is resolved or created, the suggestion
// flips to approved, the case field is written, and the quote is linked to
// the field.
func (s *PostgresStore) ApproveSuggestion(ctx context.Context, input ApproveSuggestionInput) (EditSuggestion, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EditSuggestion{}, 0, fmt.Errorf("begin approve suggestion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockCase(ctx, tx, input.CaseID); err != nil {
		return EditSuggestion{}, 0, err
	}

	quoteID := input.QuoteID
	if quoteID != "" {
		if err := quoteBelongsToCase(ctx, tx, input.CaseID, quoteID); err != nil {
			return EditSuggestion{}, 0, err
		}
	} else {
		sourceID, err := upsertSource(ctx, tx, input.CaseID, input.SourceURL, input.SourceTitle, input.SourcePublication)
		if err != nil {
			return EditSuggestion{}, 0, err
		}
		quoteID, err = insertQuote(ctx, tx, input.CaseID, sourceID, input.QuoteText, "suggestion")
		if err != nil {
			return EditSuggestion{}, 0, err
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE edit_suggestions
		SET status='approved', second_reviewer=$2, second_reviewed_at=NOW(), second_decision='approve', second_notes=$3,
			applied_by=$2, applied_at=NOW()
		WHERE id=$1 AND status='first_review'
	`, input.SuggestionID, input.Actor, input.Notes)
	if err != nil {
		return EditSuggestion{}, 0, fmt.Errorf("approve suggestion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return EditSuggestion{}, 0, fmt.Errorf("approve suggestion: %w", err)
	}
	if affected == 0 {
		return EditSuggestion{}, 0, ErrConflict
	}

	if err := applyCaseField(ctx, tx, input.CaseID, input.FieldName, input.Value); err != nil {
		return EditSuggestion{}, 0, err
	}
	if err := linkQuoteField(ctx, tx, input.CaseID, quoteID, input.FieldName); err != nil {
		return EditSuggestion{}, 0, err
	}

	number, err := appendHistory(ctx, tx, input.CaseID, "suggestion_applied", input.Actor, input.FieldName)
	if err != nil {
		return EditSuggestion{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return EditSuggestion{}, 0, fmt.Errorf("commit approve suggestion: %w", err)
	}
	saved, err := s.GetSuggestion(ctx, input.SuggestionID)
	return saved, number, err
}

// RejectSuggestion can happen at either review stage; the decision lands in
// whichever reviewer slot the suggestion is currently waiting on.
func (s *PostgresStore) RejectSuggestion(ctx context.Context, suggestionID, actor, notes string) (EditSuggestion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EditSuggestion{}, fmt.Errorf("begin reject suggestion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	if err := tx.QueryRowContext(ctx, `
		SELECT status FROM edit_suggestions WHERE id=$1 FOR UPDATE
	`, suggestionID).Scan(&status); err != nil {
		return EditSuggestion{}, err
	}

	switch status {
	case "pending":
		_, err = tx.ExecContext(ctx, `
			UPDATE edit_suggestions
			SET status='rejected', first_reviewer=$2, first_reviewed_at=NOW(), first_decision='reject', first_notes=$3
			WHERE id=$1
		`, suggestionID, actor, notes)
	case "first_review":
		_, err = tx.ExecContext(ctx, `
			UPDATE edit_suggestions
			SET status='rejected', second_reviewer=$2, second_reviewed_at=NOW(), second_decision='reject', second_notes=$3
			WHERE id=$1
		`, suggestionID, actor, notes)
	default:
		return EditSuggestion{}, ErrConflict
	}
	if err != nil {
		return EditSuggestion{}, fmt.Errorf("reject suggestion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return EditSuggestion{}, fmt.Errorf("commit reject suggestion: %w", err)
	}
	return s.GetSuggestion(ctx, suggestionID)
}
