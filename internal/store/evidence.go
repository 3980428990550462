package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"docket/api/internal/util"
)

type AddEvidenceInput struct {
	CaseID            string
	SourceURL         string
	SourceTitle       string
	SourcePublication string
	QuoteText         string
	Category          string
	Fields            []string
	AddedBy           string
}

// upsertSource creates or refreshes the per-case source for a URL. Sources
// are deduplicated on (case_id, url); a repeat submission with richer
// metadata fills in what the first one left blank.
func upsertSource(ctx context.Context, tx *sql.Tx, caseID, url, title, publication string) (string, error) {
	if url == "" {
		return "", nil
	}
	var sourceID string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO sources (id, case_id, url, title, publication)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (case_id, url) DO UPDATE SET
			title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE sources.title END,
			publication = CASE WHEN EXCLUDED.publication <> '' THEN EXCLUDED.publication ELSE sources.publication END
		RETURNING id
	`, util.NewID("src"), caseID, url, title, publication).Scan(&sourceID)
	if err != nil {
		return "", fmt.Errorf("upsert source: %w", err)
	}
	return sourceID, nil
}

func insertQuote(ctx context.Context, tx *sql.Tx, caseID, sourceID, body, category string) (string, error) {
	quoteID := util.NewID("qt")
	var src any
	if sourceID != "" {
		src = sourceID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quotes (id, case_id, source_id, body, category)
		VALUES ($1, $2, $3, $4, $5)
	`, quoteID, caseID, src, body, category); err != nil {
		return "", fmt.Errorf("insert quote: %w", err)
	}
	return quoteID, nil
}

func linkQuoteField(ctx context.Context, tx *sql.Tx, caseID, quoteID, fieldName string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quote_field_links (case_id, quote_id, field_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (case_id, quote_id, field_name) DO NOTHING
	`, caseID, quoteID, fieldName); err != nil {
		return fmt.Errorf("link quote to field: %w", err)
	}
	return nil
}

func quoteBelongsToCase(ctx context.Context, tx *sql.Tx, caseID, quoteID string) error {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM quotes WHERE id=$1 AND case_id=$2)
	`, quoteID, caseID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check quote: %w", err)
	}
	if !exists {
		return ErrQuoteNotFound
	}
	return nil
}

// AddEvidence records a source, a quote from it, and the field links in one
// transaction.
func (s *PostgresStore) AddEvidence(ctx context.Context, input AddEvidenceInput) (Quote, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Quote{}, 0, fmt.Errorf("begin add evidence: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := lockCase(ctx, tx, input.CaseID); err != nil {
		return Quote{}, 0, err
	}

	sourceID, err := upsertSource(ctx, tx, input.CaseID, input.SourceURL, input.SourceTitle, input.SourcePublication)
	if err != nil {
		return Quote{}, 0, err
	}
	quoteID, err := insertQuote(ctx, tx, input.CaseID, sourceID, input.QuoteText, input.Category)
	if err != nil {
		return Quote{}, 0, err
	}
	for _, field := range input.Fields {
		if err := linkQuoteField(ctx, tx, input.CaseID, quoteID, field); err != nil {
			return Quote{}, 0, err
		}
	}

	number, err := appendHistory(ctx, tx, input.CaseID, "evidence_added", input.AddedBy, strings.Join(input.Fields, ", "))
	if err != nil {
		return Quote{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return Quote{}, 0, fmt.Errorf("commit add evidence: %w", err)
	}
	saved, err := s.GetQuote(ctx, input.CaseID, quoteID)
	return saved, number, err
}

func (s *PostgresStore) GetQuote(ctx context.Context, caseID, quoteID string) (Quote, error) {
	var item Quote
	var sourceID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, source_id, body, category, verified, created_at
		FROM quotes
		WHERE id=$1 AND case_id=$2
	`, quoteID, caseID).Scan(&item.ID, &item.CaseID, &sourceID, &item.Body, &item.Category, &item.Verified, &item.CreatedAt)
	if err != nil {
		return Quote{}, err
	}
	item.SourceID = sourceID.String
	return item, nil
}

// ListFieldEvidence returns the quotes linked to one field, with source
// metadata joined in.
func (s *PostgresStore) ListFieldEvidence(ctx context.Context, caseID, fieldName string) ([]FieldQuote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.case_id, COALESCE(q.source_id, ''), q.body, q.category, q.verified, q.created_at,
			COALESCE(s.url, ''), COALESCE(s.title, ''), COALESCE(s.publication, '')
		FROM quote_field_links l
		JOIN quotes q ON q.id = l.quote_id
		LEFT JOIN sources s ON s.id = q.source_id
		WHERE l.case_id=$1 AND l.field_name=$2
		ORDER BY q.created_at ASC
	`, caseID, fieldName)
	if err != nil {
		return nil, fmt.Errorf("list field evidence: %w", err)
	}
	defer rows.Close()

	items := make([]FieldQuote, 0)
	for rows.Next() {
		var item FieldQuote
		if err := rows.Scan(&item.ID, &item.CaseID, &item.SourceID, &item.Body, &item.Category, &item.Verified, &item.CreatedAt,
			&item.SourceURL, &item.SourceTitle, &item.SourcePublication); err != nil {
			return nil, fmt.Errorf("scan field evidence: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field evidence: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCaseQuotes(ctx context.Context, caseID string) ([]Quote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, COALESCE(source_id, ''), body, category, verified, created_at
		FROM quotes
		WHERE case_id=$1
		ORDER BY created_at ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case quotes: %w", err)
	}
	defer rows.Close()

	items := make([]Quote, 0)
	for rows.Next() {
		var item Quote
		if err := rows.Scan(&item.ID, &item.CaseID, &item.SourceID, &item.Body, &item.Category, &item.Verified, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListCaseSources(ctx context.Context, caseID string) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, url, title, publication, created_at
		FROM sources
		WHERE case_id=$1
		ORDER BY created_at ASC
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list case sources: %w", err)
	}
	defer rows.Close()

	items := make([]Source, 0)
	for rows.Next() {
		var item Source
		if err := rows.Scan(&item.ID, &item.CaseID, &item.URL, &item.Title, &item.Publication, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return items, nil
}
