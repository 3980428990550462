package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across case_records, quotes, and
// case_history using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Cases sub-query
	if q.FilterType == "" || q.FilterType == ResultCase {
		caseWhere := "c.fts @@ " + tsQuery
		if q.FilterCaseID != "" {
			caseWhere += fmt.Sprintf(" AND c.id = $%d", argN)
			args = append(args, q.FilterCaseID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'case'::text AS type, c.id, c.title,
				ts_headline('english', coalesce(c.summary, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS case_id, c.status,
				ts_rank(c.fts, %s) AS rank
			FROM case_records c
			WHERE %s`, tsQuery, tsQuery, caseWhere))
	}

	// Quotes sub-query
	if q.FilterType == "" || q.FilterType == ResultQuote {
		quoteWhere := "q.fts @@ " + tsQuery
		if q.FilterCaseID != "" {
			quoteWhere += fmt.Sprintf(" AND q.case_id = $%d", argN)
			args = append(args, q.FilterCaseID)
			argN++
		}
		if q.VerifiedOnly {
			quoteWhere += " AND q.verified"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'quote'::text AS type, q.id, q.category AS title,
				ts_headline('english', coalesce(q.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				q.case_id, ''::text AS status,
				ts_rank(q.fts, %s) AS rank
			FROM quotes q
			WHERE %s`, tsQuery, tsQuery, quoteWhere))
	}

	// History sub-query
	if q.FilterType == "" || q.FilterType == ResultHistory {
		histWhere := "h.fts @@ " + tsQuery
		if q.FilterCaseID != "" {
			histWhere += fmt.Sprintf(" AND h.case_id = $%d", argN)
			args = append(args, q.FilterCaseID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'history'::text AS type, h.id::text, h.action AS title,
				ts_headline('english', coalesce(h.note, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				h.case_id, ''::text AS status,
				ts_rank(h.fts, %s) AS rank
			FROM case_history h
			WHERE %s`, tsQuery, tsQuery, histWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, case_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.CaseID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CaseRecord, []QuoteRecord, []HistoryRecord, error) {
	caseRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, summary, subject_full_name, facility, agency, city, state, status
		FROM case_records
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load cases: %w", err)
	}
	defer caseRows.Close()

	cases := make([]CaseRecord, 0)
	for caseRows.Next() {
		var c CaseRecord
		if err := caseRows.Scan(&c.ID, &c.Title, &c.Summary, &c.SubjectFullName, &c.Facility, &c.Agency, &c.City, &c.State, &c.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := caseRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate cases: %w", err)
	}

	quoteRows, err := p.db.QueryContext(ctx, `
		SELECT id, body, category, case_id, verified
		FROM quotes
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load quotes: %w", err)
	}
	defer quoteRows.Close()

	quotes := make([]QuoteRecord, 0)
	for quoteRows.Next() {
		var q QuoteRecord
		if err := quoteRows.Scan(&q.ID, &q.Body, &q.Category, &q.CaseID, &q.Verified); err != nil {
			return nil, nil, nil, fmt.Errorf("scan quote: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := quoteRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate quotes: %w", err)
	}

	histRows, err := p.db.QueryContext(ctx, `
		SELECT id::text, action, note, case_id, actor
		FROM case_history
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load history: %w", err)
	}
	defer histRows.Close()

	entries := make([]HistoryRecord, 0)
	for histRows.Next() {
		var h HistoryRecord
		if err := histRows.Scan(&h.ID, &h.Action, &h.Note, &h.CaseID, &h.Actor); err != nil {
			return nil, nil, nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, h)
	}
	if err := histRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate history: %w", err)
	}

	return cases, quotes, entries, nil
}
