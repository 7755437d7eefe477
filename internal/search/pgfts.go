package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// documents table. It is the fallback when Meilisearch is down.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

const (
	docVector  = `(to_tsvector('english', d.title) || jsonb_to_tsvector('english', coalesce(d.payload->'blocks', '[]'::jsonb), '["string"]'))`
	noteSource = `(
		SELECT jsonb_path_query(d.payload, '$.comments[*]') AS n
		UNION ALL
		SELECT jsonb_path_query(d.payload, '$.comments[*].replies[*]')
	)`
)

// Search runs a UNION ALL across documents and their comments using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := docVector + " @@ " + tsQuery
		if q.FilterStatus != "" {
			docWhere += fmt.Sprintf(" AND d.status = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		if q.FilterDocumentID != "" {
			docWhere += fmt.Sprintf(" AND d.id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', d.title, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS document_id, d.status,
				ts_rank(%s, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, docVector, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultComment {
		noteWhere := "to_tsvector('english', coalesce(c.n->>'content', '')) @@ " + tsQuery
		if q.FilterStatus != "" {
			noteWhere += fmt.Sprintf(" AND c.n->>'status' = $%d", argN)
			args = append(args, q.FilterStatus)
			argN++
		}
		if q.FilterDocumentID != "" {
			noteWhere += fmt.Sprintf(" AND d.id = $%d", argN)
			args = append(args, q.FilterDocumentID)
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'comment'::text AS type, c.n->>'id', c.n->>'type' AS title,
				ts_headline('english', coalesce(c.n->>'content', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS document_id, c.n->>'status',
				ts_rank(to_tsvector('english', coalesce(c.n->>'content', '')), %s) AS rank
			FROM documents d
			CROSS JOIN LATERAL %s c
			WHERE %s`, tsQuery, tsQuery, noteSource, noteWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)

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
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}
