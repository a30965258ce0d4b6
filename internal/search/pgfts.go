package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS answers searches from PostgreSQL full-text search. It is the
// fallback path, always available while the database is up.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Search matches documents by title and body, restricted to rows the caller
// owns or edits. Snippets come from ts_headline with highlight markup.
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

	const where = `
		to_tsvector('english', d.title || ' ' || d.body) @@ plainto_tsquery('english', $1)
		AND (d.owner_id = $2 OR EXISTS (
			SELECT 1 FROM document_editors de
			WHERE de.document_id = d.id AND de.user_id = $2
		))`

	var total int
	countSQL := "SELECT count(*) FROM documents d WHERE" + where
	if err := p.db.QueryRow(countSQL, q.Text, q.UserID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search results: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('english', d.body, plainto_tsquery('english', $1),
				'StartSel=<mark>, StopSel=</mark>, MaxFragments=1, MaxWords=30') AS snippet,
			d.owner_id
		FROM documents d
		WHERE%s
		ORDER BY ts_rank(to_tsvector('english', d.title || ' ' || d.body), plainto_tsquery('english', $1)) DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.Query(dataSQL, q.Text, q.UserID)
	if err != nil {
		return nil, 0, fmt.Errorf("query search results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every document for bulk reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords() ([]Record, error) {
	rows, err := p.db.Query(`SELECT id, title, body, owner_id FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Title, &r.Body, &r.OwnerID); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	for i := range records {
		editorRows, err := p.db.Query(
			`SELECT user_id FROM document_editors WHERE document_id = $1 ORDER BY added_at`,
			records[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load editors: %w", err)
		}
		ids := []string{}
		for editorRows.Next() {
			var id string
			if err := editorRows.Scan(&id); err != nil {
				editorRows.Close()
				return nil, fmt.Errorf("scan editor: %w", err)
			}
			ids = append(ids, id)
		}
		if err := editorRows.Err(); err != nil {
			editorRows.Close()
			return nil, fmt.Errorf("iterate editors: %w", err)
		}
		editorRows.Close()
		records[i].EditorIDs = ids
	}
	return records, nil
}
