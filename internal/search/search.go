// Package search finds documents by title and body text. Meilisearch serves
// queries when it is reachable; PostgreSQL full-text search answers otherwise.
// Results are always scoped to documents the caller owns or edits.
package search

// Query is a scoped search request. UserID is the caller, never blank.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

// Result is one matching document.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	OwnerID string `json:"ownerId"`
}

// Response is the wire shape of a search call.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is the indexable projection of a document. EditorIDs ride along so
// the engine can filter by access without a round trip to Postgres.
type Record struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	OwnerID   string   `json:"ownerId"`
	EditorIDs []string `json:"editorIds"`
}
