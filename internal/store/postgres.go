package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash)
		VALUES ($1, $2, $3)
	`, user.ID, user.Username, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by name: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by id: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list usernames: %w", err)
	}
	defer rows.Close()

	usernames := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan username: %w", err)
		}
		usernames = append(usernames, name)
	}
	return usernames, rows.Err()
}

func (s *PostgresStore) ListEditors(ctx context.Context) ([]Editor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list editors: %w", err)
	}
	defer rows.Close()

	editors := []Editor{}
	for rows.Next() {
		var editor Editor
		if err := rows.Scan(&editor.ID, &editor.Username); err != nil {
			return nil, fmt.Errorf("scan editor: %w", err)
		}
		editors = append(editors, editor)
	}
	return editors, rows.Err()
}

func (s *PostgresStore) GetEditorsByIDs(ctx context.Context, userIDs []string) ([]Editor, error) {
	if len(userIDs) == 0 {
		return []Editor{}, nil
	}
	placeholders := make([]string, len(userIDs))
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, username FROM users WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup editors: %w", err)
	}
	defer rows.Close()

	editors := []Editor{}
	for rows.Next() {
		var editor Editor
		if err := rows.Scan(&editor.ID, &editor.Username); err != nil {
			return nil, fmt.Errorf("scan editor: %w", err)
		}
		editors = append(editors, editor)
	}
	return editors, rows.Err()
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert document: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, body, doc_type, owner_id)
		VALUES ($1, $2, $3, $4, $5)
	`, doc.ID, doc.Title, doc.Body, doc.Type, doc.OwnerID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for _, editorID := range doc.EditorIDs {
		if editorID == doc.OwnerID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_editors (document_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (document_id, user_id) DO NOTHING
		`, doc.ID, editorID); err != nil {
			return fmt.Errorf("insert document editor: %w", err)
		}
	}
	return tx.Commit()
}

// GetDocument fetches the canonical copy of a document regardless of who
// asks. Callers that act for a user go through GetDocumentForUser instead.
func (s *PostgresStore) GetDocument(ctx context.Context, docID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, doc_type, owner_id, updated_at FROM documents WHERE id = $1
	`, docID).Scan(&doc.ID, &doc.Title, &doc.Body, &doc.Type, &doc.OwnerID, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("lookup document: %w", err)
	}
	doc.EditorIDs, err = s.editorIDs(ctx, doc.ID)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// GetDocumentForUser fetches a document only if userID is its owner or one of
// its editors. A document the user cannot see is reported as ErrNotFound,
// identical to a document that does not exist.
func (s *PostgresStore) GetDocumentForUser(ctx context.Context, docID, userID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.title, d.body, d.doc_type, d.owner_id, d.updated_at
		FROM documents d
		WHERE d.id = $1
		  AND (d.owner_id = $2 OR EXISTS (
		      SELECT 1 FROM document_editors e
		      WHERE e.document_id = d.id AND e.user_id = $2
		  ))
	`, docID, userID).Scan(&doc.ID, &doc.Title, &doc.Body, &doc.Type, &doc.OwnerID, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("lookup document for user: %w", err)
	}
	doc.EditorIDs, err = s.editorIDs(ctx, doc.ID)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *PostgresStore) ListDocumentsForUser(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.title, d.body, d.doc_type, d.owner_id, d.updated_at
		FROM documents d
		WHERE d.owner_id = $1 OR EXISTS (
		    SELECT 1 FROM document_editors e
		    WHERE e.document_id = d.id AND e.user_id = $1
		)
		ORDER BY d.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Body, &doc.Type, &doc.OwnerID, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].EditorIDs, err = s.editorIDs(ctx, docs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// UpdateDocument replaces title, body and the editor set. The owner column is
// deliberately not part of the statement: ownership never changes.
func (s *PostgresStore) UpdateDocument(ctx context.Context, doc Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update document: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE documents SET title = $1, body = $2, updated_at = NOW() WHERE id = $3
	`, doc.Title, doc.Body, doc.ID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM document_editors WHERE document_id = $1
	`, doc.ID); err != nil {
		return fmt.Errorf("clear document editors: %w", err)
	}
	for _, editorID := range doc.EditorIDs {
		if editorID == doc.OwnerID {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_editors (document_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (document_id, user_id) DO NOTHING
		`, doc.ID, editorID); err != nil {
			return fmt.Errorf("insert document editor: %w", err)
		}
	}
	return tx.Commit()
}

// AddDocumentEditor appends a user to the editor set. The append is
// idempotent: a repeated grant, or a grant for an existing editor, is a
// no-op.
func (s *PostgresStore) AddDocumentEditor(ctx context.Context, docID, userID string) error {
	var ownerID string
	err := s.db.QueryRowContext(ctx, `SELECT owner_id FROM documents WHERE id = $1`, docID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup document owner: %w", err)
	}
	if ownerID == userID {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO document_editors (document_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (document_id, user_id) DO NOTHING
	`, docID, userID); err != nil {
		return fmt.Errorf("add document editor: %w", err)
	}
	return nil
}

func (s *PostgresStore) editorIDs(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM document_editors WHERE document_id = $1 ORDER BY added_at
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list document editors: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan editor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at, revoked_at = NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return s.GetUserByID(ctx, userID)
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// isUniqueViolation matches Postgres error 23505 without depending on the
// driver's error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
