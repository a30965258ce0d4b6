package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound covers both a missing row and a row the caller is not
	// allowed to see; the two are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("conflict")
)

type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Editor is the public projection of a user, safe to return to other users.
type Editor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Document is a text document. OwnerID never changes after creation;
// EditorIDs holds the users invited to co-edit, deduplicated and never
// containing the owner.
type Document struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Type      string   `json:"type"`
	OwnerID   string   `json:"ownerId"`
	EditorIDs []string `json:"editorIds"`
	UpdatedAt time.Time `json:"-"`
}

// HasEditor reports whether userID is in the document's editor set.
func (d Document) HasEditor(userID string) bool {
	for _, id := range d.EditorIDs {
		if id == userID {
			return true
		}
	}
	return false
}
