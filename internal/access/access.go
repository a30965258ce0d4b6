// Package access decides whether a user may read or write a document. The
// two roles are owner (immutable, set at creation) and editor (granted by
// invitation); either one grants full access.
package access

import (
	"context"

	"inkwell/api/internal/store"
)

// DocumentGetter fetches the canonical copy of a document by id.
type DocumentGetter interface {
	GetDocument(ctx context.Context, docID string) (store.Document, error)
}

type Evaluator struct {
	docs DocumentGetter
}

func NewEvaluator(docs DocumentGetter) *Evaluator {
	return &Evaluator{docs: docs}
}

// HasAccess reports whether userID is the owner or an editor of doc. With
// verifyAgainstStore set, the canonical document is re-fetched and both
// checks re-run against the fresh copy, so a stale or forged in-memory
// document can never widen access. Use the store check whenever doc came from
// the client; skip it only right after a repository fetch.
//
// HasAccess never fails: a document that cannot be fetched is simply not
// accessible.
func (e *Evaluator) HasAccess(ctx context.Context, userID string, doc store.Document, verifyAgainstStore bool) bool {
	if !grants(userID, doc) {
		return false
	}
	if !verifyAgainstStore {
		return true
	}
	canonical, err := e.docs.GetDocument(ctx, doc.ID)
	if err != nil {
		return false
	}
	return grants(userID, canonical)
}

// IsOwner reports whether userID owns doc, optionally confirmed against the
// store.
func (e *Evaluator) IsOwner(ctx context.Context, userID string, doc store.Document, verifyAgainstStore bool) bool {
	if doc.OwnerID != userID {
		return false
	}
	if !verifyAgainstStore {
		return true
	}
	canonical, err := e.docs.GetDocument(ctx, doc.ID)
	if err != nil {
		return false
	}
	return canonical.OwnerID == userID
}

func grants(userID string, doc store.Document) bool {
	return doc.OwnerID == userID || doc.HasEditor(userID)
}
