// Package graph exposes the document API over GraphQL. The schema mirrors
// the REST surface: queries and mutations run under the authenticated user
// and apply the same access rules.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphql-go/graphql"

	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Backend is the slice of the application service the resolvers need.
type Backend interface {
	GetDocumentForUser(ctx context.Context, docID, userID string) (store.Document, error)
	ListDocumentsForUser(ctx context.Context, userID string) ([]store.Document, error)
	ListEditors(ctx context.Context) ([]store.Editor, error)
	GetEditorsByIDs(ctx context.Context, ids []string) ([]store.Editor, error)
	CreateDocument(ctx context.Context, ownerID, title, body, docType string, editorIDs []string) (store.Document, error)
	UpdateDocument(ctx context.Context, userID, docID, title, body string, editorIDs []string) (store.Document, error)
}

// Request is the standard GraphQL POST body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type ctxKey int

const userIDKey ctxKey = 0

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

var errDocumentNotFound = errors.New("the document does not exist, or you do not have access to it")
var errInvalidID = errors.New("specified document id is invalid")

// Service holds the compiled schema.
type Service struct {
	backend Backend
	schema  graphql.Schema
}

func NewService(backend Backend) (*Service, error) {
	s := &Service{backend: backend}

	editorType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "DocumentEditor",
		Description: "Represents a text document editor.",
		Fields: graphql.Fields{
			"id":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"username": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		},
	})

	documentType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "TextDocument",
		Description: "Represents a text document with an owner and possibly multiple other editors.",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"title":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"body":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"ownerId":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"editorIds": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"type":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"owner": &graphql.Field{
				Type:    editorType,
				Resolve: s.resolveOwner,
			},
			"editors": &graphql.Field{
				Type:    graphql.NewList(editorType),
				Resolve: s.resolveEditors,
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Query",
		Description: "Root Query",
		Fields: graphql.Fields{
			"document": &graphql.Field{
				Type:        documentType,
				Description: "A single text document that the request user is owner or editor of",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: s.resolveDocument,
			},
			"documents": &graphql.Field{
				Type:        graphql.NewList(documentType),
				Description: "All text documents that the request user is owner or editor of",
				Resolve:     s.resolveDocuments,
			},
			"editors": &graphql.Field{
				Type:        graphql.NewList(editorType),
				Description: "All registered editors",
				Resolve:     s.resolveAllEditors,
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "Mutation",
		Description: "Root Mutation",
		Fields: graphql.Fields{
			"createDocument": &graphql.Field{
				Type:        documentType,
				Description: "Create a new document owned by the request user",
				Args: graphql.FieldConfigArgument{
					"title": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"body":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"type":  &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: "text"},
				},
				Resolve: s.resolveCreateDocument,
			},
			"updateDocument": &graphql.Field{
				Type:        documentType,
				Description: "Update a document the request user has access to",
				Args: graphql.FieldConfigArgument{
					"id":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"title":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"body":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"editorIds": &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)},
				},
				Resolve: s.resolveUpdateDocument,
			},
		},
	})

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	s.schema = schema
	return s, nil
}

// Execute runs one GraphQL request as the given user.
func (s *Service) Execute(ctx context.Context, callerID string, req Request) *graphql.Result {
	return graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		OperationName:  req.OperationName,
		VariableValues: req.Variables,
		Context:        withUserID(ctx, callerID),
	})
}

func (s *Service) resolveDocument(p graphql.ResolveParams) (any, error) {
	id, _ := p.Args["id"].(string)
	if !util.IsValidID(id) {
		return nil, errInvalidID
	}
	doc, err := s.backend.GetDocumentForUser(p.Context, id, userID(p.Context))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) resolveDocuments(p graphql.ResolveParams) (any, error) {
	return s.backend.ListDocumentsForUser(p.Context, userID(p.Context))
}

func (s *Service) resolveAllEditors(p graphql.ResolveParams) (any, error) {
	return s.backend.ListEditors(p.Context)
}

func (s *Service) resolveOwner(p graphql.ResolveParams) (any, error) {
	doc, ok := p.Source.(store.Document)
	if !ok {
		return nil, nil
	}
	editors, err := s.backend.GetEditorsByIDs(p.Context, []string{doc.OwnerID})
	if err != nil {
		return nil, err
	}
	if len(editors) == 0 {
		return nil, nil
	}
	return editors[0], nil
}

func (s *Service) resolveEditors(p graphql.ResolveParams) (any, error) {
	doc, ok := p.Source.(store.Document)
	if !ok {
		return nil, nil
	}
	if len(doc.EditorIDs) == 0 {
		return []store.Editor{}, nil
	}
	return s.backend.GetEditorsByIDs(p.Context, doc.EditorIDs)
}

func (s *Service) resolveCreateDocument(p graphql.ResolveParams) (any, error) {
	title, _ := p.Args["title"].(string)
	body, _ := p.Args["body"].(string)
	docType, _ := p.Args["type"].(string)
	return s.backend.CreateDocument(p.Context, userID(p.Context), title, body, docType, nil)
}

func (s *Service) resolveUpdateDocument(p graphql.ResolveParams) (any, error) {
	id, _ := p.Args["id"].(string)
	if !util.IsValidID(id) {
		return nil, errInvalidID
	}
	title, _ := p.Args["title"].(string)
	body, _ := p.Args["body"].(string)

	// A nil editor list means "leave editors unchanged"; an explicit empty
	// list clears them, owner permitting.
	var editorIDs []string
	if raw, ok := p.Args["editorIds"].([]any); ok {
		editorIDs = []string{}
		for _, v := range raw {
			if s, ok := v.(string); ok {
				editorIDs = append(editorIDs, s)
			}
		}
	}

	doc, err := s.backend.UpdateDocument(p.Context, userID(p.Context), id, title, body, editorIDs)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}
