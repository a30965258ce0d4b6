// Package app holds the application service and HTTP surface. The service
// owns every business rule; handlers only decode, dispatch and encode.
package app

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/access"
	"inkwell/api/internal/archive"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/email"
	"inkwell/api/internal/export"
	"inkwell/api/internal/history"
	"inkwell/api/internal/search"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// Session is an authenticated caller identity, derived from a verified
// access token. RefreshToken is only set when the session was just issued.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	ExpiresAt    time.Time
}

// Refresh sessions outlive access tokens by a week, matching the invitation
// window.
const refreshTTL = 7 * 24 * time.Hour

type dataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListUsernames(ctx context.Context) ([]string, error)
	ListEditors(ctx context.Context) ([]store.Editor, error)
	GetEditorsByIDs(ctx context.Context, userIDs []string) ([]store.Editor, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	GetDocument(ctx context.Context, docID string) (store.Document, error)
	GetDocumentForUser(ctx context.Context, docID, userID string) (store.Document, error)
	ListDocumentsForUser(ctx context.Context, userID string) ([]store.Document, error)
	UpdateDocument(ctx context.Context, doc store.Document) error
	AddDocumentEditor(ctx context.Context, docID, userID string) error
	Ping(ctx context.Context) error
}

// SessionStore persists refresh sessions. Redis when configured, the
// Postgres store otherwise; both speak this contract.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type broadcaster interface {
	BroadcastDocumentUpdate(docID string, doc any)
}

type pdfExporter interface {
	ExportPDF(doc export.Document) (*export.Result, error)
}

type Service struct {
	store    dataStore
	sessions SessionStore
	access   *access.Evaluator

	authTokens   auth.Codec
	inviteTokens auth.Codec
	accessTTL    time.Duration

	hub      broadcaster
	exporter pdfExporter
	email    *email.Service
	history  *history.Service
	search   *search.Service
	archive  *archive.Service

	registrationURL string
	log             *zap.SugaredLogger
}

// Deps carries the service collaborators. Hub, History, Search and Archive
// may be nil; the features degrade individually.
type Deps struct {
	Store    *store.PostgresStore
	Sessions SessionStore
	Hub      broadcaster
	Exporter pdfExporter
	Email    *email.Service
	History  *history.Service
	Search   *search.Service
	Archive  *archive.Service
}

func New(deps Deps, authTokens, inviteTokens auth.Codec, accessTTL time.Duration, registrationURL string, log *zap.SugaredLogger) *Service {
	return &Service{
		store:           deps.Store,
		sessions:        deps.Sessions,
		access:          access.NewEvaluator(deps.Store),
		authTokens:      authTokens,
		inviteTokens:    inviteTokens,
		accessTTL:       accessTTL,
		hub:             deps.Hub,
		exporter:        deps.Exporter,
		email:           deps.Email,
		history:         deps.History,
		search:          deps.Search,
		archive:         deps.Archive,
		registrationURL: registrationURL,
		log:             log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Register creates a user account and, when an invitation code accompanies
// the registration, redeems it for an editor grant. A failed grant never
// rolls the account back; the returned error reports the grant failure while
// the user row stands.
func (s *Service) Register(ctx context.Context, username, password, invitationCode string) error {
	username = strings.TrimSpace(username)
	if len(username) < 3 || password == "" {
		return domainError(http.StatusBadRequest, "invalid_credentials", "username must be at least 3 characters and password must not be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domainError(http.StatusInternalServerError, "internal_error", "could not hash password")
	}

	user := store.User{
		ID:           util.NewID(),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domainError(http.StatusBadRequest, "invalid_credentials", "username is already taken")
		}
		s.log.Errorw("create user failed", "username", username, "error", err)
		return domainError(http.StatusInternalServerError, "internal_error", "could not create user")
	}

	if invitationCode == "" {
		return nil
	}
	return s.redeemInvitation(ctx, invitationCode, user.ID)
}

// redeemInvitation grants a freshly registered user editor access to the
// invited document. The token signature is always verified before any claim
// in it is trusted.
func (s *Service) redeemInvitation(ctx context.Context, code, newUserID string) error {
	claims, err := s.inviteTokens.VerifyInvite(code)
	if err != nil {
		return domainError(http.StatusBadRequest, "invalid_invitation_code", "invitation code is invalid or expired")
	}
	if claims.DocID == "" || claims.InviterID == "" {
		return domainError(http.StatusBadRequest, "invalid_invitation_code", "invitation code is incomplete")
	}

	// The grant is scoped by the inviter's current access: an inviter who
	// lost access to the document can no longer extend it.
	doc, err := s.store.GetDocumentForUser(ctx, claims.DocID, claims.InviterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "matching_document_not_found", "the invited document no longer exists or the inviter lost access")
		}
		s.log.Errorw("invitation document lookup failed", "doc", claims.DocID, "error", err)
		return domainError(http.StatusInternalServerError, "internal_error", "could not resolve invitation")
	}

	if err := s.store.AddDocumentEditor(ctx, doc.ID, newUserID); err != nil {
		s.log.Errorw("editor grant failed", "doc", doc.ID, "user", newUserID, "error", err)
		return domainError(http.StatusInternalServerError, "internal_error", "could not grant editor access")
	}
	return nil
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, domainError(http.StatusUnauthorized, "invalid_credentials", "wrong username or password")
		}
		s.log.Errorw("login lookup failed", "username", username, "error", err)
		return Session{}, domainError(http.StatusInternalServerError, "internal_error", "login failed")
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, domainError(http.StatusUnauthorized, "invalid_credentials", "wrong username or password")
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh session: the presented token is revoked and a
// new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, domainError(http.StatusUnauthorized, "authentication_error", "refresh token is invalid or expired")
		}
		s.log.Errorw("refresh lookup failed", "error", err)
		return Session{}, domainError(http.StatusInternalServerError, "internal_error", "refresh failed")
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		s.log.Errorw("refresh revoke failed", "error", err)
		return Session{}, domainError(http.StatusInternalServerError, "internal_error", "refresh failed")
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, err := s.authTokens.SignAccess(user.Username, user.ID)
	if err != nil {
		s.log.Errorw("sign access token failed", "user", user.ID, "error", err)
		return Session{}, domainError(http.StatusInternalServerError, "internal_error", "could not issue token")
	}

	refresh := util.NewID() + util.NewID()
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, time.Now().Add(refreshTTL)); err != nil {
		s.log.Errorw("save refresh session failed", "user", user.ID, "error", err)
		return Session{}, domainError(http.StatusInternalServerError, "internal_error", "could not issue token")
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		ExpiresAt:    time.Now().Add(s.accessTTL),
	}, nil
}

// SessionFromToken derives the caller identity from a bearer token. Validity
// is purely a function of signature and expiry; there is no revocation list.
func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := s.authTokens.VerifyAccess(token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:    token,
		UserID:   claims.UserID,
		Username: claims.Username,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (s *Service) ListUsernames(ctx context.Context) ([]string, error) {
	return s.store.ListUsernames(ctx)
}

func (s *Service) ListEditors(ctx context.Context) ([]store.Editor, error) {
	return s.store.ListEditors(ctx)
}

func (s *Service) GetEditorsByIDs(ctx context.Context, ids []string) ([]store.Editor, error) {
	return s.store.GetEditorsByIDs(ctx, ids)
}

func (s *Service) ListDocumentsForUser(ctx context.Context, userID string) ([]store.Document, error) {
	return s.store.ListDocumentsForUser(ctx, userID)
}

func (s *Service) GetDocumentForUser(ctx context.Context, docID, userID string) (store.Document, error) {
	return s.store.GetDocumentForUser(ctx, docID, userID)
}

// CreateDocument creates a document owned by ownerID. The owner is the
// authenticated caller, never a client-supplied field. Editors named at
// creation are deduplicated and the owner is dropped from the set.
func (s *Service) CreateDocument(ctx context.Context, ownerID, title, body, docType string, editorIDs []string) (store.Document, error) {
	if strings.TrimSpace(title) == "" {
		return store.Document{}, domainError(http.StatusBadRequest, "invalid_data", "title must not be empty")
	}
	if docType == "" {
		docType = "text"
	}

	doc := store.Document{
		ID:        util.NewID(),
		Title:     title,
		Body:      body,
		Type:      docType,
		OwnerID:   ownerID,
		EditorIDs: editorIDs,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		s.log.Errorw("insert document failed", "owner", ownerID, "error", err)
		return store.Document{}, domainError(http.StatusInternalServerError, "internal_error", "could not create document")
	}

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		s.log.Errorw("read back created document failed", "doc", doc.ID, "error", err)
		return store.Document{}, domainError(http.StatusInternalServerError, "internal_error", "could not create document")
	}

	s.recordRevision(ctx, created, ownerID, "create document")
	s.indexDocument(created)
	return created, nil
}

// UpdateDocument replaces title and body of a document the caller has access
// to. A nil editor list leaves the editor set unchanged; a non-nil list
// replaces it, but only when the caller owns the document. Editors can edit
// content, not reshape the sharing. The owner never changes.
func (s *Service) UpdateDocument(ctx context.Context, userID, docID, title, body string, editorIDs []string) (store.Document, error) {
	if strings.TrimSpace(title) == "" {
		return store.Document{}, domainError(http.StatusBadRequest, "invalid_data", "title must not be empty")
	}

	doc, err := s.store.GetDocumentForUser(ctx, docID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Document{}, err
		}
		s.log.Errorw("fetch document for update failed", "doc", docID, "error", err)
		return store.Document{}, domainError(http.StatusInternalServerError, "internal_error", "could not update document")
	}

	doc.Title = title
	doc.Body = body
	if editorIDs != nil && s.access.IsOwner(ctx, userID, doc, false) {
		doc.EditorIDs = editorIDs
	}
	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Document{}, err
		}
		s.log.Errorw("update document failed", "doc", docID, "error", err)
		return store.Document{}, domainError(http.StatusInternalServerError, "internal_error", "could not update document")
	}

	updated, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		s.log.Errorw("read back updated document failed", "doc", docID, "error", err)
		return store.Document{}, domainError(http.StatusInternalServerError, "internal_error", "could not update document")
	}

	if s.hub != nil {
		s.hub.BroadcastDocumentUpdate(updated.ID, updated)
	}
	s.recordRevision(ctx, updated, userID, "update document")
	s.indexDocument(updated)
	return updated, nil
}

// ExportDocumentPDF renders a document the caller has access to as a PDF.
func (s *Service) ExportDocumentPDF(ctx context.Context, userID, docID string) (*export.Result, error) {
	doc, err := s.store.GetDocumentForUser(ctx, docID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.log.Errorw("fetch document for export failed", "doc", docID, "error", err)
		return nil, domainError(http.StatusInternalServerError, "internal_error", "could not export document")
	}

	result, err := s.exporter.ExportPDF(export.Document{Title: doc.Title, Body: doc.Body})
	if err != nil {
		s.log.Errorw("pdf export failed", "doc", docID, "error", err)
		return nil, domainError(http.StatusInternalServerError, "internal_error", "could not export document")
	}

	if s.archive != nil {
		s.archive.StorePDFAsync(doc.ID, result.Filename, result.Data)
	}
	return result, nil
}

// InviteEditor mints a signed invitation token for inviteeEmail and mails it
// as a registration link. The caller's access is re-verified against the
// store before the token is signed.
func (s *Service) InviteEditor(ctx context.Context, userID, docID, inviteeEmail string) error {
	parsed, err := mail.ParseAddress(inviteeEmail)
	if err != nil {
		return domainError(http.StatusBadRequest, "missing_or_invalid_email", "invitee email address is missing or malformed")
	}

	doc, err := s.store.GetDocumentForUser(ctx, docID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		s.log.Errorw("fetch document for invite failed", "doc", docID, "error", err)
		return domainError(http.StatusInternalServerError, "internal_error", "could not create invitation")
	}
	if !s.access.HasAccess(ctx, userID, doc, true) {
		return store.ErrNotFound
	}

	code, err := s.inviteTokens.SignInvite(userID, parsed.Address, doc.ID)
	if err != nil {
		s.log.Errorw("sign invitation failed", "doc", docID, "error", err)
		return domainError(http.StatusInternalServerError, "internal_error", "could not create invitation")
	}

	if s.email == nil || !s.email.IsConfigured() {
		return domainError(http.StatusInternalServerError, "internal_error", "email delivery is not configured")
	}
	inviter, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		s.log.Errorw("inviter lookup failed", "user", userID, "error", err)
		return domainError(http.StatusInternalServerError, "internal_error", "could not create invitation")
	}
	if err := s.email.SendInvitationEmail(parsed.Address, inviter.Username, doc.Title, s.registrationURL, code); err != nil {
		s.log.Errorw("invitation email failed", "doc", docID, "error", err)
		return domainError(http.StatusInternalServerError, "internal_error", "could not send invitation email")
	}
	return nil
}

// DocumentHistory lists revisions of a document the caller has access to.
func (s *Service) DocumentHistory(ctx context.Context, userID, docID string, limit int) ([]history.Revision, error) {
	if _, err := s.store.GetDocumentForUser(ctx, docID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		s.log.Errorw("fetch document for history failed", "doc", docID, "error", err)
		return nil, domainError(http.StatusInternalServerError, "internal_error", "could not load history")
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	revisions, err := s.history.ListRevisions(docID, limit)
	if err != nil {
		s.log.Errorw("list revisions failed", "doc", docID, "error", err)
		return nil, domainError(http.StatusInternalServerError, "internal_error", "could not load history")
	}
	return revisions, nil
}

// SearchDocuments runs a text search scoped to the caller's documents.
func (s *Service) SearchDocuments(ctx context.Context, userID, q string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}
	}
	return s.search.Search(search.Query{Text: q, UserID: userID, Limit: limit, Offset: offset})
}

func (s *Service) recordRevision(ctx context.Context, doc store.Document, userID, message string) {
	if s.history == nil {
		return
	}
	author := userID
	if user, err := s.store.GetUserByID(ctx, userID); err == nil {
		author = user.Username
	}
	if err := s.history.RecordRevision(doc.ID, history.Snapshot{Title: doc.Title, Body: doc.Body}, author, message); err != nil {
		s.log.Warnw("record revision failed", "doc", doc.ID, "error", err)
	}
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.Record{
		ID:        doc.ID,
		Title:     doc.Title,
		Body:      doc.Body,
		OwnerID:   doc.OwnerID,
		EditorIDs: doc.EditorIDs,
	})
}
