package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/access"
	"inkwell/api/internal/auth"
	"inkwell/api/internal/export"
	"inkwell/api/internal/store"
)

// memStore is an in-memory document store with the same access scoping and
// editor deduplication semantics as the Postgres store.
type memStore struct {
	users    map[string]store.User
	docs     map[string]store.Document
	sessions map[string]memSession

	insertDocumentErr error
	addEditorErr      error
}

type memSession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]store.User),
		docs:     make(map[string]store.Document),
		sessions: make(map[string]memSession),
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) CreateUser(_ context.Context, user store.User) error {
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return store.ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	for _, user := range m.users {
		if user.Username == username {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (m *memStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (m *memStore) ListUsernames(context.Context) ([]string, error) {
	names := make([]string, 0, len(m.users))
	for _, user := range m.users {
		names = append(names, user.Username)
	}
	return names, nil
}

func (m *memStore) ListEditors(context.Context) ([]store.Editor, error) {
	editors := make([]store.Editor, 0, len(m.users))
	for _, user := range m.users {
		editors = append(editors, store.Editor{ID: user.ID, Username: user.Username})
	}
	return editors, nil
}

func (m *memStore) GetEditorsByIDs(_ context.Context, userIDs []string) ([]store.Editor, error) {
	var editors []store.Editor
	for _, id := range userIDs {
		if user, ok := m.users[id]; ok {
			editors = append(editors, store.Editor{ID: user.ID, Username: user.Username})
		}
	}
	return editors, nil
}

func (m *memStore) InsertDocument(_ context.Context, doc store.Document) error {
	if m.insertDocumentErr != nil {
		return m.insertDocumentErr
	}
	doc.EditorIDs = dedupeEditors(doc.OwnerID, doc.EditorIDs)
	m.docs[doc.ID] = doc
	return nil
}

func (m *memStore) GetDocument(_ context.Context, docID string) (store.Document, error) {
	doc, ok := m.docs[docID]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) GetDocumentForUser(_ context.Context, docID, userID string) (store.Document, error) {
	doc, ok := m.docs[docID]
	if !ok || (doc.OwnerID != userID && !doc.HasEditor(userID)) {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) ListDocumentsForUser(_ context.Context, userID string) ([]store.Document, error) {
	var docs []store.Document
	for _, doc := range m.docs {
		if doc.OwnerID == userID || doc.HasEditor(userID) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *memStore) UpdateDocument(_ context.Context, doc store.Document) error {
	existing, ok := m.docs[doc.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.Title = doc.Title
	existing.Body = doc.Body
	existing.EditorIDs = dedupeEditors(existing.OwnerID, doc.EditorIDs)
	m.docs[doc.ID] = existing
	return nil
}

func (m *memStore) AddDocumentEditor(_ context.Context, docID, userID string) error {
	if m.addEditorErr != nil {
		return m.addEditorErr
	}
	doc, ok := m.docs[docID]
	if !ok {
		return store.ErrNotFound
	}
	if userID != doc.OwnerID && !doc.HasEditor(userID) {
		doc.EditorIDs = append(doc.EditorIDs, userID)
	}
	m.docs[docID] = doc
	return nil
}

func (m *memStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	m.sessions[tokenHash] = memSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	session, ok := m.sessions[tokenHash]
	if !ok || session.revoked || time.Now().After(session.expiresAt) {
		return store.User{}, store.ErrNotFound
	}
	return m.GetUserByID(context.Background(), session.userID)
}

func (m *memStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	if session, ok := m.sessions[tokenHash]; ok {
		session.revoked = true
		m.sessions[tokenHash] = session
	}
	return nil
}

func dedupeEditors(ownerID string, ids []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range ids {
		if id == ownerID || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

type fakeHub struct {
	updates []string
}

func (f *fakeHub) BroadcastDocumentUpdate(docID string, _ any) {
	f.updates = append(f.updates, docID)
}

type fakeExporter struct{}

func (fakeExporter) ExportPDF(doc export.Document) (*export.Result, error) {
	return &export.Result{
		Data:     []byte("%PDF-1.4 " + doc.Title),
		Filename: "test.pdf",
		MimeType: "application/pdf",
	}, nil
}

func newTestService(t *testing.T, mem *memStore) (*Service, *fakeHub) {
	t.Helper()
	hub := &fakeHub{}
	svc := &Service{
		store:           mem,
		sessions:        mem,
		access:          access.NewEvaluator(mem),
		authTokens:      auth.NewCodec("test-auth-secret", time.Hour),
		inviteTokens:    auth.NewCodec("test-invite-secret", 7*24*time.Hour),
		accessTTL:       time.Hour,
		hub:             hub,
		exporter:        fakeExporter{},
		registrationURL: "http://localhost:4200/register",
		log:             zap.NewNop().Sugar(),
	}
	return svc, hub
}

func TestRegisterAndLogin(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	if err := svc.Register(ctx, "Pocahontas", "disneyyy", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	session, err := svc.Login(ctx, "Pocahontas", "disneyyy")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("login returned empty tokens")
	}
	if session.Username != "Pocahontas" {
		t.Errorf("username = %q, want Pocahontas", session.Username)
	}

	claims, err := auth.Decode(session.Token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Username != "Pocahontas" {
		t.Errorf("token username claim = %q, want Pocahontas", claims.Username)
	}

	derived, err := svc.SessionFromToken(session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if derived.UserID != session.UserID {
		t.Errorf("derived user id = %q, want %q", derived.UserID, session.UserID)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	if err := svc.Register(ctx, "Pocahontas", "disneyyy", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := svc.Login(ctx, "Pocahontas", "wrong")
	assertDomainCode(t, err, "invalid_credentials")

	_, err = svc.Login(ctx, "NoSuchUser", "disneyyy")
	assertDomainCode(t, err, "invalid_credentials")
}

func TestRegisterValidation(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	assertDomainCode(t, svc.Register(ctx, "ab", "password", ""), "invalid_credentials")
	assertDomainCode(t, svc.Register(ctx, "alice", "", ""), "invalid_credentials")

	if err := svc.Register(ctx, "alice", "password", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	assertDomainCode(t, svc.Register(ctx, "alice", "other", ""), "invalid_credentials")
}

func TestRefreshRotatesSession(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	if err := svc.Register(ctx, "Pocahontas", "disneyyy", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first, err := svc.Login(ctx, "Pocahontas", "disneyyy")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	second, err := svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Error("refresh did not rotate the refresh token")
	}

	// A rotated-out token is dead.
	_, err = svc.Refresh(ctx, first.RefreshToken)
	assertDomainCode(t, err, "authentication_error")
}

func TestLogoutRevokesRefreshSession(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	if err := svc.Register(ctx, "Pocahontas", "disneyyy", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	session, err := svc.Login(ctx, "Pocahontas", "disneyyy")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Logout(ctx, session.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	_, err = svc.Refresh(ctx, session.RefreshToken)
	assertDomainCode(t, err, "authentication_error")
}

func TestCreateDocumentOwnerFromSession(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")

	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "", []string{owner.ID, "editor-1", "editor-1"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.OwnerID != owner.ID {
		t.Errorf("owner = %q, want %q", doc.OwnerID, owner.ID)
	}
	if doc.Type != "text" {
		t.Errorf("type = %q, want the text default", doc.Type)
	}
	if len(doc.EditorIDs) != 1 || doc.EditorIDs[0] != "editor-1" {
		t.Errorf("editors = %v, want the owner dropped and duplicates collapsed", doc.EditorIDs)
	}
}

func TestCreateDocumentRequiresTitle(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)

	_, err := svc.CreateDocument(context.Background(), "user-1", "   ", "body", "text", nil)
	assertDomainCode(t, err, "invalid_data")
}

func TestUpdateDocumentBroadcasts(t *testing.T) {
	mem := newMemStore()
	svc, hub := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	updated, err := svc.UpdateDocument(ctx, owner.ID, doc.ID, "Renamed", "new body", nil)
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if updated.Title != "Renamed" || updated.Body != "new body" {
		t.Errorf("document not updated: %+v", updated)
	}
	if len(hub.updates) != 1 || hub.updates[0] != doc.ID {
		t.Errorf("hub updates = %v, want one update for %s", hub.updates, doc.ID)
	}
}

func TestUpdateDocumentEditorSemantics(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", []string{"editor-1"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// nil leaves the editor set alone.
	updated, err := svc.UpdateDocument(ctx, owner.ID, doc.ID, "Draft", "v2", nil)
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if len(updated.EditorIDs) != 1 || updated.EditorIDs[0] != "editor-1" {
		t.Errorf("editors = %v, want unchanged", updated.EditorIDs)
	}

	// An explicit list replaces it, minus the owner.
	updated, err = svc.UpdateDocument(ctx, owner.ID, doc.ID, "Draft", "v3", []string{"editor-2", owner.ID})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if len(updated.EditorIDs) != 1 || updated.EditorIDs[0] != "editor-2" {
		t.Errorf("editors = %v, want replaced with editor-2", updated.EditorIDs)
	}
}

func TestUpdateDocumentEditorCannotReshapeSharing(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	editor := registeredUser(t, svc, mem, "editor")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", []string{editor.ID})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// An editor's update lands, but a supplied editor list is ignored: only
	// the owner reshapes the sharing.
	updated, err := svc.UpdateDocument(ctx, editor.ID, doc.ID, "Draft", "v2", []string{})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}
	if updated.Body != "v2" {
		t.Errorf("body = %q, want v2", updated.Body)
	}
	if len(updated.EditorIDs) != 1 || updated.EditorIDs[0] != editor.ID {
		t.Errorf("editors = %v, want unchanged", updated.EditorIDs)
	}
}

func TestUpdateDocumentDeniedForStranger(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	stranger := registeredUser(t, svc, mem, "stranger")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	_, err = svc.UpdateDocument(ctx, stranger.ID, doc.ID, "Stolen", "x", nil)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want store.ErrNotFound", err)
	}
}

func TestInvitationRedemption(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	inviter := registeredUser(t, svc, mem, "inviter")
	doc, err := svc.CreateDocument(ctx, inviter.ID, "Shared draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	code, err := svc.inviteTokens.SignInvite(inviter.ID, "new@example.com", doc.ID)
	if err != nil {
		t.Fatalf("SignInvite: %v", err)
	}

	if err := svc.Register(ctx, "invitee", "password", code); err != nil {
		t.Fatalf("Register with invitation: %v", err)
	}

	invitee, err := mem.GetUserByUsername(ctx, "invitee")
	if err != nil {
		t.Fatalf("invitee not created: %v", err)
	}
	granted, _ := mem.GetDocument(ctx, doc.ID)
	if !granted.HasEditor(invitee.ID) {
		t.Errorf("editors = %v, want the invitee granted", granted.EditorIDs)
	}

	// Redemption is idempotent: a second registration attempt with the same
	// code fails on the username, but re-running the grant for a fresh user
	// of the same code is a no-op append.
	if err := mem.AddDocumentEditor(ctx, doc.ID, invitee.ID); err != nil {
		t.Fatalf("AddDocumentEditor: %v", err)
	}
	granted, _ = mem.GetDocument(ctx, doc.ID)
	if len(granted.EditorIDs) != 1 {
		t.Errorf("editors = %v, want no duplicate entries", granted.EditorIDs)
	}
}

func TestInvitationTamperedTokenStillCreatesUser(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	inviter := registeredUser(t, svc, mem, "inviter")
	doc, err := svc.CreateDocument(ctx, inviter.ID, "Shared draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	code, err := svc.inviteTokens.SignInvite(inviter.ID, "new@example.com", doc.ID)
	if err != nil {
		t.Fatalf("SignInvite: %v", err)
	}
	tampered := code[:len(code)-2] + "xx"

	err = svc.Register(ctx, "invitee", "password", tampered)
	assertDomainCode(t, err, "invalid_invitation_code")

	// The account stands despite the failed grant.
	if _, err := mem.GetUserByUsername(ctx, "invitee"); err != nil {
		t.Fatalf("invitee was rolled back: %v", err)
	}
	granted, _ := mem.GetDocument(ctx, doc.ID)
	if len(granted.EditorIDs) != 0 {
		t.Errorf("editors = %v, want no grant from a tampered token", granted.EditorIDs)
	}
}

func TestInvitationAccessTokenNotAcceptedAsCode(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	registeredUser(t, svc, mem, "inviter")
	session, err := svc.Login(ctx, "inviter", "password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// An access token is signed with a different secret; it must never pass
	// as an invitation.
	err = svc.Register(ctx, "invitee", "password", session.Token)
	assertDomainCode(t, err, "invalid_invitation_code")
}

func TestInvitationExpiredCode(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	inviter := registeredUser(t, svc, mem, "inviter")
	doc, err := svc.CreateDocument(ctx, inviter.ID, "Shared draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	expired := auth.NewCodec("test-invite-secret", -time.Minute)
	code, err := expired.SignInvite(inviter.ID, "new@example.com", doc.ID)
	if err != nil {
		t.Fatalf("SignInvite: %v", err)
	}

	err = svc.Register(ctx, "invitee", "password", code)
	assertDomainCode(t, err, "invalid_invitation_code")
}

func TestInvitationInviterLostAccess(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	inviter := registeredUser(t, svc, mem, "inviter")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", []string{inviter.ID})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	code, err := svc.inviteTokens.SignInvite(inviter.ID, "new@example.com", doc.ID)
	if err != nil {
		t.Fatalf("SignInvite: %v", err)
	}

	// The owner drops the inviter before the invitee registers.
	if _, err := svc.UpdateDocument(ctx, owner.ID, doc.ID, "Draft", "hello", []string{}); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	err = svc.Register(ctx, "invitee", "password", code)
	assertDomainCode(t, err, "matching_document_not_found")
}

func TestInviteEditorValidatesEmail(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	assertDomainCode(t, svc.InviteEditor(ctx, owner.ID, doc.ID, ""), "missing_or_invalid_email")
	assertDomainCode(t, svc.InviteEditor(ctx, owner.ID, doc.ID, "not-an-email"), "missing_or_invalid_email")
}

func TestInviteEditorDeniedForStranger(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	stranger := registeredUser(t, svc, mem, "stranger")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	err = svc.InviteEditor(ctx, stranger.ID, doc.ID, "new@example.com")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want store.ErrNotFound", err)
	}
}

func TestExportDocumentPDF(t *testing.T) {
	mem := newMemStore()
	svc, _ := newTestService(t, mem)
	ctx := context.Background()

	owner := registeredUser(t, svc, mem, "owner")
	doc, err := svc.CreateDocument(ctx, owner.ID, "Draft", "hello", "text", nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	result, err := svc.ExportDocumentPDF(ctx, owner.ID, doc.ID)
	if err != nil {
		t.Fatalf("ExportDocumentPDF: %v", err)
	}
	if !strings.HasPrefix(string(result.Data), "%PDF") {
		t.Errorf("result is not a PDF: %q", result.Data[:8])
	}

	stranger := registeredUser(t, svc, mem, "stranger")
	_, err = svc.ExportDocumentPDF(ctx, stranger.ID, doc.ID)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want store.ErrNotFound", err)
	}
}

// registeredUser registers username with password "password" and returns the
// stored user row.
func registeredUser(t *testing.T, svc *Service, mem *memStore, username string) store.User {
	t.Helper()
	if err := svc.Register(context.Background(), username, "password", ""); err != nil {
		t.Fatalf("Register %s: %v", username, err)
	}
	user, err := mem.GetUserByUsername(context.Background(), username)
	if err != nil {
		t.Fatalf("lookup %s: %v", username, err)
	}
	return user
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("got %v, want a DomainError with code %s", err, code)
	}
	if domainErr.Code != code {
		t.Fatalf("code = %s, want %s (%s)", domainErr.Code, code, domainErr.Message)
	}
}
