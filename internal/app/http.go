package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"inkwell/api/internal/auth"
	"inkwell/api/internal/graph"
	"inkwell/api/internal/realtime"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// accessTokenHeader carries the bearer token on protected routes. The
// websocket route additionally accepts a token query parameter because
// browsers cannot set headers on websocket upgrades.
const accessTokenHeader = "X-Access-Token"

type HTTPServer struct {
	service    *Service
	graph      *graph.Service
	hub        *realtime.Hub
	corsOrigin string
	log        *zap.SugaredLogger
}

func NewHTTPServer(service *Service, graphSvc *graph.Service, hub *realtime.Hub, corsOrigin string, log *zap.SugaredLogger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		graph:      graphSvc,
		hub:        hub,
		corsOrigin: corsOrigin,
		log:        log,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Account routes, no session required.
	if r.Method == http.MethodPost && r.URL.Path == "/user/register" {
		s.handleRegister(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/user/login" {
		s.handleLogin(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/user/refresh" {
		s.handleRefresh(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/user/logout" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/ws" {
		realtime.ServeWS(s.hub, w, r, session.UserID)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/user/list" {
		usernames, err := s.service.ListUsernames(r.Context())
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"usernames": usernames})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/graphql" {
		var body graph.Request
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_data", "request body is not valid JSON")
			return
		}
		writeJSON(w, http.StatusOK, s.graph.Execute(r.Context(), session.UserID, body))
		return
	}

	if r.URL.Path == "/document" {
		switch r.Method {
		case http.MethodGet:
			docs, err := s.service.ListDocumentsForUser(r.Context(), session.UserID)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, docs)
			return
		case http.MethodPost:
			s.handleCreateDocument(w, r, session)
			return
		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_data", "method not allowed")
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/document/search" {
		s.handleSearch(w, r, session)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "document" {
		docID := parts[1]
		if !util.IsValidID(docID) {
			writeError(w, http.StatusBadRequest, "invalid_id", "document id is malformed")
			return
		}
		s.handleDocument(w, r, session, docID, parts)
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "no such route")
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username       string `json:"username"`
		Password       string `json:"password"`
		InvitationCode string `json:"invitation_code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_credentials", "request body is not valid JSON")
		return
	}
	if err := s.service.Register(r.Context(), body.Username, body.Password, body.InvitationCode); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": "user_created"})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_credentials", "request body is not valid JSON")
		return
	}
	session, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":         session.Token,
		"refresh_token": session.RefreshToken,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid_data", "refresh_token is required")
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":         session.Token,
		"refresh_token": session.RefreshToken,
	})
}

type documentBody struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Type      string   `json:"type"`
	OwnerID   string   `json:"ownerId"`
	EditorIDs []string `json:"editorIds"`
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, session Session) {
	var body documentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_data", "request body is not valid JSON")
		return
	}
	// ownerId in the body is ignored; ownership follows the session.
	doc, err := s.service.CreateDocument(r.Context(), session.UserID, body.Title, body.Body, body.Type, body.EditorIDs)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_data", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid_data", "offset must be a non-negative integer")
			return
		}
		offset = parsed
	}
	writeJSON(w, http.StatusOK, s.service.SearchDocuments(r.Context(), session.UserID, q, limit, offset))
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, session Session, docID string, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			doc, err := s.service.GetDocumentForUser(r.Context(), docID, session.UserID)
			if err != nil {
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
			return
		case http.MethodPut:
			var body documentBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_data", "request body is not valid JSON")
				return
			}
			doc, err := s.service.UpdateDocument(r.Context(), session.UserID, docID, body.Title, body.Body, body.EditorIDs)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusNotFound, "document_not_found", "no accessible document with that id")
					return
				}
				s.writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
			return
		default:
			writeError(w, http.StatusMethodNotAllowed, "invalid_data", "method not allowed")
			return
		}
	}

	if len(parts) == 3 && parts[2] == "pdf" && r.Method == http.MethodGet {
		result, err := s.service.ExportDocumentPDF(r.Context(), session.UserID, docID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Type", result.MimeType)
		_, _ = w.Write(result.Data)
		return
	}

	if len(parts) == 3 && parts[2] == "invite-editor" && r.Method == http.MethodPost {
		var body struct {
			InviteeEmail string `json:"invitee_email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "missing_or_invalid_email", "request body is not valid JSON")
			return
		}
		if err := s.service.InviteEditor(r.Context(), session.UserID, docID, body.InviteeEmail); err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": "invitation_emailed"})
		return
	}

	if len(parts) == 3 && parts[2] == "history" && r.Method == http.MethodGet {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		revisions, err := s.service.DocumentHistory(r.Context(), session.UserID, docID, limit)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": revisions})
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "no such route")
}

// requireSession is the session gate: it verifies the access token and
// attaches the caller identity. All verification failures look identical to
// the client.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := accessToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing_credentials", "no access token supplied")
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication_error", "access token is invalid")
		return Session{}, false
	}
	return session, true
}

// accessToken extracts the bearer token: first X-Access-Token header value,
// with a token query parameter fallback on the websocket route.
func accessToken(r *http.Request) string {
	values := r.Header.Values(accessTokenHeader)
	if len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	if r.URL.Path == "/ws" {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Infow("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade pass through the logging wrapper.
func (r *statusRecorder) Hijack() (conn net.Conn, rw *bufio.ReadWriter, err error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, "+accessTokenHeader+", X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error":   code,
		"message": message,
	})
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "matching_document_not_found", "no accessible document with that id")
		return
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "authentication_error", "access token is invalid")
		return
	}
	s.log.Errorw("unclassified error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("empty body")
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
