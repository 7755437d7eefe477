package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coauthor/api/internal/auth"
	"coauthor/api/internal/blocks"
	"coauthor/api/internal/logging"
	"coauthor/api/internal/review"
	"coauthor/api/internal/search"
)

type HTTPServer struct {
	service     *Service
	tokenSecret []byte
	corsOrigin  string
	metrics     http.Handler
	logger      logging.Logger
}

type HTTPOptions struct {
	TokenSecret string
	CORSOrigin  string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  logging.Logger
}

func NewHTTPServer(service *Service, opts HTTPOptions) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	origin := opts.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	return &HTTPServer{
		service:     service,
		tokenSecret: []byte(opts.TokenSecret),
		corsOrigin:  origin,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.HandleFunc("GET /api/session", s.authed(s.handleSession))

	mux.HandleFunc("GET /api/documents", s.authed(s.handleListDocuments))
	mux.HandleFunc("POST /api/documents", s.authed(s.handleCreateDocument))
	mux.HandleFunc("GET /api/documents/{id}", s.authed(s.handleGetDocument))
	mux.HandleFunc("POST /api/documents/{id}/submit", s.authed(s.handleSubmit))
	mux.HandleFunc("POST /api/documents/{id}/publish", s.authed(s.handlePublish))
	mux.HandleFunc("GET /api/documents/{id}/timeline", s.authed(s.handleTimeline))

	mux.HandleFunc("POST /api/documents/{id}/comments", s.authed(s.handleAddComment))
	mux.HandleFunc("POST /api/documents/{id}/comments/{commentId}/reactions", s.authed(s.handleReact))
	mux.HandleFunc("POST /api/documents/{id}/comments/{commentId}/resolve", s.authed(s.handleResolve))

	mux.HandleFunc("POST /api/documents/{id}/changes", s.authed(s.handleProposeChange))
	mux.HandleFunc("POST /api/documents/{id}/changes/{changeId}/review", s.authed(s.handleReviewChange))

	mux.HandleFunc("POST /api/documents/{id}/invitations", s.authed(s.handleInvite))
	mux.HandleFunc("POST /api/documents/{id}/invitations/{invitationId}/accept", s.authed(s.handleAcceptInvitation))

	mux.HandleFunc("POST /api/documents/{id}/blocks", s.authed(s.handleAddBlock))
	mux.HandleFunc("PUT /api/documents/{id}/blocks/{blockId}", s.authed(s.handleReplaceBlock))
	mux.HandleFunc("DELETE /api/documents/{id}/blocks/{blockId}", s.authed(s.handleRemoveBlock))
	mux.HandleFunc("POST /api/documents/{id}/blocks/{blockId}/move", s.authed(s.handleMoveBlock))

	mux.HandleFunc("GET /api/documents/{id}/versions", s.authed(s.handleListVersions))
	mux.HandleFunc("POST /api/documents/{id}/versions", s.authed(s.handleNewVersion))
	mux.HandleFunc("GET /api/documents/{id}/versions/{version}", s.authed(s.handleGetSnapshot))
	mux.HandleFunc("GET /api/documents/{id}/diff", s.authed(s.handleDiff))

	mux.HandleFunc("POST /api/blocks", s.authed(s.handleCreateBlock))
	mux.HandleFunc("POST /api/blocks/{type}/validate", s.authed(s.handleValidateBlock))

	mux.HandleFunc("GET /api/search", s.authed(s.handleSearch))

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return s.withMiddleware(mux)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, actor Actor)

// authed resolves the acting author from the bearer token.
func (s *HTTPServer) authed(next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		claims, err := auth.ParseToken(s.tokenSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		next(w, r, Actor{ID: claims.Sub, Name: claims.Name, Email: claims.Email})
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
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
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, actor Actor) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"authorId":      actor.ID,
		"name":          actor.Name,
		"email":         actor.Email,
	})
}

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request, _ Actor) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		Title             string `json:"title"`
		Type              string `json:"type"`
		ApprovalsRequired int    `json:"approvalsRequired"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	doc, err := s.service.CreateDocument(r.Context(), actor, body.Title, body.Type, body.ApprovalsRequired)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDocument(w, http.StatusCreated, doc, actor.ID)
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, actor Actor) {
	doc, err := s.service.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, doc, actor.ID)
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request, actor Actor) {
	doc, err := s.service.SubmitForReview(r.Context(), r.PathValue("id"), actor.ID, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDocument(w, http.StatusOK, doc, actor.ID)
}

func (s *HTTPServer) handlePublish(w http.ResponseWriter, r *http.Request, actor Actor) {
	res, err := s.service.Publish(r.Context(), r.PathValue("id"), actor.ID, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document": viewDocument(res.Document, actor.ID),
		"version":  res.Item,
	})
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request, _ Actor) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := s.service.Timeline(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body review.NewComment
	if !decodeOrFail(w, r, &body) {
		return
	}
	res, err := s.service.AddComment(r.Context(), r.PathValue("id"), actor.ID, body, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeNote(w, http.StatusCreated, res, actor.ID)
}

func (s *HTTPServer) handleReact(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		Reaction review.Reaction `json:"reaction"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	res, err := s.service.ReactToComment(r.Context(), r.PathValue("id"), r.PathValue("commentId"), actor.ID, body.Reaction)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeNote(w, http.StatusOK, res, actor.ID)
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		Status review.CommentStatus `json:"status"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	if body.Status == "" {
		body.Status = review.CommentResolved
	}
	res, err := s.service.ResolveComment(r.Context(), r.PathValue("id"), r.PathValue("commentId"), actor.ID, body.Status, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeNote(w, http.StatusOK, res, actor.ID)
}

func (s *HTTPServer) handleProposeChange(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body review.NewChange
	if !decodeOrFail(w, r, &body) {
		return
	}
	res, err := s.service.ProposeChange(r.Context(), r.PathValue("id"), actor.ID, body, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChange(w, http.StatusCreated, res, actor.ID)
}

func (s *HTTPServer) handleReviewChange(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		Decision review.Decision `json:"decision"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	res, err := s.service.ReviewChange(r.Context(), r.PathValue("id"), r.PathValue("changeId"), actor.ID, body.Decision, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChange(w, http.StatusOK, res, actor.ID)
}

func (s *HTTPServer) handleInvite(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	res, err := s.service.InviteAuthor(r.Context(), r.PathValue("id"), actor.ID, body.Email, body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"document":   viewDocument(res.Document, actor.ID),
		"invitation": res.Item,
	})
}

func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request, actor Actor) {
	res, err := s.service.AcceptInvitation(r.Context(), r.PathValue("id"), r.PathValue("invitationId"), actor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"document": viewDocument(res.Document, actor.ID),
		"author":   res.Item,
	})
}

func (s *HTTPServer) handleAddBlock(w http.ResponseWriter, r *http.Request, actor Actor) {
	body := struct {
		Type  blocks.Type     `json:"type"`
		Props json.RawMessage `json:"props"`
		Index *int            `json:"index"`
	}{}
	if !decodeOrFail(w, r, &body) {
		return
	}
	index := -1
	if body.Index != nil {
		index = *body.Index
	}
	res, err := s.service.AddBlock(r.Context(), r.PathValue("id"), actor.ID, body.Type, body.Props, index, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChange(w, http.StatusCreated, res, actor.ID)
}

func (s *HTTPServer) handleReplaceBlock(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		Props json.RawMessage `json:"props"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	res, err := s.service.ReplaceBlock(r.Context(), r.PathValue("id"), actor.ID, r.PathValue("blockId"), body.Props, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChange(w, http.StatusOK, res, actor.ID)
}

func (s *HTTPServer) handleRemoveBlock(w http.ResponseWriter, r *http.Request, actor Actor) {
	res, err := s.service.RemoveBlock(r.Context(), r.PathValue("id"), actor.ID, r.PathValue("blockId"), expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChange(w, http.StatusOK, res, actor.ID)
}

func (s *HTTPServer) handleMoveBlock(w http.ResponseWriter, r *http.Request, actor Actor) {
	var body struct {
		Index int `json:"index"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	res, err := s.service.MoveBlock(r.Context(), r.PathValue("id"), actor.ID, r.PathValue("blockId"), body.Index, expectedRevision(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeChange(w, http.StatusOK, res, actor.ID)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request, _ Actor) {
	versions, err := s.service.Versions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *HTTPServer) handleNewVersion(w http.ResponseWriter, r *http.Request, actor Actor) {
	doc, err := s.service.NewVersion(r.Context(), r.PathValue("id"), actor.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeDocument(w, http.StatusCreated, doc, actor.ID)
}

func (s *HTTPServer) handleGetSnapshot(w http.ResponseWriter, r *http.Request, _ Actor) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		s.fail(w, r, blocks.ValidationErrors{{Field: "version", Reason: "version must be a positive integer"}})
		return
	}
	snap, err := s.service.Snapshot(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *HTTPServer) handleDiff(w http.ResponseWriter, r *http.Request, _ Actor) {
	from, err := queryInt(r, "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryInt(r, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changes, err := s.service.Diff(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to, "changes": changes})
}

func (s *HTTPServer) handleCreateBlock(w http.ResponseWriter, r *http.Request, _ Actor) {
	var body struct {
		Type  blocks.Type     `json:"type"`
		Props json.RawMessage `json:"props"`
	}
	if !decodeOrFail(w, r, &body) {
		return
	}
	b, err := s.service.CreateBlock(body.Type, body.Props)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleValidateBlock(w http.ResponseWriter, r *http.Request, _ Actor) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid body", nil)
		return
	}
	errs := s.service.ValidateBlock(blocks.Type(r.PathValue("type")), raw)
	if errs == nil {
		errs = blocks.ValidationErrors{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(errs) == 0, "errors": errs})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, _ Actor) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:             q.Get("q"),
		FilterType:       search.ResultType(q.Get("type")),
		FilterDocumentID: q.Get("documentId"),
		FilterStatus:     q.Get("status"),
		Limit:            limit,
		Offset:           offset,
	}))
}

// documentView is a document plus the reaction summaries of its comments as
// seen by the requesting author.
type documentView struct {
	*review.Document
	Reactions map[string]review.ReactionSummary `json:"reactions"`
}

func viewDocument(doc *review.Document, viewerID string) documentView {
	reactions := make(map[string]review.ReactionSummary)
	for _, c := range doc.Comments {
		reactions[c.ID] = c.ReactionsFor(viewerID)
		for _, reply := range c.Replies {
			reactions[reply.ID] = reply.ReactionsFor(viewerID)
		}
	}
	return documentView{Document: doc, Reactions: reactions}
}

func writeDocument(w http.ResponseWriter, status int, doc *review.Document, viewerID string) {
	writeJSON(w, status, viewDocument(doc, viewerID))
}

func writeNote(w http.ResponseWriter, status int, res Result[review.Note], viewerID string) {
	writeJSON(w, status, map[string]any{
		"document":  viewDocument(res.Document, viewerID),
		"comment":   res.Item,
		"reactions": res.Item.ReactionsFor(viewerID),
	})
}

func writeChange(w http.ResponseWriter, status int, res Result[review.Change], viewerID string) {
	writeJSON(w, status, map[string]any{
		"document": viewDocument(res.Document, viewerID),
		"change":   res.Item,
	})
}

// expectedRevision reads the optional If-Match header. Zero means the caller
// did not ask for a revision check.
func expectedRevision(r *http.Request) int64 {
	value := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	if value == "" {
		return 0
	}
	rev, err := strconv.ParseInt(value, 10, 64)
	if err != nil || rev < 0 {
		return -1
	}
	return rev
}

func queryInt(r *http.Request, name string) (int, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, blocks.ValidationErrors{{Field: name, Reason: name + " must be a non-negative integer"}}
	}
	return n, nil
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	domainErr := toDomainError(err)
	if domainErr.Status >= http.StatusInternalServerError {
		s.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Infow("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-Match, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(w, r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}
