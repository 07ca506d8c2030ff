package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"zentel/client/internal/search"
	"zentel/client/internal/store"
)

// HTTPServer is the local JSON bridge a UI polls for session state.
type HTTPServer struct {
	session    *Session
	corsOrigin string
}

func NewHTTPServer(session *Session, corsOrigin string) *HTTPServer {
	return &HTTPServer{session: session, corsOrigin: corsOrigin}
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
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/comments/waiting" {
		writeJSON(w, http.StatusOK, map[string]any{"items": s.session.Waiting()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/mentions" {
		state, err := s.session.Mentions(r.Context(), r.URL.Query().Get("text"))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "jobs" {
		s.handleJobs(w, r, parts[2:])
		return
	}
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "memos" {
		s.handleMemo(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"stream": map[string]any{"status": "ok"},
		"cache":  map[string]any{"status": "ok"},
	}

	connected, cacheErr := s.session.Ready(ctx)
	if !connected {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["stream"] = map[string]any{"status": "disconnected"}
	}
	if cacheErr != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["cache"] = map[string]any{
			"status": "error",
			"error":  cacheErr.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.session.Jobs()})
	case len(parts) == 1 && r.Method == http.MethodGet:
		job, ok := s.session.Job(parts[0])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Memo is not tracked", nil)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case len(parts) == 2 && parts[1] == "check" && r.Method == http.MethodPost:
		job, err := s.session.CheckStatus(r.Context(), parts[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	case len(parts) == 2 && parts[1] == "reanalyze" && r.Method == http.MethodPost:
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
		job, err := s.session.Reanalyze(r.Context(), parts[0], force)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleMemo(w http.ResponseWriter, r *http.Request, memoID string, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		memo, err := s.session.Memo(r.Context(), memoID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, memo)
	case len(parts) == 1 && parts[0] == "comments" && r.Method == http.MethodGet:
		list, err := s.session.CachedComments(r.Context(), memoID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, store.CommentList{Items: list, Total: len(list)})
	case len(parts) == 1 && parts[0] == "comments" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Content) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
			return
		}
		result, err := s.session.AddComment(r.Context(), memoID, body.Content)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	resultType, ok := search.ParseResultType(query.Get("type"))
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be memo or comment", nil)
		return
	}
	q := search.Query{
		Text:             text,
		FilterType:       resultType,
		ExcludeAIReplies: query.Get("ai") == "false",
	}
	if memoType := query.Get("memoType"); memoType != "" {
		parsed, ok := store.ParseMemoType(memoType)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown memoType", nil)
			return
		}
		q.FilterMemoType = parsed
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil && limit > 0 {
		q.Limit = min(limit, 100)
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil && offset > 0 {
		q.Offset = offset
	}
	writeJSON(w, http.StatusOK, s.session.Search(q))
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
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
