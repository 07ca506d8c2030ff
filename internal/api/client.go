// Package api is the HTTP client for the memo, comment and note endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"zentel/client/internal/store"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"')\]]+`)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, token, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(baseURL, token string, httpClient *http.Client) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// BaseURL is the versioned API root, used to build the event stream URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type CreateMemoInput struct {
	MemoType  store.MemoType `json:"memo_type"`
	Content   string         `json:"content"`
	SourceURL *string        `json:"source_url,omitempty"`
}

// UpdateMemoInput patches a memo. A non-nil empty Interests clears them;
// RematchInterests asks the server to match them against the content instead.
type UpdateMemoInput struct {
	MemoType         *store.MemoType `json:"memo_type,omitempty"`
	Content          *string         `json:"content,omitempty"`
	Interests        *[]string       `json:"interests,omitempty"`
	RematchInterests bool            `json:"rematch_interests,omitempty"`
}

type ListMemosInput struct {
	Type   store.MemoType
	Limit  int
	Offset int
}

type CreateNoteInput struct {
	SourceMemoIDs []string `json:"source_memo_ids"`
	Title         string   `json:"title,omitempty"`
	Content       string   `json:"content,omitempty"`
}

func (c *Client) CreateMemo(ctx context.Context, input CreateMemoInput) (store.Memo, error) {
	if strings.TrimSpace(input.Content) == "" {
		return store.Memo{}, InvalidError("content is required")
	}
	if _, ok := store.ParseMemoType(string(input.MemoType)); !ok {
		return store.Memo{}, InvalidError(fmt.Sprintf("unknown memo type %q", input.MemoType))
	}
	if input.MemoType == store.MemoExternalSource && input.SourceURL == nil {
		if found := urlPattern.FindString(input.Content); found != "" {
			input.SourceURL = &found
		}
	}
	var memo store.Memo
	err := c.do(ctx, http.MethodPost, "/temp-memos", nil, input, &memo)
	return memo, err
}

func (c *Client) ListMemos(ctx context.Context, input ListMemosInput) (store.MemoList, error) {
	query := url.Values{}
	if input.Type != "" {
		query.Set("type", string(input.Type))
	}
	if input.Limit > 0 {
		query.Set("limit", strconv.Itoa(input.Limit))
	}
	if input.Offset > 0 {
		query.Set("offset", strconv.Itoa(input.Offset))
	}
	var list store.MemoList
	err := c.do(ctx, http.MethodGet, "/temp-memos", query, nil, &list)
	return list, err
}

func (c *Client) GetMemo(ctx context.Context, memoID string) (store.Memo, error) {
	var memo store.Memo
	err := c.do(ctx, http.MethodGet, "/temp-memos/"+url.PathEscape(memoID), nil, nil, &memo)
	return memo, err
}

func (c *Client) UpdateMemo(ctx context.Context, memoID string, input UpdateMemoInput) (store.Memo, error) {
	if input.MemoType == nil && input.Content == nil && input.Interests == nil && !input.RematchInterests {
		return store.Memo{}, InvalidError("nothing to update")
	}
	if input.Content != nil && strings.TrimSpace(*input.Content) == "" {
		return store.Memo{}, InvalidError("content is required")
	}
	if input.MemoType != nil {
		if _, ok := store.ParseMemoType(string(*input.MemoType)); !ok {
			return store.Memo{}, InvalidError(fmt.Sprintf("unknown memo type %q", *input.MemoType))
		}
	}
	var memo store.Memo
	err := c.do(ctx, http.MethodPatch, "/temp-memos/"+url.PathEscape(memoID), nil, input, &memo)
	return memo, err
}

func (c *Client) DeleteMemo(ctx context.Context, memoID string) error {
	return c.do(ctx, http.MethodDelete, "/temp-memos/"+url.PathEscape(memoID), nil, nil, nil)
}

// Reanalyze resets the memo to pending server-side. A 400 means the memo is
// already analyzing and comes back as ErrConflict.
func (c *Client) Reanalyze(ctx context.Context, memoID string, force bool) (store.Memo, error) {
	query := url.Values{}
	if force {
		query.Set("force", "true")
	}
	var memo store.Memo
	err := c.do(ctx, http.MethodPost, "/temp-memos/"+url.PathEscape(memoID)+"/reanalyze", query, nil, &memo)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest {
		return store.Memo{}, ConflictError(firstNonBlank(apiErr.Message, "analysis already in progress"))
	}
	return memo, err
}

func (c *Client) ListComments(ctx context.Context, memoID string) ([]store.Comment, error) {
	var list store.CommentList
	if err := c.do(ctx, http.MethodGet, commentsPath(memoID), nil, nil, &list); err != nil {
		return nil, err
	}
	if list.Items == nil {
		return []store.Comment{}, nil
	}
	return list.Items, nil
}

func (c *Client) CreateComment(ctx context.Context, memoID, content string) (store.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return store.Comment{}, InvalidError("comment content is required")
	}
	body := map[string]string{"content": content}
	var comment store.Comment
	err := c.do(ctx, http.MethodPost, commentsPath(memoID), nil, body, &comment)
	return comment, err
}

func (c *Client) UpdateComment(ctx context.Context, memoID, commentID, content string) (store.Comment, error) {
	body := map[string]string{"content": content}
	var comment store.Comment
	err := c.do(ctx, http.MethodPatch, commentsPath(memoID)+"/"+url.PathEscape(commentID), nil, body, &comment)
	return comment, err
}

func (c *Client) DeleteComment(ctx context.Context, memoID, commentID string) error {
	return c.do(ctx, http.MethodDelete, commentsPath(memoID)+"/"+url.PathEscape(commentID), nil, nil, nil)
}

func (c *Client) Develop(ctx context.Context, memoIDs []string) (store.SynthesisResult, error) {
	body := map[string][]string{"source_memo_ids": memoIDs}
	var result store.SynthesisResult
	err := c.do(ctx, http.MethodPost, "/permanent-notes/develop", nil, body, &result)
	return result, err
}

func (c *Client) CreateNote(ctx context.Context, input CreateNoteInput) (store.PermanentNote, error) {
	var note store.PermanentNote
	err := c.do(ctx, http.MethodPost, "/permanent-notes", nil, input, &note)
	return note, err
}

func (c *Client) Profile(ctx context.Context) (store.Profile, error) {
	var profile store.Profile
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &profile)
	return profile, err
}

func commentsPath(memoID string) string {
	return "/temp-memos/" + url.PathEscape(memoID) + "/comments"
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("api: %s %s failed after %dms: %v", method, path, time.Since(started).Milliseconds(), err)
		return networkError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apiError(resp.StatusCode, "INVALID_RESPONSE", "unexpected response from server", nil).wrap(err)
	}
	return nil
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// decodeError understands both FastAPI's {"detail": ...} and the
// {"code","error","details"} envelope.
func decodeError(status int, raw []byte) *Error {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Code    string          `json:"code"`
		Error   string          `json:"error"`
		Details any             `json:"details"`
	}
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return apiError(status, code, strings.TrimSpace(string(raw)), nil)
	}
	if envelope.Code != "" {
		code = envelope.Code
	}
	message := envelope.Error
	var details any = envelope.Details
	if len(envelope.Detail) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Detail, &text); err == nil {
			message = text
		} else {
			var structured struct {
				Message string `json:"message"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(envelope.Detail, &structured); err == nil && structured.Message != "" {
				message = structured.Message
				details = map[string]any{"error": structured.Error}
			} else {
				details = envelope.Detail
			}
		}
	}
	return apiError(status, code, firstNonBlank(message, http.StatusText(status)), details)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
