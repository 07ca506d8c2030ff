// Package events maintains the shared server-push connection that reports
// memo analysis progress and AI comment replies.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"zentel/client/internal/store"
)

type Kind string

const (
	KindProgress   Kind = "progress"
	KindComplete   Kind = "complete"
	KindAIResponse Kind = "ai_response"
)

type Progress struct {
	MemoID    string    `json:"memo_id"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Complete struct {
	MemoID string
	Status store.AnalysisStatus
	Error  string
}

type AIResponse struct {
	MemoID          string
	CommentID       string
	ParentCommentID string
	Status          store.ResponseStatus
	Error           string
}

// Event is one decoded notification. Exactly one of the payload pointers is set,
// matching Kind.
type Event struct {
	Kind       Kind
	MemoID     string
	Progress   *Progress
	Complete   *Complete
	AIResponse *AIResponse
	ReceivedAt time.Time
}

// ErrMalformed marks a payload that could not be decoded into an Event.
var ErrMalformed = errors.New("malformed event")

// errIgnored marks frames that are valid but carry nothing for handlers.
var errIgnored = errors.New("ignored event")

type wirePayload struct {
	EventType       string `json:"event_type"`
	MemoID          string `json:"memo_id"`
	Step            string `json:"step"`
	Message         string `json:"message"`
	Detail          string `json:"detail"`
	Timestamp       string `json:"timestamp"`
	Status          string `json:"status"`
	Error           string `json:"error"`
	CommentID       string `json:"comment_id"`
	ParentCommentID string `json:"parent_comment_id"`
}

var eventNames = map[string]Kind{
	"progress":            KindProgress,
	"analysis_progress":   KindProgress,
	"complete":            KindComplete,
	"analysis_complete":   KindComplete,
	"ai_response":         KindAIResponse,
	"comment_ai_response": KindAIResponse,
}

// decode turns one SSE frame into an Event. The payload's event_type wins over
// the frame name because the server sends AI replies under analysis_complete.
func decode(name, data string, now time.Time) (Event, error) {
	if name == "ping" {
		return Event{}, errIgnored
	}
	if strings.TrimSpace(data) == "" {
		if name == "" || name == "message" {
			return Event{}, errIgnored
		}
		return Event{}, fmt.Errorf("%w: %s event without data", ErrMalformed, name)
	}

	var payload wirePayload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}

	kind, ok := eventNames[payload.EventType]
	if !ok {
		kind, ok = eventNames[name]
	}
	if !ok {
		return Event{}, fmt.Errorf("%w: unknown event %q (event_type %q)", ErrMalformed, name, payload.EventType)
	}
	if strings.TrimSpace(payload.MemoID) == "" {
		return Event{}, fmt.Errorf("%w: %s without memo_id", ErrMalformed, kind)
	}

	event := Event{Kind: kind, MemoID: payload.MemoID, ReceivedAt: now}
	switch kind {
	case KindProgress:
		timestamp := now
		if payload.Timestamp != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, payload.Timestamp); err == nil {
				timestamp = parsed
			}
		}
		event.Progress = &Progress{
			MemoID:    payload.MemoID,
			Step:      payload.Step,
			Message:   payload.Message,
			Detail:    payload.Detail,
			Timestamp: timestamp,
		}
	case KindComplete:
		status := store.AnalysisStatus(payload.Status)
		if !status.Terminal() {
			return Event{}, fmt.Errorf("%w: complete with non-terminal status %q", ErrMalformed, payload.Status)
		}
		event.Complete = &Complete{MemoID: payload.MemoID, Status: status, Error: payload.Error}
	case KindAIResponse:
		status := store.ResponseStatus(payload.Status)
		if !status.Terminal() {
			return Event{}, fmt.Errorf("%w: ai_response with non-terminal status %q", ErrMalformed, payload.Status)
		}
		if strings.TrimSpace(payload.ParentCommentID) == "" {
			return Event{}, fmt.Errorf("%w: ai_response without parent_comment_id", ErrMalformed)
		}
		event.AIResponse = &AIResponse{
			MemoID:          payload.MemoID,
			CommentID:       payload.CommentID,
			ParentCommentID: payload.ParentCommentID,
			Status:          status,
			Error:           payload.Error,
		}
	}
	return event, nil
}
