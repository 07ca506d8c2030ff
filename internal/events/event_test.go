package events

import (
	"errors"
	"testing"
	"time"

	"zentel/client/internal/store"
)

func TestDecodeKinds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		event string
		data  string
		kind  Kind
	}{
		{"server progress", "analysis_progress", `{"memo_id":"m1","step":"scrape","message":"Fetching"}`, KindProgress},
		{"short progress", "progress", `{"memo_id":"m1","step":"llm"}`, KindProgress},
		{"server complete", "analysis_complete", `{"event_type":"complete","memo_id":"m1","status":"failed","error":"boom"}`, KindComplete},
		{"ai reply under complete name", "analysis_complete", `{"event_type":"comment_ai_response","memo_id":"m1","comment_id":"c2","parent_comment_id":"c1","status":"completed"}`, KindAIResponse},
		{"short ai reply", "ai_response", `{"memo_id":"m1","parent_comment_id":"c1","status":"failed"}`, KindAIResponse},
		{"unnamed frame with event_type", "", `{"event_type":"progress","memo_id":"m1"}`, KindProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decode(tt.event, tt.data, now)
			if err != nil {
				t.Fatalf("decode() error = %v", err)
			}
			if event.Kind != tt.kind || event.MemoID != "m1" {
				t.Fatalf("decode() = %+v", event)
			}
		})
	}
}

func TestDecodePayloads(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event, err := decode("analysis_progress", `{"memo_id":"m1","step":"translate","message":"Translating","detail":"en","timestamp":"2026-03-01T11:59:58Z"}`, now)
	if err != nil {
		t.Fatalf("decode() error = %v", err)
	}
	if event.Progress == nil || event.Progress.Detail != "en" || !event.Progress.Timestamp.Equal(now.Add(-2*time.Second)) {
		t.Fatalf("unexpected progress %+v", event.Progress)
	}

	event, err = decode("analysis_complete", `{"event_type":"comment_ai_response","memo_id":"m1","comment_id":"c2","parent_comment_id":"c1","status":"completed","error":null}`, now)
	if err != nil {
		t.Fatalf("decode() error = %v", err)
	}
	if event.AIResponse == nil || event.AIResponse.ParentCommentID != "c1" || event.AIResponse.Status != store.ResponseCompleted {
		t.Fatalf("unexpected ai response %+v", event.AIResponse)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
	}{
		{"broken json", "analysis_progress", `{"memo_id":`},
		{"missing memo", "analysis_progress", `{"step":"start"}`},
		{"non-terminal complete", "analysis_complete", `{"memo_id":"m1","status":"analyzing"}`},
		{"ai reply without parent", "ai_response", `{"memo_id":"m1","status":"completed"}`},
		{"unknown name", "memo_deleted", `{"memo_id":"m1"}`},
		{"named frame without data", "analysis_complete", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decode(tt.event, tt.data, time.Now()); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeIgnoresPing(t *testing.T) {
	if _, err := decode("ping", `{"timestamp":"2026-03-01T12:00:00Z"}`, time.Now()); !errors.Is(err, errIgnored) {
		t.Fatalf("expected ping to be ignored, got %v", err)
	}
	if _, err := decode("", "", time.Now()); !errors.Is(err, errIgnored) {
		t.Fatalf("expected empty frame to be ignored, got %v", err)
	}
}
