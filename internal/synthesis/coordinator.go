// Package synthesis turns a set of memos into a structured analysis and an
// editable permanent-note draft.
package synthesis

import (
	"context"
	"fmt"
	"log"
	"strings"

	"zentel/client/internal/api"
	"zentel/client/internal/store"
)

type Backend interface {
	Develop(ctx context.Context, memoIDs []string) (store.SynthesisResult, error)
	GetMemo(ctx context.Context, memoID string) (store.Memo, error)
	CreateNote(ctx context.Context, input api.CreateNoteInput) (store.PermanentNote, error)
}

type Coordinator struct {
	backend Backend
}

func NewCoordinator(backend Backend) *Coordinator {
	return &Coordinator{backend: backend}
}

// Develop requests the synthesis for memoIDs. An empty set fails locally and is
// never sent. Server errors come back unchanged so the caller can retry.
func (c *Coordinator) Develop(ctx context.Context, memoIDs []string) (store.SynthesisResult, error) {
	ids, err := normalizeIDs(memoIDs)
	if err != nil {
		return store.SynthesisResult{}, err
	}
	log.Printf("synthesis: developing note from %d memos", len(ids))
	return c.backend.Develop(ctx, ids)
}

// Draft develops memoIDs and derives a draft in the requested mode. Verbatim
// drafts read the memos directly and skip the synthesis call.
func (c *Coordinator) Draft(ctx context.Context, memoIDs []string, mode Mode) (Draft, *store.SynthesisResult, error) {
	switch mode {
	case ModeVerbatim:
		memos, err := c.SourceMemos(ctx, memoIDs)
		if err != nil {
			return Draft{}, nil, err
		}
		return VerbatimDraft(memos), nil, nil
	case ModeStructured, "":
		result, err := c.Develop(ctx, memoIDs)
		if err != nil {
			return Draft{}, nil, err
		}
		return StructuredDraft(result), &result, nil
	default:
		return Draft{}, nil, api.InvalidError(fmt.Sprintf("unknown draft mode %q", mode))
	}
}

// SourceMemos loads the memos in the order given.
func (c *Coordinator) SourceMemos(ctx context.Context, memoIDs []string) ([]store.SourceMemo, error) {
	ids, err := normalizeIDs(memoIDs)
	if err != nil {
		return nil, err
	}
	out := make([]store.SourceMemo, 0, len(ids))
	for _, id := range ids {
		memo, err := c.backend.GetMemo(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, store.SourceMemo{ID: memo.ID, Content: memo.Content, Context: memo.Context})
	}
	return out, nil
}

// Publish saves the draft as a permanent note.
func (c *Coordinator) Publish(ctx context.Context, draft Draft) (store.PermanentNote, error) {
	ids, err := normalizeIDs(draft.SourceMemoIDs)
	if err != nil {
		return store.PermanentNote{}, err
	}
	return c.backend.CreateNote(ctx, api.CreateNoteInput{
		SourceMemoIDs: ids,
		Title:         draft.Title,
		Content:       draft.Body,
	})
}

// normalizeIDs drops blanks and repeats, keeping first-seen order.
func normalizeIDs(memoIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(memoIDs))
	ids := make([]string, 0, len(memoIDs))
	for _, id := range memoIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, api.InvalidError("select at least one memo")
	}
	return ids, nil
}
