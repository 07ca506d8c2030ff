// Package comments tracks comments waiting for an AI persona reply.
package comments

import (
	"context"
	"sort"
	"sync"
	"time"

	"zentel/client/internal/api"
	"zentel/client/internal/events"
	"zentel/client/internal/store"
)

type CommentSource interface {
	ListComments(ctx context.Context, memoID string) ([]store.Comment, error)
	CreateComment(ctx context.Context, memoID, content string) (store.Comment, error)
	UpdateComment(ctx context.Context, memoID, commentID, content string) (store.Comment, error)
	DeleteComment(ctx context.Context, memoID, commentID string) error
}

type Subscriber interface {
	Subscribe(kind events.Kind, targetID string, h events.Handler) func()
}

// earlyReplyWindow bounds how long an ai_response for an unknown parent is
// kept for a CreateComment call that has not returned yet.
const earlyReplyWindow = time.Minute

type Options struct {
	// OnRefetch asks the owner to reload the memo's comment list. The reply
	// comment itself only becomes visible through that reload.
	OnRefetch func(memoID string)
}

type Waiting struct {
	CommentID string `json:"comment_id"`
	MemoID    string `json:"memo_id"`
}

type Tracker struct {
	source CommentSource
	opts   Options

	mu        sync.Mutex
	waiting   map[string]string
	aiReplies map[string]struct{}
	early     map[string]time.Time

	now func() time.Time
}

func NewTracker(source CommentSource, opts Options) *Tracker {
	return &Tracker{
		source:    source,
		opts:      opts,
		waiting:   make(map[string]string),
		aiReplies: make(map[string]struct{}),
		early:     make(map[string]time.Time),
		now:       time.Now,
	}
}

func (t *Tracker) Attach(stream Subscriber) (detach func()) {
	return stream.Subscribe(events.KindAIResponse, "", t.HandleAIResponse)
}

// CreateComment posts a comment and starts waiting when it triggered a reply job.
func (t *Tracker) CreateComment(ctx context.Context, memoID, content string) (store.Comment, error) {
	comment, err := t.source.CreateComment(ctx, memoID, content)
	if err != nil {
		return store.Comment{}, err
	}
	if comment.Status() != store.ResponsePending {
		return comment, nil
	}
	owner := firstNonEmpty(comment.MemoID, memoID)
	t.mu.Lock()
	at, answered := t.early[comment.ID]
	delete(t.early, comment.ID)
	answered = answered && t.now().Sub(at) <= earlyReplyWindow
	if !answered {
		t.waiting[comment.ID] = owner
	}
	t.mu.Unlock()

	if answered && t.opts.OnRefetch != nil {
		t.opts.OnRefetch(owner)
	}
	return comment, nil
}

// HandleAIResponse resolves the waiting parent comment. A parent that is not
// waiting is remembered briefly in case its CreateComment is still in flight.
func (t *Tracker) HandleAIResponse(e events.Event) {
	if e.AIResponse == nil {
		return
	}
	parentID := e.AIResponse.ParentCommentID
	t.mu.Lock()
	memoID, ok := t.waiting[parentID]
	if ok {
		delete(t.waiting, parentID)
	} else if parentID != "" {
		t.rememberEarlyLocked(parentID)
	}
	t.mu.Unlock()

	if ok && t.opts.OnRefetch != nil {
		t.opts.OnRefetch(memoID)
	}
}

func (t *Tracker) rememberEarlyLocked(parentID string) {
	now := t.now()
	for id, at := range t.early {
		if now.Sub(at) > earlyReplyWindow {
			delete(t.early, id)
		}
	}
	t.early[parentID] = now
}

func (t *Tracker) IsWaiting(commentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.waiting[commentID]
	return ok
}

func (t *Tracker) Waiting() []Waiting {
	t.mu.Lock()
	out := make([]Waiting, 0, len(t.waiting))
	for commentID, memoID := range t.waiting {
		out = append(out, Waiting{CommentID: commentID, MemoID: memoID})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, k int) bool {
		if out[i].MemoID != out[k].MemoID {
			return out[i].MemoID < out[k].MemoID
		}
		return out[i].CommentID < out[k].CommentID
	})
	return out
}

// Reconcile replaces what is known about memoID with a freshly fetched list:
// in-flight reply jobs wait, finished ones stop waiting, and comments that are
// gone are forgotten.
func (t *Tracker) Reconcile(memoID string, list []store.Comment) {
	present := make(map[string]struct{}, len(list))

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, comment := range list {
		present[comment.ID] = struct{}{}
		if comment.IsAIResponse {
			t.aiReplies[comment.ID] = struct{}{}
		}
		switch status := comment.Status(); {
		case status.InFlight():
			t.waiting[comment.ID] = memoID
		case status.Terminal():
			delete(t.waiting, comment.ID)
		}
	}
	for commentID, owner := range t.waiting {
		if _, ok := present[commentID]; owner == memoID && !ok {
			delete(t.waiting, commentID)
		}
	}
}

// Refetch loads the memo's comments and reconciles the waiting set with them.
func (t *Tracker) Refetch(ctx context.Context, memoID string) ([]store.Comment, error) {
	list, err := t.source.ListComments(ctx, memoID)
	if err != nil {
		return nil, err
	}
	t.Reconcile(memoID, list)
	return list, nil
}

// UpdateComment edits a human comment. AI replies are refused without a request.
func (t *Tracker) UpdateComment(ctx context.Context, memoID, commentID, content string) (store.Comment, error) {
	if t.isAIReply(commentID) {
		return store.Comment{}, api.ForbiddenError("AI replies cannot be edited")
	}
	return t.source.UpdateComment(ctx, memoID, commentID, content)
}

func (t *Tracker) DeleteComment(ctx context.Context, memoID, commentID string) error {
	if t.isAIReply(commentID) {
		return api.ForbiddenError("AI replies cannot be deleted")
	}
	if err := t.source.DeleteComment(ctx, memoID, commentID); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.waiting, commentID)
	t.mu.Unlock()
	return nil
}

// Forget drops every waiting comment of memoID.
func (t *Tracker) Forget(memoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for commentID, owner := range t.waiting {
		if owner == memoID {
			delete(t.waiting, commentID)
		}
	}
}

func (t *Tracker) isAIReply(commentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.aiReplies[commentID]
	return ok
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
