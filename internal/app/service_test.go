package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"zentel/client/internal/analysis"
	"zentel/client/internal/api"
	"zentel/client/internal/drafts"
	"zentel/client/internal/events"
	"zentel/client/internal/export"
	"zentel/client/internal/search"
	"zentel/client/internal/store"
	"zentel/client/internal/synthesis"
)

type fakeBackend struct {
	mu sync.Mutex

	getMemoFn       func(context.Context, string) (store.Memo, error)
	reanalyzeFn     func(context.Context, string, bool) (store.Memo, error)
	listCommentsFn  func(context.Context, string) ([]store.Comment, error)
	createCommentFn func(context.Context, string, string) (store.Comment, error)
	createMemoFn    func(context.Context, api.CreateMemoInput) (store.Memo, error)
	listMemosFn     func(context.Context, api.ListMemosInput) (store.MemoList, error)
	updateMemoFn    func(context.Context, string, api.UpdateMemoInput) (store.Memo, error)
	createNoteFn    func(context.Context, api.CreateNoteInput) (store.PermanentNote, error)
	profileFn       func(context.Context) (store.Profile, error)

	getCalls     int
	deletedMemos []string
}

func (f *fakeBackend) GetMemo(ctx context.Context, memoID string) (store.Memo, error) {
	f.mu.Lock()
	f.getCalls++
	f.mu.Unlock()
	if f.getMemoFn != nil {
		return f.getMemoFn(ctx, memoID)
	}
	return store.Memo{}, &api.Error{Status: 404, Code: "NOT_FOUND", Message: "Memo not found"}
}

func (f *fakeBackend) gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

func (f *fakeBackend) Reanalyze(ctx context.Context, memoID string, force bool) (store.Memo, error) {
	if f.reanalyzeFn != nil {
		return f.reanalyzeFn(ctx, memoID, force)
	}
	return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisPending}, nil
}

func (f *fakeBackend) ListComments(ctx context.Context, memoID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, memoID)
	}
	return nil, nil
}

func (f *fakeBackend) CreateComment(ctx context.Context, memoID, content string) (store.Comment, error) {
	if f.createCommentFn != nil {
		return f.createCommentFn(ctx, memoID, content)
	}
	return store.Comment{ID: "c-new", MemoID: memoID, Content: content}, nil
}

func (f *fakeBackend) UpdateComment(_ context.Context, memoID, commentID, content string) (store.Comment, error) {
	return store.Comment{ID: commentID, MemoID: memoID, Content: content}, nil
}

func (f *fakeBackend) DeleteComment(context.Context, string, string) error { return nil }

func (f *fakeBackend) Develop(_ context.Context, memoIDs []string) (store.SynthesisResult, error) {
	return store.SynthesisResult{}, errors.New("develop not expected")
}

func (f *fakeBackend) CreateNote(ctx context.Context, input api.CreateNoteInput) (store.PermanentNote, error) {
	if f.createNoteFn != nil {
		return f.createNoteFn(ctx, input)
	}
	return store.PermanentNote{ID: "n1", Title: input.Title, Content: input.Content, SourceMemoIDs: input.SourceMemoIDs}, nil
}

func (f *fakeBackend) CreateMemo(ctx context.Context, input api.CreateMemoInput) (store.Memo, error) {
	if f.createMemoFn != nil {
		return f.createMemoFn(ctx, input)
	}
	return store.Memo{ID: "m1", MemoType: input.MemoType, Content: input.Content, AnalysisStatus: store.AnalysisPending}, nil
}

func (f *fakeBackend) ListMemos(ctx context.Context, input api.ListMemosInput) (store.MemoList, error) {
	if f.listMemosFn != nil {
		return f.listMemosFn(ctx, input)
	}
	return store.MemoList{}, nil
}

func (f *fakeBackend) UpdateMemo(ctx context.Context, memoID string, input api.UpdateMemoInput) (store.Memo, error) {
	if f.updateMemoFn != nil {
		return f.updateMemoFn(ctx, memoID, input)
	}
	return store.Memo{}, errors.New("update not expected")
}

func (f *fakeBackend) DeleteMemo(_ context.Context, memoID string) error {
	f.deletedMemos = append(f.deletedMemos, memoID)
	return nil
}

func (f *fakeBackend) Profile(ctx context.Context) (store.Profile, error) {
	if f.profileFn != nil {
		return f.profileFn(ctx)
	}
	return store.Profile{AIPersonas: []store.Persona{{Name: "Socrates"}, {Name: "Ada"}}}, nil
}

type subscription struct {
	kind    events.Kind
	target  string
	handler events.Handler
	active  bool
}

type fakeStream struct {
	mu        sync.Mutex
	subs      []*subscription
	acquired  int
	released  int
	connected bool
}

func (f *fakeStream) Subscribe(kind events.Kind, targetID string, h events.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &subscription{kind: kind, target: targetID, handler: h, active: true}
	f.subs = append(f.subs, sub)
	return func() {
		f.mu.Lock()
		sub.active = false
		f.mu.Unlock()
	}
}

func (f *fakeStream) Acquire(context.Context) {
	f.mu.Lock()
	f.acquired++
	f.connected = true
	f.mu.Unlock()
}

func (f *fakeStream) Release() {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
}

func (f *fakeStream) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeStream) emit(e events.Event) {
	f.mu.Lock()
	var handlers []events.Handler
	for _, sub := range f.subs {
		if sub.active && sub.kind == e.Kind && (sub.target == "" || sub.target == e.MemoID) {
			handlers = append(handlers, sub.handler)
		}
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

type fakeIndex struct {
	mu       sync.Mutex
	memos    map[string]search.MemoRecord
	comments map[string]search.CommentRecord
	queries  []search.Query
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{memos: map[string]search.MemoRecord{}, comments: map[string]search.CommentRecord{}}
}

func (f *fakeIndex) IndexMemo(rec search.MemoRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memos[rec.ID] = rec
}

func (f *fakeIndex) IndexComments(records []search.CommentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range records {
		f.comments[rec.ID] = rec
	}
}

func (f *fakeIndex) DeleteMemo(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memos, id)
}

func (f *fakeIndex) DeleteComment(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.comments, id)
}

func (f *fakeIndex) Search(q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	results := []search.Result{}
	for _, rec := range f.memos {
		if strings.Contains(rec.Content, q.Text) {
			results = append(results, search.Result{Type: search.ResultMemo, ID: rec.ID, MemoID: rec.ID})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeIndex) memo(id string) (search.MemoRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.memos[id]
	return rec, ok
}

func newTestSession(t *testing.T, backend *fakeBackend, stream *fakeStream, index *fakeIndex, deps Deps) *Session {
	t.Helper()
	deps.Backend = backend
	deps.Stream = stream
	if index != nil {
		deps.Index = index
	}
	if deps.Cache == nil {
		deps.Cache = store.NewMemoryCache(time.Hour)
	}
	deps.AnalysisTimeout = time.Hour
	session := NewSession(deps)
	t.Cleanup(session.Close)
	return session
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func completeEvent(memoID string, status store.AnalysisStatus) events.Event {
	return events.Event{Kind: events.KindComplete, MemoID: memoID, Complete: &events.Complete{MemoID: memoID, Status: status}}
}

func TestSessionRefreshesMemoOnComplete(t *testing.T) {
	display := "작은 습관은 복리로 쌓인다"
	backend := &fakeBackend{
		getMemoFn: func(_ context.Context, memoID string) (store.Memo, error) {
			return store.Memo{ID: memoID, Content: "Small habits compound", AnalysisStatus: store.AnalysisCompleted, DisplayContent: &display}, nil
		},
	}
	stream := &fakeStream{}
	index := newFakeIndex()
	var changes []analysis.Job
	var changesMu sync.Mutex
	session := newTestSession(t, backend, stream, index, Deps{
		OnJobChange: func(job analysis.Job) {
			changesMu.Lock()
			changes = append(changes, job)
			changesMu.Unlock()
		},
	})
	session.Start(t.Context())
	if stream.acquired != 1 {
		t.Fatalf("Start() acquired stream %d times", stream.acquired)
	}

	memo, job, err := session.CreateMemo(t.Context(), api.CreateMemoInput{MemoType: store.MemoNewIdea, Content: "Small habits compound"})
	if err != nil {
		t.Fatalf("CreateMemo() error = %v", err)
	}
	if memo.ID != "m1" || job.Status != store.AnalysisPending || job.Episode != 1 {
		t.Fatalf("unexpected memo %+v job %+v", memo, job)
	}

	stream.emit(completeEvent("m1", store.AnalysisCompleted))
	stream.emit(completeEvent("m1", store.AnalysisCompleted))

	waitFor(t, "refreshed memo in cache", func() bool {
		cached, err := session.Memo(t.Context(), "m1")
		return err == nil && cached.AnalysisStatus == store.AnalysisCompleted
	})
	cached, _ := session.Memo(t.Context(), "m1")
	if cached.DisplayContent == nil || *cached.DisplayContent != display {
		t.Fatalf("derived fields missing after refresh: %+v", cached)
	}
	rec, ok := index.memo("m1")
	if !ok || !strings.Contains(rec.Content, display) {
		t.Fatalf("index not refreshed: %+v", rec)
	}
	if got := backend.gets(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d GETs", got)
	}

	changesMu.Lock()
	defer changesMu.Unlock()
	if len(changes) == 0 || changes[len(changes)-1].Status != store.AnalysisCompleted {
		t.Fatalf("OnJobChange not notified of completion: %+v", changes)
	}
}

func TestSessionFailedCompletionUpdatesCacheWithoutRefresh(t *testing.T) {
	backend := &fakeBackend{}
	stream := &fakeStream{}
	session := newTestSession(t, backend, stream, nil, Deps{})
	session.Start(t.Context())

	if _, _, err := session.CreateMemo(t.Context(), api.CreateMemoInput{MemoType: store.MemoNewIdea, Content: "x"}); err != nil {
		t.Fatalf("CreateMemo() error = %v", err)
	}
	stream.emit(events.Event{Kind: events.KindComplete, MemoID: "m1", Complete: &events.Complete{MemoID: "m1", Status: store.AnalysisFailed, Error: "model timeout"}})

	cached, err := session.Memo(t.Context(), "m1")
	if err != nil {
		t.Fatalf("Memo() error = %v", err)
	}
	if cached.AnalysisStatus != store.AnalysisFailed || cached.AnalysisError == nil || *cached.AnalysisError != "model timeout" {
		t.Fatalf("cached memo not marked failed: %+v", cached)
	}
	if backend.gets() != 0 {
		t.Fatalf("failed completion must not refresh, got %d GETs", backend.gets())
	}
}

func TestSessionRefreshMemoAfterCompletion(t *testing.T) {
	display := "습관은 복리로 쌓인다"
	backend := &fakeBackend{
		getMemoFn: func(ctx context.Context, memoID string) (store.Memo, error) {
			select {
			case <-time.After(30 * time.Millisecond):
			case <-ctx.Done():
				return store.Memo{}, ctx.Err()
			}
			return store.Memo{ID: memoID, Content: "habits", AnalysisStatus: store.AnalysisCompleted, DisplayContent: &display}, nil
		},
	}
	stream := &fakeStream{}
	done := make(chan analysis.Job, 4)
	session := newTestSession(t, backend, stream, nil, Deps{
		OnJobChange: func(job analysis.Job) {
			if job.Status.Terminal() {
				done <- job
			}
		},
	})
	session.Start(t.Context())

	if _, _, err := session.CreateMemo(t.Context(), api.CreateMemoInput{MemoType: store.MemoNewIdea, Content: "habits"}); err != nil {
		t.Fatalf("CreateMemo() error = %v", err)
	}
	stream.emit(completeEvent("m1", store.AnalysisCompleted))
	if job := <-done; job.Status != store.AnalysisCompleted {
		t.Fatalf("unexpected terminal job %+v", job)
	}

	memo, err := session.RefreshMemo(t.Context(), "m1")
	if err != nil {
		t.Fatalf("RefreshMemo() error = %v", err)
	}
	if memo.AnalysisStatus != store.AnalysisCompleted || memo.DisplayContent == nil || *memo.DisplayContent != display {
		t.Fatalf("RefreshMemo() = %+v", memo)
	}
	cached, err := session.Memo(t.Context(), "m1")
	if err != nil || cached.AnalysisStatus != store.AnalysisCompleted {
		t.Fatalf("Memo() after refresh = %+v, %v", cached, err)
	}
}

func TestSessionReanalyzeClearsCachedError(t *testing.T) {
	failed := "model timeout"
	backend := &fakeBackend{
		getMemoFn: func(_ context.Context, memoID string) (store.Memo, error) {
			return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisFailed, AnalysisError: &failed}, nil
		},
	}
	session := newTestSession(t, backend, &fakeStream{}, nil, Deps{})

	if _, err := session.CheckStatus(t.Context(), "m1"); err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	job, err := session.Reanalyze(t.Context(), "m1", false)
	if err != nil || job.Status != store.AnalysisPending {
		t.Fatalf("Reanalyze() = %+v, %v", job, err)
	}

	cached, err := session.Memo(t.Context(), "m1")
	if err != nil {
		t.Fatalf("Memo() error = %v", err)
	}
	if cached.AnalysisStatus != store.AnalysisPending || cached.AnalysisError != nil {
		t.Fatalf("stale failure left in cache: %+v", cached)
	}
}

func TestSessionUpdateMemoCachesServerCopy(t *testing.T) {
	var sent api.UpdateMemoInput
	backend := &fakeBackend{
		updateMemoFn: func(_ context.Context, memoID string, input api.UpdateMemoInput) (store.Memo, error) {
			sent = input
			return store.Memo{ID: memoID, MemoType: *input.MemoType, Content: "habits", AnalysisStatus: store.AnalysisCompleted, Interests: []string{"growth"}}, nil
		},
	}
	index := newFakeIndex()
	session := newTestSession(t, backend, &fakeStream{}, index, Deps{})

	memoType := store.MemoCuriosity
	memo, err := session.UpdateMemo(t.Context(), "m1", api.UpdateMemoInput{MemoType: &memoType, RematchInterests: true})
	if err != nil {
		t.Fatalf("UpdateMemo() error = %v", err)
	}
	if !sent.RematchInterests || memo.MemoType != store.MemoCuriosity {
		t.Fatalf("UpdateMemo() sent %+v, got %+v", sent, memo)
	}
	cached, err := session.Memo(t.Context(), "m1")
	if err != nil || len(cached.Interests) != 1 || cached.Interests[0] != "growth" {
		t.Fatalf("cached memo = %+v, %v", cached, err)
	}
	if backend.gets() != 0 {
		t.Fatalf("expected a cache hit, got %d GETs", backend.gets())
	}
	if _, ok := index.memo("m1"); !ok {
		t.Fatal("updated memo not indexed")
	}
}

func TestSessionReplyTriggersRefetch(t *testing.T) {
	pending := store.ResponsePending
	completed := store.ResponseCompleted
	persona := "Socrates"
	parent := "c1"
	backend := &fakeBackend{
		createCommentFn: func(_ context.Context, memoID, content string) (store.Comment, error) {
			return store.Comment{ID: "c1", MemoID: memoID, Content: content, ResponseStatus: &pending}, nil
		},
		listCommentsFn: func(_ context.Context, memoID string) ([]store.Comment, error) {
			return []store.Comment{
				{ID: "c1", MemoID: memoID, Content: "@Socrates why?", ResponseStatus: &completed},
				{ID: "c2", MemoID: memoID, Content: "Because.", IsAIResponse: true, ParentCommentID: &parent, PersonaName: &persona},
			}, nil
		},
	}
	stream := &fakeStream{}
	index := newFakeIndex()
	replies := make(chan []store.Comment, 1)
	session := newTestSession(t, backend, stream, index, Deps{
		OnReplies: func(_ string, list []store.Comment) { replies <- list },
	})
	session.Start(t.Context())

	result, err := session.AddComment(t.Context(), "m1", "@Socrates why?")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if !result.Waiting || len(result.Mentioned) != 1 || result.Mentioned[0].Name != "Socrates" {
		t.Fatalf("unexpected comment result %+v", result)
	}
	if waiting := session.Waiting(); len(waiting) != 1 || waiting[0].CommentID != "c1" {
		t.Fatalf("Waiting() = %+v", waiting)
	}

	stream.emit(events.Event{Kind: events.KindAIResponse, MemoID: "m1", AIResponse: &events.AIResponse{MemoID: "m1", CommentID: "c2", ParentCommentID: "c1", Status: store.ResponseCompleted}})

	select {
	case list := <-replies:
		if len(list) != 2 {
			t.Fatalf("refetched %d comments", len(list))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("comment list was not refetched")
	}
	if len(session.Waiting()) != 0 {
		t.Fatalf("c1 still waiting: %+v", session.Waiting())
	}
	cached, err := session.CachedComments(t.Context(), "m1")
	if err != nil || len(cached) != 2 {
		t.Fatalf("CachedComments() = %v, %v", cached, err)
	}

	if _, err := session.EditComment(t.Context(), "m1", "c2", "edited"); !errors.Is(err, api.ErrForbidden) {
		t.Fatalf("editing an AI reply: expected ErrForbidden, got %v", err)
	}
}

func TestSessionCheckStatusTracksUnknownMemo(t *testing.T) {
	backend := &fakeBackend{
		getMemoFn: func(_ context.Context, memoID string) (store.Memo, error) {
			return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisAnalyzing}, nil
		},
	}
	session := newTestSession(t, backend, &fakeStream{}, nil, Deps{})

	job, err := session.CheckStatus(t.Context(), "m9")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if job.MemoID != "m9" || job.Status != store.AnalysisAnalyzing {
		t.Fatalf("unexpected job %+v", job)
	}
	if _, ok := session.Job("m9"); !ok {
		t.Fatal("memo not tracked after check")
	}

	if _, err := session.Reanalyze(t.Context(), "m9", false); !errors.Is(err, api.ErrConflict) {
		t.Fatalf("Reanalyze() without force: expected conflict, got %v", err)
	}
	job, err = session.Reanalyze(t.Context(), "m9", true)
	if err != nil || job.Status != store.AnalysisPending || job.Episode != 2 {
		t.Fatalf("forced Reanalyze() = %+v, %v", job, err)
	}
}

func TestSessionListMemosTracksRunningOnly(t *testing.T) {
	display := "stale"
	backend := &fakeBackend{
		listMemosFn: func(context.Context, api.ListMemosInput) (store.MemoList, error) {
			return store.MemoList{Items: []store.Memo{
				{ID: "m1", AnalysisStatus: store.AnalysisCompleted, DisplayContent: &display},
				{ID: "m2", AnalysisStatus: store.AnalysisAnalyzing, DisplayContent: &display},
			}, Total: 2}, nil
		},
	}
	index := newFakeIndex()
	session := newTestSession(t, backend, &fakeStream{}, index, Deps{})

	list, err := session.ListMemos(t.Context(), api.ListMemosInput{Limit: 20})
	if err != nil {
		t.Fatalf("ListMemos() error = %v", err)
	}
	if list.Items[1].DisplayContent != nil {
		t.Fatal("non-completed memo must not carry derived fields")
	}
	jobs := session.Jobs()
	if len(jobs) != 1 || jobs[0].MemoID != "m2" {
		t.Fatalf("Jobs() = %+v", jobs)
	}
	if _, ok := index.memo("m1"); !ok {
		t.Fatal("listed memos should be indexed")
	}

	if err := session.DeleteMemo(t.Context(), "m2"); err != nil {
		t.Fatalf("DeleteMemo() error = %v", err)
	}
	if _, ok := session.Job("m2"); ok {
		t.Fatal("deleted memo still tracked")
	}
	if _, ok := index.memo("m2"); ok {
		t.Fatal("deleted memo still indexed")
	}
}

func TestSessionDraftLifecycle(t *testing.T) {
	backend := &fakeBackend{
		getMemoFn: func(_ context.Context, memoID string) (store.Memo, error) {
			return store.Memo{ID: memoID, Content: "Memo " + memoID + "\nmore", AnalysisStatus: store.AnalysisCompleted}, nil
		},
	}
	var notes []api.CreateNoteInput
	backend.createNoteFn = func(_ context.Context, input api.CreateNoteInput) (store.PermanentNote, error) {
		notes = append(notes, input)
		return store.PermanentNote{ID: "n1", Title: input.Title}, nil
	}
	session := newTestSession(t, backend, &fakeStream{}, nil, Deps{Drafts: drafts.New(t.TempDir()), Author: "Avery"})

	result, err := session.Develop(t.Context(), []string{"a", "b", "a"}, synthesis.ModeVerbatim)
	if err != nil {
		t.Fatalf("Develop() error = %v", err)
	}
	if result.ID == "" || result.Draft.Title != "Memo a" || strings.Join(result.Draft.SourceMemoIDs, ",") != "a,b" {
		t.Fatalf("unexpected draft %+v", result)
	}

	note, err := session.PublishDraft(t.Context(), result.ID)
	if err != nil {
		t.Fatalf("PublishDraft() error = %v", err)
	}
	if note.ID != "n1" || len(notes) != 1 || notes[0].Title != "Memo a" {
		t.Fatalf("unexpected publish %+v %+v", note, notes)
	}
	if _, err := session.PublishDraft(t.Context(), result.ID); !errors.Is(err, api.ErrConflict) {
		t.Fatalf("second publish: expected conflict, got %v", err)
	}

	exported, err := session.ExportDraft(t.Context(), export.Request{DraftID: result.ID, Format: export.FormatMarkdown}, false)
	if err != nil {
		t.Fatalf("ExportDraft() error = %v", err)
	}
	if !strings.HasPrefix(string(exported.Data), "# Memo a\n") || exported.Upload != nil {
		t.Fatalf("unexpected export %q", exported.Data)
	}
	if _, err := session.ExportDraft(t.Context(), export.Request{DraftID: result.ID, Format: export.FormatMarkdown}, true); err == nil {
		t.Fatal("upload without storage should fail")
	}
}

func TestSessionWithoutDraftStorage(t *testing.T) {
	session := newTestSession(t, &fakeBackend{}, &fakeStream{}, nil, Deps{})
	if _, err := session.Drafts(); !errors.Is(err, errDraftsDisabled) {
		t.Fatalf("Drafts() error = %v", err)
	}
	if resp := session.Search(search.Query{Text: "x"}); resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("Search() without index = %+v", resp)
	}
}

func TestSessionCloseReleasesStream(t *testing.T) {
	stream := &fakeStream{}
	session := NewSession(Deps{Backend: &fakeBackend{}, Stream: stream})
	session.Start(t.Context())
	session.Start(t.Context())
	session.Close()
	session.Close()
	if stream.acquired != 1 || stream.released != 1 {
		t.Fatalf("acquired=%d released=%d", stream.acquired, stream.released)
	}
	for _, sub := range stream.subs {
		if sub.active {
			t.Fatalf("subscription %s still active after Close", sub.kind)
		}
	}
}
