package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"zentel/client/internal/analysis"
	"zentel/client/internal/api"
	"zentel/client/internal/comments"
	"zentel/client/internal/drafts"
	"zentel/client/internal/events"
	"zentel/client/internal/export"
	"zentel/client/internal/mention"
	"zentel/client/internal/search"
	"zentel/client/internal/store"
	"zentel/client/internal/synthesis"
)

// Backend is the server surface a session talks to. *api.Client implements it.
type Backend interface {
	analysis.MemoSource
	comments.CommentSource
	synthesis.Backend
	CreateMemo(ctx context.Context, input api.CreateMemoInput) (store.Memo, error)
	ListMemos(ctx context.Context, input api.ListMemosInput) (store.MemoList, error)
	UpdateMemo(ctx context.Context, memoID string, input api.UpdateMemoInput) (store.Memo, error)
	DeleteMemo(ctx context.Context, memoID string) error
	Profile(ctx context.Context) (store.Profile, error)
}

// Stream is the shared push channel. *events.Client implements it.
type Stream interface {
	Subscribe(kind events.Kind, targetID string, h events.Handler) func()
	Acquire(ctx context.Context)
	Release()
	Connected() bool
}

// Index is the search side. *search.Service implements it.
type Index interface {
	IndexMemo(rec search.MemoRecord)
	IndexComments(records []search.CommentRecord)
	DeleteMemo(id string)
	DeleteComment(id string)
	Search(q search.Query) search.Response
}

type Deps struct {
	Backend  Backend
	Stream   Stream
	Cache    store.Cache
	Index    Index
	Drafts   *drafts.Repo
	Uploader *export.Uploader
	Author   string

	AnalysisTimeout    time.Duration
	StatusCheckTimeout time.Duration

	// OnJobChange and OnReplies let a front end follow background work.
	OnJobChange func(analysis.Job)
	OnReplies   func(memoID string, list []store.Comment)
}

// Session owns one event stream subscription and the trackers, cache and
// index that react to it.
type Session struct {
	backend  Backend
	stream   Stream
	cache    store.Cache
	index    Index
	drafts   *drafts.Repo
	uploader *export.Uploader
	author   string

	analysis *analysis.Tracker
	comments *comments.Tracker
	synth    *synthesis.Coordinator
	exporter *export.Service

	onJobChange func(analysis.Job)
	onReplies   func(string, []store.Comment)

	mu       sync.Mutex
	personas []store.Persona
	detach   []func()
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSession(deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend:     deps.Backend,
		stream:      deps.Stream,
		cache:       deps.Cache,
		index:       deps.Index,
		drafts:      deps.Drafts,
		uploader:    deps.Uploader,
		author:      deps.Author,
		onJobChange: deps.OnJobChange,
		onReplies:   deps.OnReplies,
		ctx:         ctx,
		cancel:      cancel,
	}
	if s.cache == nil {
		s.cache = store.NewMemoryCache(time.Hour)
	}
	s.analysis = analysis.NewTracker(deps.Backend, analysis.Options{
		Timeout:      deps.AnalysisTimeout,
		CheckTimeout: deps.StatusCheckTimeout,
		OnRefresh:    func(memoID string) { s.background(func(ctx context.Context) { _, _ = s.refreshMemo(ctx, memoID) }) },
		OnChange:     s.jobChanged,
	})
	s.comments = comments.NewTracker(deps.Backend, comments.Options{
		OnRefetch: func(memoID string) { s.background(func(ctx context.Context) { _, _ = s.Comments(ctx, memoID) }) },
	})
	s.synth = synthesis.NewCoordinator(deps.Backend)
	if s.drafts != nil {
		s.exporter = export.NewService(s.drafts, s.synth, s.author)
	}
	return s
}

// Start acquires the stream and attaches both trackers to it.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.detach = append(s.detach, s.analysis.Attach(s.stream), s.comments.Attach(s.stream))
	s.mu.Unlock()

	s.stream.Acquire(ctx)
	if _, err := s.Personas(ctx); err != nil {
		log.Printf("app: load personas: %v", err)
	}
}

// Close detaches from the stream, stops the timers and waits for background refreshes.
func (s *Session) Close() {
	s.mu.Lock()
	detach := s.detach
	started := s.started
	s.detach = nil
	s.started = false
	s.mu.Unlock()

	for _, off := range detach {
		off()
	}
	s.analysis.Close()
	s.cancel()
	if started {
		s.stream.Release()
	}
	s.wg.Wait()
}

func (s *Session) background(fn func(ctx context.Context)) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// jobChanged mirrors terminal statuses into the cached memo so readers never
// see a stale pending badge. Completed memos are refreshed in full instead.
func (s *Session) jobChanged(job analysis.Job) {
	if job.Status != store.AnalysisCompleted {
		ctx := context.Background()
		if memo, err := s.cache.GetMemo(ctx, job.MemoID); err == nil && memo.AnalysisStatus != job.Status {
			memo.AnalysisStatus = job.Status
			memo.AnalysisError = nil
			if job.Error != "" {
				errText := job.Error
				memo.AnalysisError = &errText
			}
			if err := s.cache.PutMemo(ctx, memo.WithoutDerived()); err != nil {
				log.Printf("app: cache memo %s: %v", job.MemoID, err)
			}
		}
	}
	if s.onJobChange != nil {
		s.onJobChange(job)
	}
}

func (s *Session) refreshMemo(ctx context.Context, memoID string) (store.Memo, error) {
	memo, err := s.backend.GetMemo(ctx, memoID)
	if err != nil {
		log.Printf("app: refresh memo %s: %v", memoID, err)
		return store.Memo{}, err
	}
	s.remember(ctx, memo)
	return memo.WithoutDerived(), nil
}

// RefreshMemo reloads the memo from the server, bypassing the cache.
func (s *Session) RefreshMemo(ctx context.Context, memoID string) (store.Memo, error) {
	return s.refreshMemo(ctx, memoID)
}

func (s *Session) remember(ctx context.Context, memo store.Memo) {
	if err := s.cache.PutMemo(ctx, memo); err != nil {
		log.Printf("app: cache memo %s: %v", memo.ID, err)
	}
	if s.index != nil {
		s.index.IndexMemo(search.MemoRecordFrom(memo))
	}
}

// CreateMemo posts the memo and starts tracking its analysis.
func (s *Session) CreateMemo(ctx context.Context, input api.CreateMemoInput) (store.Memo, analysis.Job, error) {
	memo, err := s.backend.CreateMemo(ctx, input)
	if err != nil {
		return store.Memo{}, analysis.Job{}, err
	}
	s.remember(ctx, memo)
	return memo.WithoutDerived(), s.analysis.Track(memo), nil
}

// ListMemos fetches a page and tracks every memo whose analysis is still running.
func (s *Session) ListMemos(ctx context.Context, input api.ListMemosInput) (store.MemoList, error) {
	list, err := s.backend.ListMemos(ctx, input)
	if err != nil {
		return store.MemoList{}, err
	}
	for i, memo := range list.Items {
		s.remember(ctx, memo)
		if _, tracked := s.analysis.Job(memo.ID); tracked || !memo.AnalysisStatus.Terminal() {
			s.analysis.Track(memo)
		}
		list.Items[i] = memo.WithoutDerived()
	}
	return list, nil
}

// Memo returns the cached memo, loading it on a miss.
func (s *Session) Memo(ctx context.Context, memoID string) (store.Memo, error) {
	memo, err := s.cache.GetMemo(ctx, memoID)
	if err == nil {
		return memo.WithoutDerived(), nil
	}
	if !errors.Is(err, store.ErrCacheMiss) {
		log.Printf("app: cache read memo %s: %v", memoID, err)
	}
	return s.refreshMemo(ctx, memoID)
}

// UpdateMemo patches the memo and caches the server's copy. A tracked memo
// also has its job merged with the returned status.
func (s *Session) UpdateMemo(ctx context.Context, memoID string, input api.UpdateMemoInput) (store.Memo, error) {
	memo, err := s.backend.UpdateMemo(ctx, memoID, input)
	if err != nil {
		return store.Memo{}, err
	}
	if memo.ID == "" {
		memo.ID = memoID
	}
	s.remember(ctx, memo)
	if _, tracked := s.analysis.Job(memo.ID); tracked && memo.AnalysisStatus != "" {
		s.analysis.Track(memo)
	}
	return memo.WithoutDerived(), nil
}

func (s *Session) DeleteMemo(ctx context.Context, memoID string) error {
	if err := s.backend.DeleteMemo(ctx, memoID); err != nil {
		return err
	}
	s.analysis.Untrack(memoID)
	s.comments.Forget(memoID)
	if err := s.cache.DeleteMemo(ctx, memoID); err != nil {
		log.Printf("app: evict memo %s: %v", memoID, err)
	}
	if s.index != nil {
		s.index.DeleteMemo(memoID)
	}
	return nil
}

func (s *Session) Jobs() []analysis.Job {
	return s.analysis.Jobs()
}

func (s *Session) Job(memoID string) (analysis.Job, bool) {
	return s.analysis.Job(memoID)
}

// CheckStatus reconciles a memo with the server. An untracked memo is fetched
// and tracked instead.
func (s *Session) CheckStatus(ctx context.Context, memoID string) (analysis.Job, error) {
	if _, ok := s.analysis.Job(memoID); !ok {
		memo, err := s.backend.GetMemo(ctx, memoID)
		if err != nil {
			return analysis.Job{}, err
		}
		s.remember(ctx, memo)
		return s.analysis.Track(memo), nil
	}
	job, err := s.analysis.CheckStatus(ctx, memoID)
	if err != nil {
		return job, err
	}
	if current, ok := s.analysis.Job(memoID); ok {
		job = current
	}
	return job, nil
}

func (s *Session) Reanalyze(ctx context.Context, memoID string, force bool) (analysis.Job, error) {
	return s.analysis.Reanalyze(ctx, memoID, force)
}

// Comments loads the memo's comments, reseeds the waiting set and updates the cache and index.
func (s *Session) Comments(ctx context.Context, memoID string) ([]store.Comment, error) {
	list, err := s.comments.Refetch(ctx, memoID)
	if err != nil {
		log.Printf("app: refetch comments of %s: %v", memoID, err)
		return nil, err
	}
	if err := s.cache.PutComments(ctx, memoID, list); err != nil {
		log.Printf("app: cache comments of %s: %v", memoID, err)
	}
	if s.index != nil {
		records := make([]search.CommentRecord, 0, len(list))
		for _, comment := range list {
			records = append(records, search.CommentRecordFrom(comment))
		}
		s.index.IndexComments(records)
	}
	if s.onReplies != nil {
		s.onReplies(memoID, list)
	}
	return list, nil
}

// CachedComments returns the last fetched list, loading it on a miss.
func (s *Session) CachedComments(ctx context.Context, memoID string) ([]store.Comment, error) {
	list, err := s.cache.GetComments(ctx, memoID)
	if err == nil {
		return list, nil
	}
	return s.Comments(ctx, memoID)
}

type CommentResult struct {
	Comment   store.Comment   `json:"comment"`
	Mentioned []store.Persona `json:"mentioned"`
	Waiting   bool            `json:"waiting"`
}

func (s *Session) AddComment(ctx context.Context, memoID, content string) (CommentResult, error) {
	comment, err := s.comments.CreateComment(ctx, memoID, content)
	if err != nil {
		return CommentResult{}, err
	}
	personas, _ := s.Personas(ctx)
	if s.index != nil {
		s.index.IndexComments([]search.CommentRecord{search.CommentRecordFrom(comment)})
	}
	return CommentResult{
		Comment:   comment,
		Mentioned: mention.Mentioned(content, personas),
		Waiting:   s.comments.IsWaiting(comment.ID),
	}, nil
}

func (s *Session) EditComment(ctx context.Context, memoID, commentID, content string) (store.Comment, error) {
	comment, err := s.comments.UpdateComment(ctx, memoID, commentID, content)
	if err != nil {
		return store.Comment{}, err
	}
	if s.index != nil {
		s.index.IndexComments([]search.CommentRecord{search.CommentRecordFrom(comment)})
	}
	return comment, nil
}

func (s *Session) DeleteComment(ctx context.Context, memoID, commentID string) error {
	if err := s.comments.DeleteComment(ctx, memoID, commentID); err != nil {
		return err
	}
	if s.index != nil {
		s.index.DeleteComment(commentID)
	}
	return nil
}

func (s *Session) Waiting() []comments.Waiting {
	return s.comments.Waiting()
}

// Personas returns the user's AI personas, loading the profile once.
func (s *Session) Personas(ctx context.Context) ([]store.Persona, error) {
	s.mu.Lock()
	if s.personas != nil {
		personas := s.personas
		s.mu.Unlock()
		return personas, nil
	}
	s.mu.Unlock()

	profile, err := s.backend.Profile(ctx)
	if err != nil {
		return nil, err
	}
	personas := profile.AIPersonas
	if personas == nil {
		personas = []store.Persona{}
	}
	s.mu.Lock()
	s.personas = personas
	s.mu.Unlock()
	return personas, nil
}

// Mentions resolves the @mention state of a comment being typed.
func (s *Session) Mentions(ctx context.Context, text string) (mention.State, error) {
	personas, err := s.Personas(ctx)
	if err != nil {
		return mention.State{}, err
	}
	return mention.Parse(text, personas), nil
}

func (s *Session) Search(q search.Query) search.Response {
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.index.Search(q)
}

// Ready reports whether the push stream is connected and the cache answers.
func (s *Session) Ready(ctx context.Context) (streamOK bool, cacheErr error) {
	return s.stream.Connected(), s.cache.Ping(ctx)
}

type DraftResult struct {
	ID        string                 `json:"id"`
	Commit    drafts.Commit          `json:"commit"`
	Draft     synthesis.Draft        `json:"draft"`
	Synthesis *store.SynthesisResult `json:"synthesis,omitempty"`
}

var errDraftsDisabled = errors.New("draft storage not configured")

// Develop derives a draft from memoIDs and stores it as a new versioned draft.
func (s *Session) Develop(ctx context.Context, memoIDs []string, mode synthesis.Mode) (DraftResult, error) {
	draft, result, err := s.synth.Draft(ctx, memoIDs, mode)
	if err != nil {
		return DraftResult{}, err
	}
	if s.drafts == nil {
		return DraftResult{Draft: draft, Synthesis: result}, nil
	}
	id, commit, err := s.drafts.Create(draft, s.author)
	if err != nil {
		return DraftResult{}, fmt.Errorf("store draft: %w", err)
	}
	return DraftResult{ID: id, Commit: commit, Draft: draft, Synthesis: result}, nil
}

func (s *Session) Drafts() (*drafts.Repo, error) {
	if s.drafts == nil {
		return nil, errDraftsDisabled
	}
	return s.drafts, nil
}

// PublishDraft posts the draft's head as a permanent note and tags the commit.
func (s *Session) PublishDraft(ctx context.Context, draftID string) (store.PermanentNote, error) {
	repo, err := s.Drafts()
	if err != nil {
		return store.PermanentNote{}, err
	}
	content, _, err := repo.Head(draftID)
	if err != nil {
		return store.PermanentNote{}, err
	}
	if content.NoteID != "" {
		return store.PermanentNote{}, api.ConflictError(fmt.Sprintf("draft already published as note %s", content.NoteID))
	}
	note, err := s.synth.Publish(ctx, content.Draft())
	if err != nil {
		return store.PermanentNote{}, err
	}
	if _, err := repo.MarkPublished(draftID, note.ID, s.author); err != nil {
		log.Printf("app: mark draft %s published: %v", draftID, err)
	}
	return note, nil
}

type ExportResult struct {
	*export.Result
	Upload *export.Upload
}

// ExportDraft renders a draft version and optionally uploads it.
func (s *Session) ExportDraft(ctx context.Context, req export.Request, upload bool) (ExportResult, error) {
	if s.exporter == nil {
		return ExportResult{}, errDraftsDisabled
	}
	result, err := s.exporter.Export(ctx, req)
	if err != nil {
		return ExportResult{}, err
	}
	out := ExportResult{Result: result}
	if !upload {
		return out, nil
	}
	if s.uploader == nil {
		return out, errors.New("export upload not configured")
	}
	uploaded, err := s.uploader.Upload(ctx, strings.TrimSpace(req.DraftID), result)
	if err != nil {
		return out, err
	}
	out.Upload = &uploaded
	return out, nil
}
