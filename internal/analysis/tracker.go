// Package analysis tracks the server-side analysis job of each memo, merging
// push events with a timeout-driven status check.
package analysis

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"zentel/client/internal/api"
	"zentel/client/internal/events"
	"zentel/client/internal/store"
)

const (
	DefaultTimeout      = 150 * time.Second
	DefaultCheckTimeout = 10 * time.Second
)

// Notice is the user-facing condition left by the last status check.
type Notice string

const (
	NoticeNone        Notice = ""
	NoticeChecking    Notice = "checking"
	NoticeDelayed     Notice = "delayed"
	NoticeCheckFailed Notice = "check_failed"
)

// Job is a snapshot of one memo's analysis state.
type Job struct {
	MemoID         string               `json:"memo_id"`
	Status         store.AnalysisStatus `json:"status"`
	Error          string               `json:"error,omitempty"`
	Episode        int                  `json:"episode"`
	Progress       []events.Progress    `json:"progress"`
	SuspectedStuck bool                 `json:"suspected_stuck"`
	Notice         Notice               `json:"notice,omitempty"`
	NoticeMessage  string               `json:"notice_message,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// MemoSource is the slice of the API client the tracker needs.
type MemoSource interface {
	GetMemo(ctx context.Context, memoID string) (store.Memo, error)
	Reanalyze(ctx context.Context, memoID string, force bool) (store.Memo, error)
}

// Subscriber is implemented by *events.Client.
type Subscriber interface {
	Subscribe(kind events.Kind, targetID string, h events.Handler) func()
}

type Options struct {
	Timeout      time.Duration
	CheckTimeout time.Duration
	// AutoTrack starts tracking memos first seen through a push event.
	AutoTrack bool
	// OnRefresh fires once per episode that ends in completed.
	OnRefresh func(memoID string)
	OnChange  func(Job)
}

type timer interface {
	Stop() bool
}

type job struct {
	Job
	timer      timer
	reconciled bool
}

type Tracker struct {
	source MemoSource
	opts   Options

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool

	ctx    context.Context
	cancel context.CancelFunc

	afterFunc func(time.Duration, func()) timer
	now       func() time.Time
}

func NewTracker(source MemoSource, opts Options) *Tracker {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		source: source,
		opts:   opts,
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}
}

// Attach subscribes the tracker to progress and complete events for every memo.
func (t *Tracker) Attach(stream Subscriber) (detach func()) {
	offProgress := stream.Subscribe(events.KindProgress, "", t.HandleProgress)
	offComplete := stream.Subscribe(events.KindComplete, "", t.HandleComplete)
	return func() {
		offProgress()
		offComplete()
	}
}

// Track merges server truth for memo into local state, starting a new episode
// when the memo is non-terminal and was not already being tracked as such.
func (t *Tracker) Track(memo store.Memo) Job {
	t.mu.Lock()
	j, ok := t.jobs[memo.ID]
	if !ok {
		j = &job{Job: Job{MemoID: memo.ID}}
		t.jobs[memo.ID] = j
		if memo.AnalysisStatus.Terminal() {
			j.Status = memo.AnalysisStatus
			j.Error = derefString(memo.AnalysisError)
			j.UpdatedAt = t.now()
			snapshot := j.snapshot()
			t.mu.Unlock()
			t.changed(snapshot)
			return snapshot
		}
		t.beginLocked(j, memo.AnalysisStatus)
		snapshot := j.snapshot()
		t.mu.Unlock()
		t.changed(snapshot)
		return snapshot
	}
	episode := j.Episode
	t.mu.Unlock()
	return t.applyServer(memo, j, episode, false)
}

// Untrack forgets the memo and stops its timer. The shared stream is untouched.
func (t *Tracker) Untrack(memoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[memoID]; ok {
		j.stopTimer()
		delete(t.jobs, memoID)
	}
}

func (t *Tracker) Job(memoID string) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[memoID]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// Jobs lists every tracked memo ordered by id.
func (t *Tracker) Jobs() []Job {
	t.mu.Lock()
	out := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j.snapshot())
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, k int) bool { return out[i].MemoID < out[k].MemoID })
	return out
}

func (t *Tracker) HandleProgress(e events.Event) {
	if e.Progress == nil {
		return
	}
	t.mu.Lock()
	j, ok := t.lookupLocked(e.MemoID)
	if !ok || j.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	j.Progress = append(j.Progress, *e.Progress)
	if j.Status == store.AnalysisPending {
		j.Status = store.AnalysisAnalyzing
	}
	if j.SuspectedStuck {
		j.SuspectedStuck = false
		j.Notice, j.NoticeMessage = NoticeNone, ""
	}
	j.UpdatedAt = t.now()
	snapshot := j.snapshot()
	t.mu.Unlock()
	t.changed(snapshot)
}

// HandleComplete applies a terminal push event. Repeats for a memo that is
// already terminal change nothing.
func (t *Tracker) HandleComplete(e events.Event) {
	if e.Complete == nil {
		return
	}
	t.mu.Lock()
	j, ok := t.lookupLocked(e.MemoID)
	if !ok || j.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	t.finishLocked(j, e.Complete.Status, e.Complete.Error)
	snapshot := j.snapshot()
	t.mu.Unlock()
	t.finished(snapshot)
}

// CheckStatus asks the server for the memo's current status and merges it.
// A failed check leaves the job as it was with a check_failed notice.
func (t *Tracker) CheckStatus(ctx context.Context, memoID string) (Job, error) {
	t.mu.Lock()
	j, ok := t.jobs[memoID]
	if !ok {
		t.mu.Unlock()
		return Job{}, api.InvalidError(fmt.Sprintf("memo %s is not tracked", memoID))
	}
	episode := j.Episode
	if !j.Status.Terminal() {
		j.Notice, j.NoticeMessage = NoticeChecking, ""
	}
	snapshot := j.snapshot()
	t.mu.Unlock()
	t.changed(snapshot)

	return t.check(ctx, memoID, j, episode)
}

// Reanalyze resets the memo to pending on the server. Without force it is
// refused locally while the job is pending or analyzing.
func (t *Tracker) Reanalyze(ctx context.Context, memoID string, force bool) (Job, error) {
	t.mu.Lock()
	if j, ok := t.jobs[memoID]; ok && !force && !j.Status.Terminal() {
		t.mu.Unlock()
		return Job{}, api.ConflictError("analysis already in progress")
	}
	t.mu.Unlock()

	memo, err := t.source.Reanalyze(ctx, memoID, force)
	if err != nil {
		return Job{}, err
	}
	if memo.ID == "" {
		memo.ID = memoID
	}
	if memo.AnalysisStatus == "" {
		memo.AnalysisStatus = store.AnalysisPending
	}

	t.mu.Lock()
	j, ok := t.jobs[memoID]
	if !ok {
		j = &job{Job: Job{MemoID: memoID}}
		t.jobs[memoID] = j
	}
	if memo.AnalysisStatus.Terminal() {
		t.finishLocked(j, memo.AnalysisStatus, derefString(memo.AnalysisError))
		snapshot := j.snapshot()
		t.mu.Unlock()
		t.finished(snapshot)
		return snapshot, nil
	}
	t.beginLocked(j, memo.AnalysisStatus)
	snapshot := j.snapshot()
	t.mu.Unlock()
	t.changed(snapshot)
	return snapshot, nil
}

// Close stops every timer and cancels in-flight status checks.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, j := range t.jobs {
		j.stopTimer()
	}
	t.cancel()
}

func (t *Tracker) lookupLocked(memoID string) (*job, bool) {
	j, ok := t.jobs[memoID]
	if ok || !t.opts.AutoTrack || t.closed {
		return j, ok
	}
	j = &job{Job: Job{MemoID: memoID}}
	t.jobs[memoID] = j
	t.beginLocked(j, store.AnalysisAnalyzing)
	return j, true
}

func (t *Tracker) beginLocked(j *job, status store.AnalysisStatus) {
	j.stopTimer()
	j.Episode++
	j.Status = status
	j.Error = ""
	j.Progress = nil
	j.SuspectedStuck = false
	j.Notice, j.NoticeMessage = NoticeNone, ""
	j.reconciled = false
	j.StartedAt = t.now()
	j.UpdatedAt = j.StartedAt
	if t.closed {
		return
	}
	memoID, episode := j.MemoID, j.Episode
	j.timer = t.afterFunc(t.opts.Timeout, func() { t.onTimeout(memoID, j, episode) })
}

func (t *Tracker) finishLocked(j *job, status store.AnalysisStatus, errText string) {
	j.stopTimer()
	j.Status = status
	j.Error = errText
	j.Progress = nil
	j.SuspectedStuck = false
	j.Notice, j.NoticeMessage = NoticeNone, ""
	j.UpdatedAt = t.now()
}

// onTimeout only acts on the job record that armed the timer; a retracked memo
// gets a new record.
func (t *Tracker) onTimeout(memoID string, owner *job, episode int) {
	t.mu.Lock()
	j, ok := t.jobs[memoID]
	if !ok || j != owner || t.closed || j.Episode != episode || j.Status.Terminal() || j.reconciled {
		t.mu.Unlock()
		return
	}
	j.timer = nil
	j.reconciled = true
	j.SuspectedStuck = true
	j.Notice, j.NoticeMessage = NoticeChecking, ""
	j.UpdatedAt = t.now()
	snapshot := j.snapshot()
	t.mu.Unlock()

	log.Printf("analysis: memo %s still %s after %s, checking status", memoID, snapshot.Status, t.opts.Timeout)
	t.changed(snapshot)
	_, _ = t.check(t.ctx, memoID, owner, episode)
}

func (t *Tracker) check(ctx context.Context, memoID string, owner *job, episode int) (Job, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.CheckTimeout)
	defer cancel()

	memo, err := t.source.GetMemo(ctx, memoID)
	if err != nil {
		t.mu.Lock()
		j, ok := t.jobs[memoID]
		if !ok {
			t.mu.Unlock()
			return Job{}, err
		}
		if j == owner && j.Episode == episode && !j.Status.Terminal() {
			j.Notice = NoticeCheckFailed
			j.NoticeMessage = "Status check failed: " + api.UserMessage(err)
			j.UpdatedAt = t.now()
		}
		snapshot := j.snapshot()
		t.mu.Unlock()
		log.Printf("analysis: status check for memo %s failed: %v", memoID, err)
		t.changed(snapshot)
		return snapshot, err
	}
	return t.applyServer(memo, owner, episode, true), nil
}

// applyServer merges a server snapshot. A server terminal status always wins
// over local non-terminal state; a server non-terminal status for a locally
// terminal job means a reanalysis started elsewhere.
func (t *Tracker) applyServer(memo store.Memo, owner *job, episode int, fromCheck bool) Job {
	t.mu.Lock()
	j, ok := t.jobs[memo.ID]
	if !ok {
		t.mu.Unlock()
		return Job{}
	}
	if j != owner || j.Episode != episode {
		snapshot := j.snapshot()
		t.mu.Unlock()
		return snapshot
	}

	switch {
	case memo.AnalysisStatus.Terminal() && !j.Status.Terminal():
		t.finishLocked(j, memo.AnalysisStatus, derefString(memo.AnalysisError))
		snapshot := j.snapshot()
		t.mu.Unlock()
		t.finished(snapshot)
		return snapshot
	case memo.AnalysisStatus.Terminal():
		j.Status = memo.AnalysisStatus
		j.Error = derefString(memo.AnalysisError)
	case j.Status.Terminal():
		t.beginLocked(j, memo.AnalysisStatus)
	default:
		if memo.AnalysisStatus == store.AnalysisAnalyzing {
			j.Status = store.AnalysisAnalyzing
		}
		if fromCheck {
			j.Notice = NoticeDelayed
			j.NoticeMessage = "Still analyzing. This is taking longer than usual."
		}
		j.UpdatedAt = t.now()
	}
	snapshot := j.snapshot()
	t.mu.Unlock()
	t.changed(snapshot)
	return snapshot
}

func (t *Tracker) finished(snapshot Job) {
	t.changed(snapshot)
	if snapshot.Status == store.AnalysisCompleted && t.opts.OnRefresh != nil {
		t.opts.OnRefresh(snapshot.MemoID)
	}
}

func (t *Tracker) changed(snapshot Job) {
	if t.opts.OnChange != nil {
		t.opts.OnChange(snapshot)
	}
}

func (j *job) stopTimer() {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
}

func (j *job) snapshot() Job {
	out := j.Job
	if j.Progress != nil {
		out.Progress = append([]events.Progress(nil), j.Progress...)
	}
	return out
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
