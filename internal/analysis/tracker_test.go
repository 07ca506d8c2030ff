package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"zentel/client/internal/api"
	"zentel/client/internal/events"
	"zentel/client/internal/store"
)

type fakeSource struct {
	getMemoFn   func(ctx context.Context, memoID string) (store.Memo, error)
	reanalyzeFn func(ctx context.Context, memoID string, force bool) (store.Memo, error)
	getCalls    int
}

func (f *fakeSource) GetMemo(ctx context.Context, memoID string) (store.Memo, error) {
	f.getCalls++
	if f.getMemoFn == nil {
		return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisAnalyzing}, nil
	}
	return f.getMemoFn(ctx, memoID)
}

func (f *fakeSource) Reanalyze(ctx context.Context, memoID string, force bool) (store.Memo, error) {
	if f.reanalyzeFn == nil {
		return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisPending}, nil
	}
	return f.reanalyzeFn(ctx, memoID, force)
}

type fakeTimer struct {
	fn      func()
	stopped bool
	fired   bool
}

func (f *fakeTimer) Stop() bool {
	active := !f.stopped && !f.fired
	f.stopped = true
	return active
}

type fakeClock struct {
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(_ time.Duration, fn func()) timer {
	t := &fakeTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) fireAll() {
	pending := append([]*fakeTimer(nil), c.timers...)
	for _, t := range pending {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.fn()
	}
}

func (c *fakeClock) active() int {
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recorder struct {
	refreshed []string
	changes   int
}

func newTestTracker(t *testing.T, source *fakeSource, opts Options) (*Tracker, *fakeClock, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.OnRefresh = func(memoID string) { rec.refreshed = append(rec.refreshed, memoID) }
	opts.OnChange = func(Job) { rec.changes++ }
	tracker := NewTracker(source, opts)
	clock := &fakeClock{}
	tracker.afterFunc = clock.afterFunc
	t.Cleanup(tracker.Close)
	return tracker, clock, rec
}

func progressEvent(memoID, step string) events.Event {
	return events.Event{
		Kind:     events.KindProgress,
		MemoID:   memoID,
		Progress: &events.Progress{MemoID: memoID, Step: step, Message: step},
	}
}

func completeEvent(memoID string, status store.AnalysisStatus) events.Event {
	return events.Event{
		Kind:     events.KindComplete,
		MemoID:   memoID,
		Complete: &events.Complete{MemoID: memoID, Status: status},
	}
}

func TestMemoLifecycleRefreshesOnce(t *testing.T) {
	tracker, clock, rec := newTestTracker(t, &fakeSource{}, Options{})

	job := tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})
	if job.Status != store.AnalysisPending || clock.active() != 1 {
		t.Fatalf("Track() = %+v, active timers %d", job, clock.active())
	}

	tracker.HandleProgress(progressEvent("m1", "start"))
	job, _ = tracker.Job("m1")
	if len(job.Progress) != 1 || job.Status != store.AnalysisAnalyzing {
		t.Fatalf("after progress: %+v", job)
	}

	tracker.HandleComplete(completeEvent("m1", store.AnalysisCompleted))
	job, _ = tracker.Job("m1")
	if job.Status != store.AnalysisCompleted || len(job.Progress) != 0 {
		t.Fatalf("after complete: %+v", job)
	}
	if len(rec.refreshed) != 1 || rec.refreshed[0] != "m1" {
		t.Fatalf("refreshed = %v", rec.refreshed)
	}
	if clock.active() != 0 {
		t.Fatalf("timer still active after completion")
	}

	tracker.HandleComplete(completeEvent("m1", store.AnalysisCompleted))
	tracker.HandleProgress(progressEvent("m1", "llm"))
	if len(rec.refreshed) != 1 {
		t.Fatalf("duplicate complete refreshed again: %v", rec.refreshed)
	}
	if job, _ = tracker.Job("m1"); len(job.Progress) != 0 {
		t.Fatalf("late progress appended to terminal job: %+v", job)
	}
}

func TestCompleteAfterTerminalIsNoop(t *testing.T) {
	tracker, _, rec := newTestTracker(t, &fakeSource{}, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisAnalyzing})
	tracker.HandleComplete(completeEvent("m1", store.AnalysisFailed))
	before, _ := tracker.Job("m1")
	changes := rec.changes

	tracker.HandleComplete(completeEvent("m1", store.AnalysisCompleted))
	after, _ := tracker.Job("m1")
	if after.Status != store.AnalysisFailed || after.UpdatedAt != before.UpdatedAt {
		t.Fatalf("terminal job changed: %+v", after)
	}
	if rec.changes != changes || len(rec.refreshed) != 0 {
		t.Fatalf("unexpected side effects: changes %d, refreshed %v", rec.changes-changes, rec.refreshed)
	}
}

func TestTimeoutAdoptsServerTerminal(t *testing.T) {
	source := &fakeSource{getMemoFn: func(_ context.Context, memoID string) (store.Memo, error) {
		return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisCompleted}, nil
	}}
	tracker, clock, rec := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisAnalyzing})

	clock.fireAll()
	job, _ := tracker.Job("m1")
	if job.Status != store.AnalysisCompleted || job.SuspectedStuck {
		t.Fatalf("after timeout: %+v", job)
	}
	if source.getCalls != 1 || len(rec.refreshed) != 1 {
		t.Fatalf("getCalls %d, refreshed %v", source.getCalls, rec.refreshed)
	}

	tracker.HandleComplete(completeEvent("m1", store.AnalysisCompleted))
	if len(rec.refreshed) != 1 {
		t.Fatalf("late push event refreshed again")
	}
}

func TestTimeoutReconcilesOncePerEpisode(t *testing.T) {
	source := &fakeSource{}
	tracker, clock, _ := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})

	clock.fireAll()
	job, _ := tracker.Job("m1")
	if !job.SuspectedStuck || job.Notice != NoticeDelayed || job.Status != store.AnalysisAnalyzing {
		t.Fatalf("after timeout: %+v", job)
	}

	clock.fireAll()
	clock.timers[0].fn()
	if source.getCalls != 1 {
		t.Fatalf("reconciled %d times in one episode", source.getCalls)
	}

	if _, err := tracker.CheckStatus(context.Background(), "m1"); err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if source.getCalls != 2 {
		t.Fatalf("manual check did not call server")
	}

	if _, err := tracker.Reanalyze(context.Background(), "m1", true); err != nil {
		t.Fatalf("Reanalyze() error = %v", err)
	}
	clock.fireAll()
	if source.getCalls != 3 {
		t.Fatalf("new episode did not get its own reconcile, calls %d", source.getCalls)
	}
}

func TestTimeoutCheckFailureIsRecoverable(t *testing.T) {
	fail := true
	source := &fakeSource{getMemoFn: func(_ context.Context, memoID string) (store.Memo, error) {
		if fail {
			return store.Memo{}, &api.Error{Code: "NETWORK", Message: "server unreachable"}
		}
		return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisFailed}, nil
	}}
	tracker, clock, rec := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisAnalyzing})

	clock.fireAll()
	job, _ := tracker.Job("m1")
	if job.Notice != NoticeCheckFailed || !job.SuspectedStuck || job.Status != store.AnalysisAnalyzing {
		t.Fatalf("after failed check: %+v", job)
	}

	fail = false
	job, err := tracker.CheckStatus(context.Background(), "m1")
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if job.Status != store.AnalysisFailed || job.Notice != NoticeNone {
		t.Fatalf("after retry: %+v", job)
	}
	if len(rec.refreshed) != 0 {
		t.Fatalf("failed job must not trigger refresh")
	}
}

func TestStoppedTimerDoesNotReconcile(t *testing.T) {
	source := &fakeSource{}
	tracker, clock, _ := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})
	tracker.HandleComplete(completeEvent("m1", store.AnalysisCompleted))

	clock.timers[0].fn()
	if source.getCalls != 0 {
		t.Fatalf("timer fired status check after completion")
	}
}

func TestReanalyzeConflictAndForce(t *testing.T) {
	var forced []bool
	source := &fakeSource{reanalyzeFn: func(_ context.Context, memoID string, force bool) (store.Memo, error) {
		forced = append(forced, force)
		return store.Memo{ID: memoID, AnalysisStatus: store.AnalysisPending}, nil
	}}
	tracker, clock, _ := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisAnalyzing})
	before, _ := tracker.Job("m1")

	_, err := tracker.Reanalyze(context.Background(), "m1", false)
	if !errors.Is(err, api.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	after, _ := tracker.Job("m1")
	if len(forced) != 0 || after.Episode != before.Episode || after.Status != store.AnalysisAnalyzing {
		t.Fatalf("rejected reanalyze mutated state: %+v, calls %v", after, forced)
	}

	job, err := tracker.Reanalyze(context.Background(), "m1", true)
	if err != nil {
		t.Fatalf("Reanalyze(force) error = %v", err)
	}
	if len(forced) != 1 || !forced[0] {
		t.Fatalf("force flag not sent: %v", forced)
	}
	if job.Status != store.AnalysisPending || job.Episode != before.Episode+1 {
		t.Fatalf("after forced reanalyze: %+v", job)
	}
	if clock.active() != 1 {
		t.Fatalf("active timers = %d, want 1", clock.active())
	}
}

func TestReanalyzeServerConflictKeepsState(t *testing.T) {
	source := &fakeSource{reanalyzeFn: func(context.Context, string, bool) (store.Memo, error) {
		return store.Memo{}, api.ConflictError("already analyzing")
	}}
	tracker, _, _ := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisCompleted})

	_, err := tracker.Reanalyze(context.Background(), "m1", false)
	if !errors.Is(err, api.ErrConflict) || api.UserMessage(err) != "already analyzing" {
		t.Fatalf("expected server conflict, got %v", err)
	}
	if job, _ := tracker.Job("m1"); job.Status != store.AnalysisCompleted {
		t.Fatalf("state changed after rejected reanalyze: %+v", job)
	}
}

func TestTrackServerResetStartsEpisode(t *testing.T) {
	tracker, clock, _ := newTestTracker(t, &fakeSource{}, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisCompleted})
	if clock.active() != 0 {
		t.Fatal("terminal memo must not start a timer")
	}

	job := tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})
	if job.Status != store.AnalysisPending || job.Episode != 1 || clock.active() != 1 {
		t.Fatalf("Track() after reset = %+v", job)
	}
}

func TestAutoTrack(t *testing.T) {
	tracker, _, _ := newTestTracker(t, &fakeSource{}, Options{})
	tracker.HandleProgress(progressEvent("m9", "start"))
	if _, ok := tracker.Job("m9"); ok {
		t.Fatal("unknown memo tracked without AutoTrack")
	}

	auto, _, _ := newTestTracker(t, &fakeSource{}, Options{AutoTrack: true})
	auto.HandleProgress(progressEvent("m9", "start"))
	job, ok := auto.Job("m9")
	if !ok || job.Status != store.AnalysisAnalyzing || len(job.Progress) != 1 {
		t.Fatalf("auto-tracked job = %+v, %v", job, ok)
	}
}

func TestUntrackStopsTimer(t *testing.T) {
	source := &fakeSource{}
	tracker, clock, _ := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})
	tracker.Untrack("m1")

	if clock.active() != 0 {
		t.Fatal("timer still active after Untrack")
	}
	clock.timers[0].fn()
	if source.getCalls != 0 {
		t.Fatal("untracked memo was checked")
	}
	if _, err := tracker.CheckStatus(context.Background(), "m1"); !errors.Is(err, api.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for untracked memo, got %v", err)
	}
}

func TestStaleTimerAfterRetrackIsIgnored(t *testing.T) {
	source := &fakeSource{}
	tracker, clock, _ := newTestTracker(t, source, Options{})
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})
	tracker.Untrack("m1")
	job := tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})
	if job.Episode != 1 || len(clock.timers) != 2 {
		t.Fatalf("retracked job = %+v, timers %d", job, len(clock.timers))
	}

	// The old timer fires after Untrack already lost the race to stop it.
	clock.timers[0].fn()
	if source.getCalls != 0 {
		t.Fatalf("old timer checked the new episode (%d GETs)", source.getCalls)
	}
	if job, _ := tracker.Job("m1"); job.SuspectedStuck || job.Notice != NoticeNone {
		t.Fatalf("old timer changed the new job: %+v", job)
	}

	clock.fireAll()
	if source.getCalls != 1 {
		t.Fatalf("expected the new timer to reconcile once, got %d GETs", source.getCalls)
	}
}

type fakeStream struct {
	handlers map[events.Kind][]events.Handler
}

func (f *fakeStream) Subscribe(kind events.Kind, _ string, h events.Handler) func() {
	if f.handlers == nil {
		f.handlers = make(map[events.Kind][]events.Handler)
	}
	f.handlers[kind] = append(f.handlers[kind], h)
	return func() { delete(f.handlers, kind) }
}

func (f *fakeStream) emit(e events.Event) {
	for _, h := range f.handlers[e.Kind] {
		h(e)
	}
}

func TestAttachRoutesStreamEvents(t *testing.T) {
	tracker, _, rec := newTestTracker(t, &fakeSource{}, Options{})
	stream := &fakeStream{}
	detach := tracker.Attach(stream)
	tracker.Track(store.Memo{ID: "m1", AnalysisStatus: store.AnalysisPending})

	stream.emit(progressEvent("m1", "scrape"))
	stream.emit(completeEvent("m1", store.AnalysisCompleted))
	if len(rec.refreshed) != 1 {
		t.Fatalf("refreshed = %v", rec.refreshed)
	}

	detach()
	if len(stream.handlers) != 0 {
		t.Fatalf("handlers left after detach: %v", stream.handlers)
	}
}
