package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"zentel/client/internal/analysis"
	"zentel/client/internal/search"
	"zentel/client/internal/store"
)

func setLocalEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ZENTEL_SEARCH_DB", filepath.Join(dir, "search.db"))
	t.Setenv("ZENTEL_DRAFTS_DIR", filepath.Join(dir, "drafts"))
	t.Setenv("REDIS_URL", "")
	t.Setenv("MEILI_URL", "")
	t.Setenv("EXPORT_S3_ENDPOINT", "")
	return dir
}

func TestOpenRuntimeLocalDefaults(t *testing.T) {
	setLocalEnv(t)

	rt, err := openRuntime(hooks{})
	if err != nil {
		t.Fatalf("openRuntime() error = %v", err)
	}
	defer rt.Close()

	if _, ok := rt.cache.(*store.MemoryCache); !ok {
		t.Fatalf("expected in-memory cache without REDIS_URL, got %T", rt.cache)
	}
	if _, err := rt.session.Drafts(); err != nil {
		t.Fatalf("Drafts() error = %v", err)
	}
	response := rt.session.Search(search.Query{Text: "anything"})
	if response.Total != 0 || len(response.Results) != 0 {
		t.Fatalf("expected empty search on a fresh index, got %+v", response)
	}
}

func TestOpenRuntimeUsesRedisWhenConfigured(t *testing.T) {
	setLocalEnv(t)
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())

	rt, err := openRuntime(hooks{})
	if err != nil {
		t.Fatalf("openRuntime() error = %v", err)
	}
	defer rt.Close()

	if _, ok := rt.cache.(*store.RedisCache); !ok {
		t.Fatalf("expected redis cache, got %T", rt.cache)
	}
	if err := rt.cache.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestAPIFlagOverridesEnv(t *testing.T) {
	t.Setenv("ZENTEL_API_URL", "http://env.example")
	apiURL = "http://flag.example/"
	defer func() { apiURL = "" }()

	if got := loadConfig().APIURL; got != "http://flag.example" {
		t.Fatalf("APIURL = %q", got)
	}
}

func TestWaitForJobStopsOnTerminalOrDelay(t *testing.T) {
	jobs := newJobFeed()
	jobs.push(analysis.Job{MemoID: "other", Status: store.AnalysisCompleted})
	jobs.push(analysis.Job{MemoID: "m1", Status: store.AnalysisAnalyzing})
	jobs.push(analysis.Job{MemoID: "m1", Status: store.AnalysisCompleted, Episode: 1})

	got := waitForJob(context.Background(), jobs, analysis.Job{MemoID: "m1", Status: store.AnalysisPending})
	if got.Status != store.AnalysisCompleted {
		t.Fatalf("expected completed job, got %+v", got)
	}

	jobs.push(analysis.Job{MemoID: "m2", Status: store.AnalysisAnalyzing, Notice: analysis.NoticeDelayed})
	got = waitForJob(context.Background(), jobs, analysis.Job{MemoID: "m2", Status: store.AnalysisPending})
	if got.Notice != analysis.NoticeDelayed {
		t.Fatalf("expected delayed notice, got %+v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got = waitForJob(ctx, jobs, analysis.Job{MemoID: "m3", Status: store.AnalysisPending})
	if got.Status != store.AnalysisPending {
		t.Fatalf("expected last known job on cancel, got %+v", got)
	}
}

func TestJobFeedKeepsTerminalSnapshot(t *testing.T) {
	jobs := newJobFeed()
	for i := 0; i < 200; i++ {
		jobs.push(analysis.Job{MemoID: "m1", Status: store.AnalysisAnalyzing})
	}
	jobs.push(analysis.Job{MemoID: "m1", Status: store.AnalysisCompleted, Episode: 1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := waitForJob(ctx, jobs, analysis.Job{MemoID: "m1", Status: store.AnalysisPending})
	if got.Status != store.AnalysisCompleted {
		t.Fatalf("terminal snapshot lost behind a burst: %+v", got)
	}
}

func TestJobFeedDeliversLaterPush(t *testing.T) {
	jobs := newJobFeed()
	go func() {
		time.Sleep(10 * time.Millisecond)
		jobs.push(analysis.Job{MemoID: "m1", Status: store.AnalysisFailed, Error: "model timeout"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := waitForJob(ctx, jobs, analysis.Job{MemoID: "m1", Status: store.AnalysisPending})
	if got.Status != store.AnalysisFailed || got.Error != "model timeout" {
		t.Fatalf("waitForJob() = %+v", got)
	}
}

func TestMemoEditRegistered(t *testing.T) {
	cmd, _, err := RootCmd.Find([]string{"memo", "edit"})
	if err != nil || cmd.Name() != "edit" {
		t.Fatalf("memo edit not registered: %v", err)
	}
	for _, name := range []string{"type", "interests", "rematch"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("memo edit missing --%s", name)
		}
	}
}

func TestRepliesTo(t *testing.T) {
	parent := "c1"
	other := "c9"
	list := []store.Comment{
		{ID: "c1", Content: "@Ada thoughts?"},
		{ID: "c2", IsAIResponse: true, ParentCommentID: &parent},
		{ID: "c3", IsAIResponse: true, ParentCommentID: &other},
		{ID: "c4", ParentCommentID: &parent},
	}
	got := repliesTo(list, "c1")
	if len(got) != 1 || got[0].ID != "c2" {
		t.Fatalf("repliesTo() = %+v", got)
	}
	if got := repliesTo(nil, "c1"); got == nil {
		t.Fatal("expected a non-nil empty slice")
	}
}

func TestExportPath(t *testing.T) {
	dir := t.TempDir()
	if got := exportPath("", "note.md"); got != "note.md" {
		t.Fatalf("exportPath(empty) = %q", got)
	}
	if got := exportPath(dir, "note.md"); got != filepath.Join(dir, "note.md") {
		t.Fatalf("exportPath(dir) = %q", got)
	}
	file := filepath.Join(dir, "custom.pdf")
	if got := exportPath(file, "note.pdf"); got != file {
		t.Fatalf("exportPath(file) = %q", got)
	}
}

func TestEmitFormats(t *testing.T) {
	var buf bytes.Buffer
	stdout = &buf
	defer func() { stdout = os.Stdout; formatFlag = "json" }()

	formatFlag = "json"
	emit(map[string]int{"total": 2}, nil)
	if !strings.Contains(buf.String(), `"total": 2`) {
		t.Fatalf("unexpected json output %q", buf.String())
	}

	buf.Reset()
	formatFlag = "text"
	memo := store.Memo{ID: "m1", MemoType: store.MemoNewIdea, AnalysisStatus: store.AnalysisPending, Content: "first line\nsecond"}
	emit(memo, func(w io.Writer) { printMemoLine(w, memo) })
	if got := buf.String(); !strings.HasPrefix(got, "m1  NEW_IDEA") || !strings.Contains(got, "first line") || strings.Contains(got, "second") {
		t.Fatalf("unexpected text output %q", got)
	}
}

func TestFirstLineTruncates(t *testing.T) {
	long := strings.Repeat("가", 70)
	got := firstLine("  " + long + "\nrest")
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != 61 {
		t.Fatalf("firstLine() = %q", got)
	}
}

func TestReadContentPrefersArgs(t *testing.T) {
	got, err := readContent([]string{"hello", "@Ada"}, os.Stdin)
	if err != nil || got != "hello @Ada" {
		t.Fatalf("readContent() = %q, %v", got, err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe() error = %v", err)
	}
	_, _ = w.WriteString("piped body")
	_ = w.Close()
	defer r.Close()
	got, err = readContent(nil, r)
	if err != nil || got != "piped body" {
		t.Fatalf("readContent(pipe) = %q, %v", got, err)
	}
}
