package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zentel/client/internal/analysis"
	"zentel/client/internal/api"
	"zentel/client/internal/store"
)

func init() {
	memoCmd := &cobra.Command{
		Use:   "memo",
		Short: "Create, inspect and reanalyze memos",
	}

	createCmd := &cobra.Command{
		Use:   "create [content]",
		Short: "Create a memo",
		Long:  "Create a memo. Content can be a positional arg or piped via stdin.",
		Run:   runMemoCreate,
	}
	createCmd.Flags().StringP("type", "t", string(store.MemoNewIdea), "Memo type")
	createCmd.Flags().String("url", "", "Source URL (external sources)")
	createCmd.Flags().BoolP("wait", "w", false, "Wait for the analysis to finish")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List memos",
		Run:   runMemoList,
	}
	listCmd.Flags().StringP("type", "t", "", "Filter by memo type")
	listCmd.Flags().IntP("limit", "l", 20, "Max results")
	listCmd.Flags().Int("offset", 0, "Skip this many memos")

	showCmd := &cobra.Command{
		Use:   "show <memo-id>",
		Short: "Show one memo",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoShow,
	}

	statusCmd := &cobra.Command{
		Use:   "status <memo-id>",
		Short: "Ask the server for the memo's analysis status",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoStatus,
	}

	reanalyzeCmd := &cobra.Command{
		Use:   "reanalyze <memo-id>",
		Short: "Start a new analysis of a memo",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoReanalyze,
	}
	reanalyzeCmd.Flags().Bool("force", false, "Reset an analysis that looks stuck")
	reanalyzeCmd.Flags().BoolP("wait", "w", false, "Wait for the analysis to finish")

	editCmd := &cobra.Command{
		Use:   "edit <memo-id> [content]",
		Short: "Change a memo's type, content or interests",
		Long:  "Change a memo's type, content or interests. New content can be positional args or piped via stdin. --interests \"\" clears them; --rematch lets the server match them against the content.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runMemoEdit,
	}
	editCmd.Flags().StringP("type", "t", "", "New memo type")
	editCmd.Flags().StringSlice("interests", nil, "Replace the memo's interests (comma separated)")
	editCmd.Flags().Bool("rematch", false, "Re-match interests against the content")

	rmCmd := &cobra.Command{
		Use:   "rm <memo-id>",
		Short: "Delete a memo",
		Args:  cobra.ExactArgs(1),
		Run:   runMemoRm,
	}

	memoCmd.AddCommand(createCmd, listCmd, showCmd, editCmd, statusCmd, reanalyzeCmd, rmCmd)
	RootCmd.AddCommand(memoCmd)
}

func runMemoCreate(cmd *cobra.Command, args []string) {
	typeFlag, _ := cmd.Flags().GetString("type")
	sourceURL, _ := cmd.Flags().GetString("url")
	wait, _ := cmd.Flags().GetBool("wait")

	memoType, ok := store.ParseMemoType(typeFlag)
	if !ok {
		exitErr("create memo", fmt.Errorf("unknown memo type %q", typeFlag))
	}
	content, err := readContent(args, os.Stdin)
	if err != nil {
		exitErr("create memo", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("create memo", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	input := api.CreateMemoInput{MemoType: memoType, Content: content}
	if trimmed := strings.TrimSpace(sourceURL); trimmed != "" {
		input.SourceURL = &trimmed
	}

	jobs := newJobFeed()
	rt := mustOpen(hooks{onJobChange: jobs.push})
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if wait {
		rt.session.Start(ctx)
	}

	memo, job, err := rt.session.CreateMemo(ctx, input)
	if err != nil {
		exitErr("create memo", err)
	}
	if wait {
		job = waitForJob(ctx, jobs, job)
		if job.Status == store.AnalysisCompleted {
			if refreshed, err := rt.session.RefreshMemo(ctx, memo.ID); err == nil {
				memo = refreshed
			}
		}
	}
	emit(map[string]any{"memo": memo, "job": job}, func(w io.Writer) {
		printMemo(w, memo)
		printJob(w, job)
	})
}

func runMemoList(cmd *cobra.Command, args []string) {
	typeFlag, _ := cmd.Flags().GetString("type")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	input := api.ListMemosInput{Limit: limit, Offset: offset}
	if typeFlag != "" {
		memoType, ok := store.ParseMemoType(typeFlag)
		if !ok {
			exitErr("list memos", fmt.Errorf("unknown memo type %q", typeFlag))
		}
		input.Type = memoType
	}

	rt := mustOpen(hooks{})
	defer rt.Close()

	list, err := rt.session.ListMemos(cmd.Context(), input)
	if err != nil {
		exitErr("list memos", err)
	}
	emit(list, func(w io.Writer) {
		for _, memo := range list.Items {
			printMemoLine(w, memo)
		}
		fmt.Fprintf(w, "%d of %d\n", len(list.Items), list.Total)
	})
}

func runMemoShow(cmd *cobra.Command, args []string) {
	rt := mustOpen(hooks{})
	defer rt.Close()

	memo, err := rt.session.Memo(cmd.Context(), args[0])
	if err != nil {
		exitErr("show memo", err)
	}
	emit(memo, func(w io.Writer) { printMemo(w, memo) })
}

func runMemoEdit(cmd *cobra.Command, args []string) {
	typeFlag, _ := cmd.Flags().GetString("type")
	interests, _ := cmd.Flags().GetStringSlice("interests")
	rematch, _ := cmd.Flags().GetBool("rematch")

	input := api.UpdateMemoInput{RematchInterests: rematch}
	if typeFlag != "" {
		memoType, ok := store.ParseMemoType(typeFlag)
		if !ok {
			exitErr("edit memo", fmt.Errorf("unknown memo type %q", typeFlag))
		}
		input.MemoType = &memoType
	}
	if cmd.Flags().Changed("interests") {
		cleaned := make([]string, 0, len(interests))
		for _, interest := range interests {
			if trimmed := strings.TrimSpace(interest); trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		input.Interests = &cleaned
	}
	content, err := readContent(args[1:], os.Stdin)
	if err != nil {
		exitErr("edit memo", err)
	}
	if strings.TrimSpace(content) != "" {
		input.Content = &content
	}

	rt := mustOpen(hooks{})
	defer rt.Close()

	memo, err := rt.session.UpdateMemo(cmd.Context(), args[0], input)
	if err != nil {
		exitErr("edit memo", err)
	}
	emit(memo, func(w io.Writer) { printMemo(w, memo) })
}

func runMemoStatus(cmd *cobra.Command, args []string) {
	rt := mustOpen(hooks{})
	defer rt.Close()

	job, err := rt.session.CheckStatus(cmd.Context(), args[0])
	if err != nil {
		exitErr("check status", err)
	}
	emit(job, func(w io.Writer) { printJob(w, job) })
}

func runMemoReanalyze(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	wait, _ := cmd.Flags().GetBool("wait")

	jobs := newJobFeed()
	rt := mustOpen(hooks{onJobChange: jobs.push})
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if wait {
		rt.session.Start(ctx)
	}

	// The tracker only reanalyzes memos it knows about.
	if _, err := rt.session.CheckStatus(ctx, args[0]); err != nil {
		exitErr("reanalyze", err)
	}
	job, err := rt.session.Reanalyze(ctx, args[0], force)
	if err != nil {
		exitErr("reanalyze", err)
	}
	if wait {
		job = waitForJob(ctx, jobs, job)
	}
	emit(job, func(w io.Writer) { printJob(w, job) })
}

func runMemoRm(cmd *cobra.Command, args []string) {
	rt := mustOpen(hooks{})
	defer rt.Close()

	if err := rt.session.DeleteMemo(cmd.Context(), args[0]); err != nil {
		exitErr("delete memo", err)
	}
	emit(map[string]any{"deleted": args[0]}, func(w io.Writer) {
		fmt.Fprintf(w, "deleted %s\n", args[0])
	})
}

// jobFeed keeps the latest job snapshot per memo. push never blocks the
// tracker and a newer snapshot replaces one that was not read yet.
type jobFeed struct {
	mu     sync.Mutex
	latest map[string]analysis.Job
	ready  chan struct{}
}

func newJobFeed() *jobFeed {
	return &jobFeed{latest: make(map[string]analysis.Job), ready: make(chan struct{}, 1)}
}

func (f *jobFeed) push(job analysis.Job) {
	f.mu.Lock()
	f.latest[job.MemoID] = job
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *jobFeed) take(memoID string) (analysis.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.latest[memoID]
	delete(f.latest, memoID)
	return job, ok
}

// waitForJob follows job updates for last.MemoID until the analysis ends, the
// tracker gives up waiting on the stream, or ctx ends.
func waitForJob(ctx context.Context, jobs *jobFeed, last analysis.Job) analysis.Job {
	if last.Status.Terminal() {
		return last
	}
	for {
		if job, ok := jobs.take(last.MemoID); ok {
			last = job
			if textOutput() && len(job.Progress) > 0 {
				p := job.Progress[len(job.Progress)-1]
				fmt.Fprintf(os.Stderr, "%s %s %s\n", job.MemoID, p.Step, p.Message)
			}
			if job.Status.Terminal() || job.Notice == analysis.NoticeDelayed || job.Notice == analysis.NoticeCheckFailed {
				return job
			}
		}
		select {
		case <-ctx.Done():
			return last
		case <-jobs.ready:
		}
	}
}

func printMemoLine(w io.Writer, memo store.Memo) {
	title := firstLine(memo.Content)
	if memo.OGTitle != nil && strings.TrimSpace(*memo.OGTitle) != "" {
		title = strings.TrimSpace(*memo.OGTitle)
	}
	fmt.Fprintf(w, "%s  %-18s  %-9s  %s\n", memo.ID, memo.MemoType, memo.AnalysisStatus, title)
}

func printMemo(w io.Writer, memo store.Memo) {
	printMemoLine(w, memo)
	fmt.Fprintf(w, "created %s, %d comments\n\n", memo.CreatedAt, memo.CommentCount)
	body := memo.Content
	if derived, ok := memo.Derived(); ok && derived.DisplayContent != "" {
		body = derived.DisplayContent
	}
	fmt.Fprintln(w, body)
	if memo.Context != nil && memo.AnalysisStatus == store.AnalysisCompleted {
		fmt.Fprintf(w, "\n%s\n", *memo.Context)
	}
	if len(memo.Interests) > 0 {
		fmt.Fprintf(w, "\ninterests: %s\n", strings.Join(memo.Interests, ", "))
	}
	if memo.AnalysisError != nil && memo.AnalysisStatus == store.AnalysisFailed {
		fmt.Fprintf(w, "\nanalysis failed: %s\n", *memo.AnalysisError)
	}
}

func printJob(w io.Writer, job analysis.Job) {
	fmt.Fprintf(w, "job %s: %s (episode %d)", job.MemoID, job.Status, job.Episode)
	if job.SuspectedStuck {
		fmt.Fprint(w, " suspected stuck")
	}
	if job.NoticeMessage != "" {
		fmt.Fprintf(w, " - %s", job.NoticeMessage)
	}
	if job.Error != "" {
		fmt.Fprintf(w, " error: %s", job.Error)
	}
	fmt.Fprintln(w)
	for _, p := range job.Progress {
		fmt.Fprintf(w, "  %s %s\n", p.Timestamp.Format(time.TimeOnly), p.Message)
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if runes := []rune(line); len(runes) > 60 {
		return string(runes[:60]) + "…"
	}
	return line
}
