package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"zentel/client/internal/analysis"
	"zentel/client/internal/api"
	"zentel/client/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch [memo-id]...",
		Short: "Follow analysis progress and persona replies until interrupted",
		Long:  "Subscribe to the event stream and print job and reply updates. Memos still being analyzed in the latest page are followed, plus any memo ids given.",
		Run:   runWatch,
	}
	cmd.Flags().IntP("limit", "l", 50, "How many recent memos to check for running analyses")

	RootCmd.AddCommand(cmd)
}

// lineWriter serialises output from tracker callbacks.
type lineWriter struct {
	mu sync.Mutex
}

func (lw *lineWriter) job(job analysis.Job) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if textOutput() {
		printJob(stdout, job)
		return
	}
	_ = json.NewEncoder(stdout).Encode(map[string]any{"type": "job", "job": job})
}

func (lw *lineWriter) replies(memoID string, list []store.Comment) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if textOutput() {
		fmt.Fprintf(stdout, "comments of %s:\n", memoID)
		for _, comment := range list {
			printComment(stdout, comment)
		}
		return
	}
	_ = json.NewEncoder(stdout).Encode(map[string]any{"type": "comments", "memo_id": memoID, "items": list})
}

func runWatch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	out := &lineWriter{}
	rt := mustOpen(hooks{onJobChange: out.job, onReplies: out.replies})
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.session.Start(ctx)
	rt.index.ReindexFromLocal(ctx)

	if _, err := rt.session.ListMemos(ctx, api.ListMemosInput{Limit: limit}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: list memos: %s\n", api.UserMessage(err))
	}
	for _, memoID := range args {
		job, err := rt.session.CheckStatus(ctx, memoID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: track %s: %s\n", memoID, api.UserMessage(err))
			continue
		}
		out.job(job)
	}
	fmt.Fprintf(os.Stderr, "watching %d memos, Ctrl-C to stop\n", len(rt.session.Jobs()))

	<-ctx.Done()
	stats := rt.stream.Stats()
	fmt.Fprintf(os.Stderr, "stream: %d events delivered, %d dropped, %d reconnects\n", stats.Delivered, stats.Dropped, stats.Reconnects)
}
