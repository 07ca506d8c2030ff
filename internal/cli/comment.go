package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"zentel/client/internal/app"
	"zentel/client/internal/store"
)

func init() {
	commentCmd := &cobra.Command{
		Use:   "comment",
		Short: "Comment on memos and collect persona replies",
	}

	addCmd := &cobra.Command{
		Use:   "add <memo-id> [content]",
		Short: "Add a comment; @Name mentions ask that persona to reply",
		Args:  cobra.MinimumNArgs(1),
		Run:   runCommentAdd,
	}
	addCmd.Flags().BoolP("wait", "w", false, "Wait for persona replies")

	listCmd := &cobra.Command{
		Use:   "list <memo-id>",
		Short: "List a memo's comments",
		Args:  cobra.ExactArgs(1),
		Run:   runCommentList,
	}

	editCmd := &cobra.Command{
		Use:   "edit <memo-id> <comment-id> [content]",
		Short: "Edit one of your comments",
		Args:  cobra.MinimumNArgs(2),
		Run:   runCommentEdit,
	}

	rmCmd := &cobra.Command{
		Use:   "rm <memo-id> <comment-id>",
		Short: "Delete a comment",
		Args:  cobra.ExactArgs(2),
		Run:   runCommentRm,
	}

	commentCmd.AddCommand(addCmd, listCmd, editCmd, rmCmd)
	RootCmd.AddCommand(commentCmd)
}

func runCommentAdd(cmd *cobra.Command, args []string) {
	wait, _ := cmd.Flags().GetBool("wait")
	memoID := args[0]
	content, err := readContent(args[1:], os.Stdin)
	if err != nil {
		exitErr("add comment", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("add comment", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	replies := make(chan []store.Comment, 16)
	rt := mustOpen(hooks{onReplies: forwardReplies(memoID, replies)})
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if wait {
		rt.session.Start(ctx)
	}

	result, err := rt.session.AddComment(ctx, memoID, content)
	if err != nil {
		exitErr("add comment", err)
	}
	out := map[string]any{"comment": result.Comment, "mentioned": result.Mentioned, "waiting": result.Waiting}
	var thread []store.Comment
	if wait && result.Waiting {
		thread = waitForReplies(ctx, rt.session, result.Comment.ID, replies)
		out["replies"] = repliesTo(thread, result.Comment.ID)
	}
	emit(out, func(w io.Writer) {
		printComment(w, result.Comment)
		for _, persona := range result.Mentioned {
			fmt.Fprintf(w, "  asked %s\n", persona.Name)
		}
		for _, reply := range repliesTo(thread, result.Comment.ID) {
			printComment(w, reply)
		}
	})
}

func runCommentList(cmd *cobra.Command, args []string) {
	rt := mustOpen(hooks{})
	defer rt.Close()

	list, err := rt.session.Comments(cmd.Context(), args[0])
	if err != nil {
		exitErr("list comments", err)
	}
	emit(store.CommentList{Items: list, Total: len(list)}, func(w io.Writer) {
		for _, comment := range list {
			printComment(w, comment)
		}
	})
}

func runCommentEdit(cmd *cobra.Command, args []string) {
	content, err := readContent(args[2:], os.Stdin)
	if err != nil {
		exitErr("edit comment", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("edit comment", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	rt := mustOpen(hooks{})
	defer rt.Close()

	// Load the thread so AI replies are recognised and refused locally.
	if _, err := rt.session.Comments(cmd.Context(), args[0]); err != nil {
		exitErr("edit comment", err)
	}
	comment, err := rt.session.EditComment(cmd.Context(), args[0], args[1], content)
	if err != nil {
		exitErr("edit comment", err)
	}
	emit(comment, func(w io.Writer) { printComment(w, comment) })
}

func runCommentRm(cmd *cobra.Command, args []string) {
	rt := mustOpen(hooks{})
	defer rt.Close()

	if _, err := rt.session.Comments(cmd.Context(), args[0]); err != nil {
		exitErr("delete comment", err)
	}
	if err := rt.session.DeleteComment(cmd.Context(), args[0], args[1]); err != nil {
		exitErr("delete comment", err)
	}
	emit(map[string]any{"deleted": args[1]}, func(w io.Writer) {
		fmt.Fprintf(w, "deleted %s\n", args[1])
	})
}

func forwardReplies(memoID string, ch chan<- []store.Comment) func(string, []store.Comment) {
	return func(id string, list []store.Comment) {
		if id != memoID {
			return
		}
		select {
		case ch <- list:
		default:
		}
	}
}

// waitForReplies blocks until a refetched thread shows commentID's reply job
// finished and returns that thread.
func waitForReplies(ctx context.Context, session *app.Session, commentID string, replies <-chan []store.Comment) []store.Comment {
	var last []store.Comment
	for {
		select {
		case <-ctx.Done():
			return last
		case list := <-replies:
			last = list
			if !isWaiting(session, commentID) {
				return last
			}
		}
	}
}

func isWaiting(session *app.Session, commentID string) bool {
	for _, w := range session.Waiting() {
		if w.CommentID == commentID {
			return true
		}
	}
	return false
}

func repliesTo(list []store.Comment, commentID string) []store.Comment {
	out := []store.Comment{}
	for _, comment := range list {
		if comment.IsAIResponse && comment.ParentCommentID != nil && *comment.ParentCommentID == commentID {
			out = append(out, comment)
		}
	}
	return out
}

func printComment(w io.Writer, comment store.Comment) {
	author := "you"
	if comment.IsAIResponse {
		author = "AI"
		if comment.PersonaName != nil && *comment.PersonaName != "" {
			author = *comment.PersonaName
		}
	}
	status := ""
	if s := comment.Status(); s != "" && s != store.ResponseCompleted {
		status = " [" + string(s) + "]"
	}
	fmt.Fprintf(w, "%s  %s%s: %s\n", comment.ID, author, status, comment.Content)
}
