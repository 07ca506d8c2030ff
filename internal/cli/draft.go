package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"zentel/client/internal/drafts"
	"zentel/client/internal/export"
)

func init() {
	draftCmd := &cobra.Command{
		Use:   "draft",
		Short: "Edit, version, export and publish permanent-note drafts",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		Run:   runDraftList,
	}

	showCmd := &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show a draft version",
		Args:  cobra.ExactArgs(1),
		Run:   runDraftShow,
	}
	showCmd.Flags().StringP("version", "v", "latest", "Commit hash or latest")

	editCmd := &cobra.Command{
		Use:   "edit <draft-id>",
		Short: "Save a new version of a draft",
		Long:  "Save a new version. The body is read from --body-file, or stdin when piped.",
		Args:  cobra.ExactArgs(1),
		Run:   runDraftEdit,
	}
	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().String("body-file", "", "Read the new body from this file")
	editCmd.Flags().StringP("message", "m", "Edit draft", "Commit message")

	historyCmd := &cobra.Command{
		Use:   "history <draft-id>",
		Short: "List a draft's versions, newest first",
		Args:  cobra.ExactArgs(1),
		Run:   runDraftHistory,
	}
	historyCmd.Flags().IntP("limit", "l", 0, "Max versions (0 for all)")

	diffCmd := &cobra.Command{
		Use:   "diff <draft-id> <from> <to>",
		Short: "Show which fields changed between two versions",
		Args:  cobra.ExactArgs(3),
		Run:   runDraftDiff,
	}

	exportCmd := &cobra.Command{
		Use:   "export <draft-id>",
		Short: "Render a draft as md, html, pdf or docx",
		Args:  cobra.ExactArgs(1),
		Run:   runDraftExport,
	}
	exportCmd.Flags().String("as", "md", "Format: md, html, pdf, docx")
	exportCmd.Flags().StringP("version", "v", "latest", "Commit hash or latest")
	exportCmd.Flags().Bool("sources", false, "Append the source memos")
	exportCmd.Flags().StringP("out", "o", "", "Output file or directory (default: current directory)")
	exportCmd.Flags().Bool("upload", false, "Upload the export to object storage")

	publishCmd := &cobra.Command{
		Use:   "publish <draft-id>",
		Short: "Publish a draft as a permanent note",
		Args:  cobra.ExactArgs(1),
		Run:   runDraftPublish,
	}

	draftCmd.AddCommand(listCmd, showCmd, editCmd, historyCmd, diffCmd, exportCmd, publishCmd)
	RootCmd.AddCommand(draftCmd)
}

func openDrafts() (*runtime, *drafts.Repo) {
	rt := mustOpen(hooks{})
	repo, err := rt.session.Drafts()
	if err != nil {
		rt.Close()
		exitErr("open drafts", err)
	}
	return rt, repo
}

func runDraftList(cmd *cobra.Command, args []string) {
	rt, repo := openDrafts()
	defer rt.Close()

	ids, err := repo.List()
	if err != nil {
		exitErr("list drafts", err)
	}
	type item struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		NoteID string `json:"note_id,omitempty"`
	}
	items := make([]item, 0, len(ids))
	for _, id := range ids {
		content, _, err := repo.Head(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: read draft %s: %v\n", id, err)
			continue
		}
		items = append(items, item{ID: id, Title: content.Title, NoteID: content.NoteID})
	}
	emit(items, func(w io.Writer) {
		for _, it := range items {
			published := ""
			if it.NoteID != "" {
				published = "  (published " + it.NoteID + ")"
			}
			fmt.Fprintf(w, "%s  %s%s\n", it.ID, it.Title, published)
		}
	})
}

func runDraftShow(cmd *cobra.Command, args []string) {
	version, _ := cmd.Flags().GetString("version")

	rt, repo := openDrafts()
	defer rt.Close()

	var (
		content drafts.Content
		err     error
	)
	if version == "" || version == "latest" {
		content, _, err = repo.Head(args[0])
	} else {
		content, err = repo.ContentAt(args[0], version)
	}
	if err != nil {
		exitErr("show draft", err)
	}
	emit(content, func(w io.Writer) {
		fmt.Fprintf(w, "# %s\n\n%s\n", content.Title, content.Body)
	})
}

func runDraftEdit(cmd *cobra.Command, args []string) {
	title, _ := cmd.Flags().GetString("title")
	bodyFile, _ := cmd.Flags().GetString("body-file")
	message, _ := cmd.Flags().GetString("message")

	var body string
	if bodyFile != "" {
		b, err := os.ReadFile(bodyFile)
		if err != nil {
			exitErr("edit draft", err)
		}
		body = string(b)
	} else {
		piped, err := readContent(nil, os.Stdin)
		if err != nil {
			exitErr("edit draft", err)
		}
		body = piped
	}

	rt, repo := openDrafts()
	defer rt.Close()

	content, _, err := repo.Head(args[0])
	if err != nil {
		exitErr("edit draft", err)
	}
	next := content
	if strings.TrimSpace(title) != "" {
		next.Title = strings.TrimSpace(title)
	}
	if body != "" {
		next.Body = body
	}
	if !drafts.HasChanges(content, next) {
		exitErr("edit draft", fmt.Errorf("nothing changed"))
	}
	commit, err := repo.Save(args[0], next, rt.cfg.Author, message)
	if err != nil {
		exitErr("edit draft", err)
	}
	emit(commit, func(w io.Writer) {
		fmt.Fprintf(w, "saved %s\n", shortHash(commit.Hash))
	})
}

func runDraftHistory(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	rt, repo := openDrafts()
	defer rt.Close()

	commits, err := repo.History(args[0], limit)
	if err != nil {
		exitErr("draft history", err)
	}
	emit(commits, func(w io.Writer) {
		for _, c := range commits {
			fmt.Fprintf(w, "%s  %s  %s  %s\n", shortHash(c.Hash), c.CreatedAt.Format("2006-01-02 15:04"), c.Author, c.Message)
		}
	})
}

func runDraftDiff(cmd *cobra.Command, args []string) {
	rt, repo := openDrafts()
	defer rt.Close()

	changes, err := repo.Diff(args[0], args[1], args[2])
	if err != nil {
		exitErr("diff draft", err)
	}
	emit(changes, func(w io.Writer) {
		if len(changes) == 0 {
			fmt.Fprintln(w, "no changes")
		}
		for _, change := range changes {
			fmt.Fprintf(w, "%s:\n- %s\n+ %s\n", change.Field, change.Before, change.After)
		}
	})
}

func runDraftExport(cmd *cobra.Command, args []string) {
	as, _ := cmd.Flags().GetString("as")
	version, _ := cmd.Flags().GetString("version")
	sources, _ := cmd.Flags().GetBool("sources")
	out, _ := cmd.Flags().GetString("out")
	upload, _ := cmd.Flags().GetBool("upload")

	format, err := export.ParseFormat(as)
	if err != nil {
		exitErr("export draft", err)
	}

	rt := mustOpen(hooks{})
	defer rt.Close()

	result, err := rt.session.ExportDraft(cmd.Context(), export.Request{
		DraftID:        args[0],
		Version:        version,
		Format:         format,
		IncludeSources: sources,
	}, upload)
	if err != nil {
		exitErr("export draft", err)
	}
	path := exportPath(out, result.Filename)
	if err := os.WriteFile(path, result.Data, 0o644); err != nil {
		exitErr("write export", err)
	}

	summary := map[string]any{"path": path, "size": len(result.Data), "mime_type": result.MimeType}
	if result.Upload != nil {
		summary["upload"] = result.Upload
	}
	emit(summary, func(w io.Writer) {
		fmt.Fprintf(w, "wrote %s (%d bytes)\n", path, len(result.Data))
		if result.Upload != nil {
			fmt.Fprintf(w, "uploaded %s\n%s\n", result.Upload.Key, result.Upload.URL)
		}
	})
}

// exportPath resolves --out: empty means the working directory, an existing
// directory gets the generated filename, anything else is used as is.
func exportPath(out, filename string) string {
	if out == "" {
		return filename
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, filename)
	}
	return out
}

func runDraftPublish(cmd *cobra.Command, args []string) {
	rt := mustOpen(hooks{})
	defer rt.Close()

	note, err := rt.session.PublishDraft(cmd.Context(), args[0])
	if err != nil {
		exitErr("publish draft", err)
	}
	emit(note, func(w io.Writer) {
		fmt.Fprintf(w, "published note %s: %s\n", note.ID, note.Title)
	})
}
