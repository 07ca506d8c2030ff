package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"zentel/client/internal/search"
	"zentel/client/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memos and comments seen by this client",
		Long:  "Search the local index of memos and comments. Uses Meilisearch when configured and healthy, SQLite otherwise.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().String("type", "", "Filter by result type: memo or comment")
	cmd.Flags().StringP("memo-type", "t", "", "Filter memos by memo type")
	cmd.Flags().Bool("no-ai", false, "Exclude AI persona replies")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Int("offset", 0, "Skip this many results")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	typeFlag, _ := cmd.Flags().GetString("type")
	memoTypeFlag, _ := cmd.Flags().GetString("memo-type")
	noAI, _ := cmd.Flags().GetBool("no-ai")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	resultType, ok := search.ParseResultType(typeFlag)
	if !ok {
		exitErr("search", fmt.Errorf("type must be memo or comment"))
	}
	q := search.Query{
		Text:             strings.Join(args, " "),
		FilterType:       resultType,
		ExcludeAIReplies: noAI,
		Limit:            limit,
		Offset:           offset,
	}
	if memoTypeFlag != "" {
		memoType, ok := store.ParseMemoType(memoTypeFlag)
		if !ok {
			exitErr("search", fmt.Errorf("unknown memo type %q", memoTypeFlag))
		}
		q.FilterMemoType = memoType
	}

	rt := mustOpen(hooks{})
	defer rt.Close()

	response := rt.session.Search(q)
	emit(response, func(w io.Writer) {
		for _, result := range response.Results {
			fmt.Fprintf(w, "%-7s  %s  %s\n", result.Type, result.ID, result.Title)
			if result.Snippet != "" {
				fmt.Fprintf(w, "         %s\n", result.Snippet)
			}
		}
		fmt.Fprintf(w, "%d of %d\n", len(response.Results), response.Total)
	})
}
