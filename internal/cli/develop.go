package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"zentel/client/internal/synthesis"
)

func init() {
	cmd := &cobra.Command{
		Use:   "develop <memo-id>...",
		Short: "Develop memos into a permanent-note draft",
		Long:  "Ask the server to synthesize the given memos and save the result as a new versioned draft. --verbatim joins the memos as they are instead.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runDevelop,
	}
	cmd.Flags().Bool("verbatim", false, "Join the memo texts instead of using the synthesis")

	RootCmd.AddCommand(cmd)
}

func runDevelop(cmd *cobra.Command, args []string) {
	verbatim, _ := cmd.Flags().GetBool("verbatim")
	mode := synthesis.ModeStructured
	if verbatim {
		mode = synthesis.ModeVerbatim
	}

	rt := mustOpen(hooks{})
	defer rt.Close()

	result, err := rt.session.Develop(cmd.Context(), args, mode)
	if err != nil {
		exitErr("develop", err)
	}
	emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "draft %s (%s)\n", result.ID, shortHash(result.Commit.Hash))
		if result.Synthesis != nil && result.Synthesis.Synthesis.MainArgument != "" {
			fmt.Fprintf(w, "main argument: %s\n", result.Synthesis.Synthesis.MainArgument)
		}
		fmt.Fprintf(w, "\n# %s\n\n%s\n", result.Draft.Title, result.Draft.Body)
	})
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
