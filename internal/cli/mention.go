package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"zentel/client/internal/mention"
)

func init() {
	cmd := &cobra.Command{
		Use:   "mention [text]",
		Short: "Resolve the @mention autocomplete for a comment being typed",
		Long:  "Show which personas match the trailing @mention of text. With --pick, splice the chosen persona into the text.",
		Run:   runMention,
	}
	cmd.Flags().IntP("pick", "p", -1, "Index of the match to insert")

	RootCmd.AddCommand(cmd)
}

func runMention(cmd *cobra.Command, args []string) {
	pick, _ := cmd.Flags().GetInt("pick")
	text, err := readContent(args, os.Stdin)
	if err != nil {
		exitErr("mention", err)
	}

	rt := mustOpen(hooks{})
	defer rt.Close()

	personas, err := rt.session.Personas(cmd.Context())
	if err != nil {
		exitErr("load personas", err)
	}
	composer := mention.NewComposer(personas)
	state := composer.SetText(text)

	if pick < 0 {
		emit(state, func(w io.Writer) {
			if !state.Active {
				fmt.Fprintln(w, "no active mention")
				return
			}
			for i, persona := range state.Matches {
				fmt.Fprintf(w, "%d  @%s\n", i, persona.Name)
			}
		})
		return
	}

	if !composer.Select(pick) {
		exitErr("mention", fmt.Errorf("no match at index %d", pick))
	}
	spliced, _ := composer.Commit()
	emit(map[string]any{"text": spliced}, func(w io.Writer) { fmt.Fprintln(w, spliced) })
}
