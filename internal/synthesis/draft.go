package synthesis

import (
	"strings"
	"unicode/utf8"

	"zentel/client/internal/store"
)

const (
	MaxTitleRunes     = 80
	VerbatimSeparator = "\n\n---\n\n"
	QuestionsHeader   = "## Questions for development"
)

type Mode string

const (
	ModeStructured Mode = "structured"
	ModeVerbatim   Mode = "verbatim"
)

// Draft is the initial editable body of a permanent note.
type Draft struct {
	Title         string   `json:"title"`
	Body          string   `json:"body"`
	SourceMemoIDs []string `json:"source_memo_ids"`
	Mode          Mode     `json:"mode"`
}

// StructuredDraft lays out the suggested structure: thesis, then each outline
// entry, then the follow-up questions as a bulleted list after a separator.
// Every block is followed by a blank line.
func StructuredDraft(result store.SynthesisResult) Draft {
	structure := result.SuggestedStructure
	var b strings.Builder
	if thesis := strings.TrimSpace(structure.Thesis); thesis != "" {
		b.WriteString(thesis)
		b.WriteString("\n\n")
	}
	for _, entry := range structure.BodyOutline {
		b.WriteString(entry)
		b.WriteString("\n\n")
	}
	if len(structure.QuestionsForDevelopment) > 0 {
		b.WriteString("---\n\n")
		b.WriteString(QuestionsHeader)
		b.WriteString("\n\n")
		for _, question := range structure.QuestionsForDevelopment {
			b.WriteString("- ")
			b.WriteString(question)
			b.WriteString("\n")
		}
	}

	title := strings.TrimSpace(structure.Title)
	if title == "" {
		title = VerbatimTitle(result.SourceMemos)
	}
	return Draft{
		Title:         TruncateTitle(title),
		Body:          b.String(),
		SourceMemoIDs: sourceIDs(result.SourceMemos),
		Mode:          ModeStructured,
	}
}

// VerbatimDraft joins the raw memo contents in the given order.
func VerbatimDraft(memos []store.SourceMemo) Draft {
	contents := make([]string, 0, len(memos))
	for _, memo := range memos {
		contents = append(contents, memo.Content)
	}
	return Draft{
		Title:         VerbatimTitle(memos),
		Body:          strings.Join(contents, VerbatimSeparator),
		SourceMemoIDs: sourceIDs(memos),
		Mode:          ModeVerbatim,
	}
}

// VerbatimTitle is the trimmed first line of the first memo.
func VerbatimTitle(memos []store.SourceMemo) string {
	if len(memos) == 0 {
		return ""
	}
	firstLine, _, _ := strings.Cut(memos[0].Content, "\n")
	return TruncateTitle(strings.TrimSpace(firstLine))
}

// TruncateTitle keeps at most MaxTitleRunes characters, never splitting a rune.
func TruncateTitle(title string) string {
	if utf8.RuneCountInString(title) <= MaxTitleRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:MaxTitleRunes])
}

func sourceIDs(memos []store.SourceMemo) []string {
	ids := make([]string, 0, len(memos))
	for _, memo := range memos {
		ids = append(ids, memo.ID)
	}
	return ids
}
