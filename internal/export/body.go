package export

import (
	"html"
	"strings"
)

// BodyToHTML renders the plain-text layout drafts use: blocks separated by a
// blank line, "## " headings, "- " bullets and "---" rules. Everything else is
// an escaped paragraph with line breaks kept.
func BodyToHTML(body string) string {
	var b strings.Builder
	var paragraph []string
	var list []string

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		escaped := make([]string, len(paragraph))
		for i, line := range paragraph {
			escaped[i] = html.EscapeString(line)
		}
		b.WriteString("<p>" + strings.Join(escaped, "<br>") + "</p>\n")
		paragraph = nil
	}
	flushList := func() {
		if len(list) == 0 {
			return
		}
		b.WriteString("<ul>\n")
		for _, item := range list {
			b.WriteString("<li>" + html.EscapeString(item) + "</li>\n")
		}
		b.WriteString("</ul>\n")
		list = nil
	}

	for _, raw := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flushParagraph()
			flushList()
		case trimmed == "---":
			flushParagraph()
			flushList()
			b.WriteString("<hr>\n")
		case strings.HasPrefix(trimmed, "## "):
			flushParagraph()
			flushList()
			b.WriteString("<h2>" + html.EscapeString(strings.TrimPrefix(trimmed, "## ")) + "</h2>\n")
		case strings.HasPrefix(trimmed, "# "):
			flushParagraph()
			flushList()
			b.WriteString("<h1>" + html.EscapeString(strings.TrimPrefix(trimmed, "# ")) + "</h1>\n")
		case strings.HasPrefix(trimmed, "- "):
			flushParagraph()
			list = append(list, strings.TrimPrefix(trimmed, "- "))
		default:
			flushList()
			paragraph = append(paragraph, line)
		}
	}
	flushParagraph()
	flushList()
	return b.String()
}

// Markdown is the draft as a Markdown file with the title as heading.
func Markdown(title, body string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString("# " + title + "\n\n")
	}
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	return b.String()
}
