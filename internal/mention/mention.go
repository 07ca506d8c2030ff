// Package mention resolves @persona tokens while a comment is being typed.
package mention

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"zentel/client/internal/store"
)

// State describes the autocomplete for one snapshot of the text buffer.
// At is the byte offset of the triggering '@' and is only meaningful when
// Active is true.
type State struct {
	Active  bool            `json:"active"`
	At      int             `json:"at"`
	Filter  string          `json:"filter"`
	Matches []store.Persona `json:"matches"`
}

// Parse looks at the last '@' in text. The autocomplete is active only when
// nothing after it is whitespace; the text after it filters personas by
// case-insensitive substring, keeping list order.
func Parse(text string, personas []store.Persona) State {
	at := strings.LastIndex(text, "@")
	if at < 0 {
		return State{}
	}
	filter := text[at+1:]
	if strings.IndexFunc(filter, unicode.IsSpace) >= 0 {
		return State{}
	}
	return State{Active: true, At: at, Filter: filter, Matches: Filter(personas, filter)}
}

func Filter(personas []store.Persona, filter string) []store.Persona {
	needle := strings.ToLower(filter)
	matches := make([]store.Persona, 0, len(personas))
	for _, persona := range personas {
		if strings.Contains(strings.ToLower(persona.Name), needle) {
			matches = append(matches, persona)
		}
	}
	return matches
}

// Splice replaces the partial token starting at the '@' at byte offset at with
// "@name ", keeping everything before it.
func Splice(text string, at int, name string) string {
	if at < 0 || at > len(text) {
		at = len(text)
	}
	return text[:at] + "@" + name + " "
}

// Mentioned lists the personas addressed in a finished comment, in list order.
// A mention is "@" plus the persona name, not followed by a letter or digit.
func Mentioned(text string, personas []store.Persona) []store.Persona {
	lower := strings.ToLower(text)
	var out []store.Persona
	for _, persona := range personas {
		if persona.Name == "" {
			continue
		}
		token := "@" + strings.ToLower(persona.Name)
		for offset := 0; ; {
			idx := strings.Index(lower[offset:], token)
			if idx < 0 {
				break
			}
			end := offset + idx + len(token)
			if next, _ := utf8.DecodeRuneInString(lower[end:]); end == len(lower) || !(unicode.IsLetter(next) || unicode.IsDigit(next)) {
				out = append(out, persona)
				break
			}
			offset = end
		}
	}
	return out
}

// Composer holds the keyboard selection of an autocomplete list.
type Composer struct {
	personas []store.Persona
	text     string
	state    State
	index    int
}

func NewComposer(personas []store.Persona) *Composer {
	return &Composer{personas: personas}
}

// SetText recomputes the autocomplete after an edit and resets the selection.
func (c *Composer) SetText(text string) State {
	c.text = text
	c.state = Parse(text, c.personas)
	c.index = 0
	return c.state
}

func (c *Composer) Text() string {
	return c.text
}

func (c *Composer) State() State {
	return c.state
}

func (c *Composer) Index() int {
	return c.index
}

// Move shifts the selection by delta, wrapping at both ends.
func (c *Composer) Move(delta int) int {
	n := len(c.state.Matches)
	if !c.state.Active || n == 0 {
		return 0
	}
	c.index = ((c.index+delta)%n + n) % n
	return c.index
}

// Select sets the selection directly. Out-of-range indexes are refused.
func (c *Composer) Select(index int) bool {
	if !c.state.Active || index < 0 || index >= len(c.state.Matches) {
		return false
	}
	c.index = index
	return true
}

func (c *Composer) Selected() (store.Persona, bool) {
	if !c.state.Active || len(c.state.Matches) == 0 {
		return store.Persona{}, false
	}
	return c.state.Matches[c.index], true
}

// Commit splices the selected persona into the text and closes the autocomplete.
func (c *Composer) Commit() (string, bool) {
	persona, ok := c.Selected()
	if !ok {
		return c.text, false
	}
	text := Splice(c.text, c.state.At, persona.Name)
	c.SetText(text)
	return text, true
}
