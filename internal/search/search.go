package search

import (
	"strings"

	"zentel/client/internal/store"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultMemo    ResultType = "memo"
	ResultComment ResultType = "comment"
)

// ParseResultType accepts memo or comment in any casing; empty means all types.
func ParseResultType(value string) (ResultType, bool) {
	switch ResultType(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return "", true
	case ResultMemo:
		return ResultMemo, true
	case ResultComment:
		return ResultComment, true
	default:
		return "", false
	}
}

// Result is a single search hit returned to the caller.
type Result struct {
	Type         ResultType `json:"type"`
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Snippet      string     `json:"snippet"`
	MemoID       string     `json:"memoId"`
	MemoType     string     `json:"memoType,omitempty"`
	IsAIResponse bool       `json:"isAIResponse,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterMemoType   store.MemoType
	Limit            int
	Offset           int
	ExcludeAIReplies bool
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexMemo(m MemoRecord) error
	IndexComment(c CommentRecord) error
	DeleteMemo(id string) error
	DeleteComment(id string) error
}

// MemoRecord is the data we index for a memo.
type MemoRecord struct {
	ID             string `json:"id"`
	MemoType       string `json:"memoType"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	Context        string `json:"context"`
	AnalysisStatus string `json:"analysisStatus"`
	CreatedAt      string `json:"createdAt"`
}

// CommentRecord is the data we index for a comment or AI reply.
type CommentRecord struct {
	ID           string `json:"id"`
	MemoID       string `json:"memoId"`
	Content      string `json:"content"`
	PersonaName  string `json:"personaName"`
	IsAIResponse bool   `json:"isAIResponse"`
	CreatedAt    string `json:"createdAt"`
}

// MemoRecordFrom builds the index record for a memo. Completed memos are
// indexed with their display content so translated text is searchable too.
func MemoRecordFrom(m store.Memo) MemoRecord {
	record := MemoRecord{
		ID:             m.ID,
		MemoType:       string(m.MemoType),
		Title:          memoTitle(m),
		Content:        m.Content,
		AnalysisStatus: string(m.AnalysisStatus),
		CreatedAt:      m.CreatedAt,
	}
	if m.Context != nil {
		record.Context = *m.Context
	}
	if derived, ok := m.Derived(); ok && derived.DisplayContent != "" && derived.DisplayContent != m.Content {
		record.Content = m.Content + "\n\n" + derived.DisplayContent
	}
	return record
}

// CommentRecordFrom builds the index record for a comment.
func CommentRecordFrom(c store.Comment) CommentRecord {
	record := CommentRecord{
		ID:           c.ID,
		MemoID:       c.MemoID,
		Content:      c.Content,
		IsAIResponse: c.IsAIResponse,
		CreatedAt:    c.CreatedAt,
	}
	if c.PersonaName != nil {
		record.PersonaName = *c.PersonaName
	}
	return record
}

func memoTitle(m store.Memo) string {
	if m.OGTitle != nil && strings.TrimSpace(*m.OGTitle) != "" {
		return strings.TrimSpace(*m.OGTitle)
	}
	first, _, _ := strings.Cut(strings.TrimSpace(m.Content), "\n")
	runes := []rune(strings.TrimSpace(first))
	if len(runes) > 80 {
		return string(runes[:80])
	}
	return string(runes)
}
