package store

import "strings"

type MemoType string

const (
	MemoExternalSource    MemoType = "EXTERNAL_SOURCE"
	MemoNewIdea           MemoType = "NEW_IDEA"
	MemoNewGoal           MemoType = "NEW_GOAL"
	MemoEvolvedThought    MemoType = "EVOLVED_THOUGHT"
	MemoCuriosity         MemoType = "CURIOSITY"
	MemoUnresolvedProblem MemoType = "UNRESOLVED_PROBLEM"
	MemoEmotion           MemoType = "EMOTION"
)

var memoTypes = map[MemoType]struct{}{
	MemoExternalSource:    {},
	MemoNewIdea:           {},
	MemoNewGoal:           {},
	MemoEvolvedThought:    {},
	MemoCuriosity:         {},
	MemoUnresolvedProblem: {},
	MemoEmotion:           {},
}

// ParseMemoType accepts any casing and reports whether the value is in the closed set.
func ParseMemoType(value string) (MemoType, bool) {
	normalized := MemoType(strings.ToUpper(strings.TrimSpace(value)))
	_, ok := memoTypes[normalized]
	return normalized, ok
}

type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisAnalyzing AnalysisStatus = "analyzing"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// Terminal reports whether no further transition is expected without a reset.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

type ResponseStatus string

const (
	ResponsePending    ResponseStatus = "pending"
	ResponseGenerating ResponseStatus = "generating"
	ResponseCompleted  ResponseStatus = "completed"
	ResponseFailed     ResponseStatus = "failed"
)

func (s ResponseStatus) Terminal() bool {
	return s == ResponseCompleted || s == ResponseFailed
}

// InFlight is true while the comment's AI reply job has not finished.
func (s ResponseStatus) InFlight() bool {
	return s == ResponsePending || s == ResponseGenerating
}

type Highlight struct {
	Type   string  `json:"type"`
	Text   string  `json:"text"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Reason *string `json:"reason,omitempty"`
}

type CommentSummary struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type Memo struct {
	ID                string          `json:"id"`
	MemoType          MemoType        `json:"memo_type"`
	Content           string          `json:"content"`
	Context           *string         `json:"context,omitempty"`
	Interests         []string        `json:"interests,omitempty"`
	SourceURL         *string         `json:"source_url,omitempty"`
	OGTitle           *string         `json:"og_title,omitempty"`
	OGImage           *string         `json:"og_image,omitempty"`
	FetchFailed       bool            `json:"fetch_failed"`
	FetchMessage      *string         `json:"fetch_message,omitempty"`
	AnalysisStatus    AnalysisStatus  `json:"analysis_status"`
	AnalysisError     *string         `json:"analysis_error,omitempty"`
	OriginalLanguage  *string         `json:"original_language,omitempty"`
	TranslatedContent *string         `json:"translated_content,omitempty"`
	DisplayContent    *string         `json:"display_content,omitempty"`
	IsSummary         bool            `json:"is_summary"`
	Highlights        []Highlight     `json:"highlights,omitempty"`
	CreatedAt         string          `json:"created_at"`
	UpdatedAt         *string         `json:"updated_at,omitempty"`
	CommentCount      int             `json:"comment_count"`
	LatestComment     *CommentSummary `json:"latest_comment,omitempty"`
}

// Derived holds the fields the analysis worker produces on completion.
type Derived struct {
	IsSummary         bool
	Highlights        []Highlight
	DisplayContent    string
	TranslatedContent string
	OriginalLanguage  string
}

// Derived returns the analysis output, or false when the memo is not completed
// and any such fields must be treated as stale.
func (m Memo) Derived() (Derived, bool) {
	if m.AnalysisStatus != AnalysisCompleted {
		return Derived{}, false
	}
	return Derived{
		IsSummary:         m.IsSummary,
		Highlights:        m.Highlights,
		DisplayContent:    deref(m.DisplayContent),
		TranslatedContent: deref(m.TranslatedContent),
		OriginalLanguage:  deref(m.OriginalLanguage),
	}, true
}

// WithoutDerived clears analysis output so a non-completed memo never carries it.
func (m Memo) WithoutDerived() Memo {
	if m.AnalysisStatus == AnalysisCompleted {
		return m
	}
	m.IsSummary = false
	m.Highlights = nil
	m.DisplayContent = nil
	m.TranslatedContent = nil
	m.OriginalLanguage = nil
	return m
}

type MemoList struct {
	Items      []Memo `json:"items"`
	Total      int    `json:"total"`
	NextOffset *int   `json:"next_offset,omitempty"`
}

type Comment struct {
	ID              string          `json:"id"`
	MemoID          string          `json:"memo_id"`
	Content         string          `json:"content"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       *string         `json:"updated_at,omitempty"`
	IsAIResponse    bool            `json:"is_ai_response"`
	ParentCommentID *string         `json:"parent_comment_id,omitempty"`
	PersonaName     *string         `json:"persona_name,omitempty"`
	PersonaColor    *string         `json:"persona_color,omitempty"`
	ResponseStatus  *ResponseStatus `json:"response_status,omitempty"`
	ResponseError   *string         `json:"response_error,omitempty"`
}

// Status returns the reply job status, empty when the comment triggered none.
func (c Comment) Status() ResponseStatus {
	if c.ResponseStatus == nil {
		return ""
	}
	return *c.ResponseStatus
}

type CommentList struct {
	Items []Comment `json:"items"`
	Total int       `json:"total"`
}

type Persona struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

type Profile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Interests  []string  `json:"interests,omitempty"`
	AIPersonas []Persona `json:"ai_personas,omitempty"`
}

type MemoAnalysis struct {
	MemoIndex   int      `json:"memo_index"`
	CoreContent string   `json:"core_content"`
	KeyEvidence []string `json:"key_evidence"`
}

type Synthesis struct {
	MainArgument          string   `json:"main_argument"`
	SupportingPoints      []string `json:"supporting_points"`
	CounterConsiderations []string `json:"counter_considerations"`
}

type SuggestedStructure struct {
	Title                   string   `json:"title"`
	Thesis                  string   `json:"thesis"`
	BodyOutline             []string `json:"body_outline"`
	QuestionsForDevelopment []string `json:"questions_for_development"`
}

type SourceMemo struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Context *string `json:"context,omitempty"`
}

type SynthesisResult struct {
	MemoAnalyses       []MemoAnalysis     `json:"memo_analyses"`
	Synthesis          Synthesis          `json:"synthesis"`
	SuggestedStructure SuggestedStructure `json:"suggested_structure"`
	SourceMemos        []SourceMemo       `json:"source_memos"`
}

type NoteStatus string

const (
	NoteEditing   NoteStatus = "editing"
	NotePublished NoteStatus = "published"
)

type PermanentNote struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Status        NoteStatus `json:"status"`
	SourceMemoIDs []string   `json:"source_memo_ids"`
	Interests     []string   `json:"interests,omitempty"`
	CreatedAt     string     `json:"created_at"`
	UpdatedAt     *string    `json:"updated_at,omitempty"`
	PublishedAt   *string    `json:"published_at,omitempty"`
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
