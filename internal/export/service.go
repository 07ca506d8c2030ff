package export

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"zentel/client/internal/drafts"
	"zentel/client/internal/store"
)

// DraftStore is the read side of the draft history.
type DraftStore interface {
	Head(id string) (drafts.Content, drafts.Commit, error)
	ContentAt(id, hash string) (drafts.Content, error)
	History(id string, limit int) ([]drafts.Commit, error)
}

// SourceLoader loads the memos a draft was derived from, in order.
type SourceLoader interface {
	SourceMemos(ctx context.Context, memoIDs []string) ([]store.SourceMemo, error)
}

// Service provides draft export functionality
type Service struct {
	drafts  DraftStore
	sources SourceLoader
	author  string
}

// NewService creates a new export service. sources may be nil when source
// memos are never included.
func NewService(draftStore DraftStore, sources SourceLoader, author string) *Service {
	return &Service{drafts: draftStore, sources: sources, author: author}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	content, commit, err := s.load(req)
	if err != nil {
		return nil, err
	}

	if req.Format == FormatMarkdown {
		return &Result{
			Data:     []byte(Markdown(content.Title, content.Body)),
			Filename: sanitizeFilename(content.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	}

	data := TemplateData{
		Title:       content.Title,
		ContentHTML: template.HTML(BodyToHTML(content.Body)),
		Author:      firstNonEmpty(commit.Author, s.author),
		UpdatedAt:   commit.CreatedAt,
		Mode:        string(content.Mode),
		Version:     commit.Hash,
	}
	if req.IncludeSources && s.sources != nil && len(content.SourceMemoIDs) > 0 {
		memos, err := s.sources.SourceMemos(ctx, content.SourceMemoIDs)
		if err != nil {
			return nil, fmt.Errorf("load source memos: %w", err)
		}
		for _, memo := range memos {
			source := TemplateSource{ID: memo.ID, Content: memo.Content}
			if memo.Context != nil {
				source.Context = *memo.Context
			}
			data.Sources = append(data.Sources, source)
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(content.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, content.Title)
	case FormatDOCX:
		return exportDOCX(ctx, html, content.Title, data.Author)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func (s *Service) load(req Request) (drafts.Content, drafts.Commit, error) {
	version := strings.TrimSpace(req.Version)
	if version == "" || version == "latest" {
		content, commit, err := s.drafts.Head(req.DraftID)
		if err != nil {
			return drafts.Content{}, drafts.Commit{}, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		return content, commit, nil
	}

	content, err := s.drafts.ContentAt(req.DraftID, version)
	if err != nil {
		return drafts.Content{}, drafts.Commit{}, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	commit := drafts.Commit{Hash: version}
	history, err := s.drafts.History(req.DraftID, 0)
	if err == nil {
		for _, item := range history {
			if strings.HasPrefix(version, item.Hash) || strings.HasPrefix(item.Hash, version) {
				commit = item
				break
			}
		}
	}
	return content, commit, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
