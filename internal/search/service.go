package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local SQLite index. Writes go to both.
type Service struct {
	meili *Meili
	local *SQLiteFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, local *SQLiteFTS) *Service {
	return &Service{meili: meili, local: local}
}

// Search tries Meilisearch if healthy, otherwise falls back to SQLite FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.ExcludeAIReplies), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to sqlite: %v", err)
	}

	results, total, err := s.local.Search(q)
	if err != nil {
		log.Printf("search: sqlite error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.ExcludeAIReplies), Total: total, Query: q.Text}
}

// IndexMemo writes the memo to the local index and, fire-and-forget, to Meilisearch.
func (s *Service) IndexMemo(rec MemoRecord) {
	if err := s.local.IndexMemo(rec); err != nil {
		log.Printf("search: local index memo %s: %v", rec.ID, err)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMemo(rec); err != nil {
			log.Printf("search: index memo %s: %v", rec.ID, err)
		}
	}()
}

// IndexComments indexes every comment of a freshly fetched list.
func (s *Service) IndexComments(records []CommentRecord) {
	for _, rec := range records {
		if err := s.local.IndexComment(rec); err != nil {
			log.Printf("search: local index comment %s: %v", rec.ID, err)
		}
	}
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexComments(records); err != nil {
			log.Printf("search: index comments: %v", err)
		}
	}()
}

// DeleteMemo removes a memo and its comments from both indexes.
func (s *Service) DeleteMemo(id string) {
	commentIDs, err := s.local.CommentIDs(id)
	if err != nil {
		log.Printf("search: %v", err)
	}
	if err := s.local.DeleteMemo(id); err != nil {
		log.Printf("search: local %v", err)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteMemo(id); err != nil {
			log.Printf("search: delete memo %s: %v", id, err)
		}
		for _, commentID := range commentIDs {
			if err := s.meili.DeleteComment(commentID); err != nil {
				log.Printf("search: delete comment %s: %v", commentID, err)
			}
		}
	}()
}

// DeleteComment removes a comment from both indexes.
func (s *Service) DeleteComment(id string) {
	if err := s.local.DeleteComment(id); err != nil {
		log.Printf("search: local %v", err)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			log.Printf("search: delete comment %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(memos []MemoRecord, comments []CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(memos) > 0 {
		if err := s.meili.IndexMemos(memos); err != nil {
			log.Printf("search: reindex memos: %v", err)
		}
	}
	if len(comments) > 0 {
		if err := s.meili.IndexComments(comments); err != nil {
			log.Printf("search: reindex comments: %v", err)
		}
	}
}

// ReindexFromLocal copies everything in the SQLite index into Meilisearch.
// Called at session start so a Meilisearch that was down catches up.
func (s *Service) ReindexFromLocal(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.local == nil {
		return
	}
	memos, comments, err := s.local.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(memos, comments)
}

// Close stops the Meilisearch health loop and closes the local index.
func (s *Service) Close() error {
	if s.meili != nil {
		s.meili.Close()
	}
	return s.local.Close()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

func sanitizeResults(results []Result, excludeAIReplies bool) []Result {
	if !excludeAIReplies {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultComment && result.IsAIResponse {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
