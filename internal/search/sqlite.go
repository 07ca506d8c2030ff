package search

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"
)

const localSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS memo_index USING fts5(
	id UNINDEXED,
	memo_type UNINDEXED,
	analysis_status UNINDEXED,
	created_at UNINDEXED,
	title,
	content,
	context,
	tokenize = 'unicode61'
);
CREATE VIRTUAL TABLE IF NOT EXISTS comment_index USING fts5(
	id UNINDEXED,
	memo_id UNINDEXED,
	is_ai UNINDEXED,
	created_at UNINDEXED,
	persona,
	content,
	tokenize = 'unicode61'
);
`

// SQLiteFTS implements Searcher and Indexer on a local SQLite FTS5 database.
// It is always available and serves as the fallback when Meilisearch is down.
type SQLiteFTS struct {
	db *sql.DB
}

// OpenSQLiteFTS opens or creates the index database at path.
func OpenSQLiteFTS(path string) (*SQLiteFTS, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return &SQLiteFTS{db: db}, nil
}

func (s *SQLiteFTS) Close() error {
	return s.db.Close()
}

// Healthy always returns true; the database is a local file.
func (s *SQLiteFTS) Healthy() bool {
	return true
}

// IndexMemo replaces the indexed row for the memo.
func (s *SQLiteFTS) IndexMemo(m MemoRecord) error {
	return s.replace(
		`DELETE FROM memo_index WHERE id = ?`, []any{m.ID},
		`INSERT INTO memo_index (id, memo_type, analysis_status, created_at, title, content, context)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		[]any{m.ID, m.MemoType, m.AnalysisStatus, m.CreatedAt, m.Title, m.Content, m.Context},
	)
}

// IndexComment replaces the indexed row for the comment.
func (s *SQLiteFTS) IndexComment(c CommentRecord) error {
	isAI := 0
	if c.IsAIResponse {
		isAI = 1
	}
	return s.replace(
		`DELETE FROM comment_index WHERE id = ?`, []any{c.ID},
		`INSERT INTO comment_index (id, memo_id, is_ai, created_at, persona, content)
			VALUES (?, ?, ?, ?, ?, ?)`,
		[]any{c.ID, c.MemoID, isAI, c.CreatedAt, c.PersonaName, c.Content},
	)
}

func (s *SQLiteFTS) replace(deleteSQL string, deleteArgs []any, insertSQL string, insertArgs []any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(deleteSQL, deleteArgs...); err != nil {
		return fmt.Errorf("delete previous row: %w", err)
	}
	if _, err := tx.Exec(insertSQL, insertArgs...); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return tx.Commit()
}

// DeleteMemo removes the memo and its comments from the index.
func (s *SQLiteFTS) DeleteMemo(id string) error {
	if _, err := s.db.Exec(`DELETE FROM memo_index WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memo %s: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM comment_index WHERE memo_id = ?`, id); err != nil {
		return fmt.Errorf("delete comments of memo %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteFTS) DeleteComment(id string) error {
	if _, err := s.db.Exec(`DELETE FROM comment_index WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete comment %s: %w", id, err)
	}
	return nil
}

// CommentIDs lists the indexed comments of a memo.
func (s *SQLiteFTS) CommentIDs(memoID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM comment_index WHERE memo_id = ? ORDER BY created_at`, memoID)
	if err != nil {
		return nil, fmt.Errorf("list comments of memo %s: %w", memoID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Search runs one FTS5 MATCH per result type, merged by bm25 score with
// snippet() highlights.
func (s *SQLiteFTS) Search(q Query) ([]Result, int, error) {
	match := sanitizeFTS(q.Text)
	if match == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var args []any
	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultMemo {
		where := "memo_index MATCH ?"
		args = append(args, match)
		if q.FilterMemoType != "" {
			where += " AND memo_type = ?"
			args = append(args, string(q.FilterMemoType))
		}
		subQueries = append(subQueries, `
			SELECT 'memo' AS type, id, title,
				snippet(memo_index, -1, '<mark>', '</mark>', '…', 24) AS snippet,
				id AS memo_id, memo_type, 0 AS is_ai,
				bm25(memo_index) AS score
			FROM memo_index
			WHERE `+where)
	}

	// Comments carry no memo type, so a memo type filter excludes them.
	if (q.FilterType == "" || q.FilterType == ResultComment) && q.FilterMemoType == "" {
		where := "comment_index MATCH ?"
		args = append(args, match)
		if q.ExcludeAIReplies {
			where += " AND is_ai = 0"
		}
		subQueries = append(subQueries, `
			SELECT 'comment' AS type, id, persona AS title,
				snippet(comment_index, -1, '<mark>', '</mark>', '…', 24) AS snippet,
				memo_id, '' AS memo_type, is_ai,
				bm25(comment_index) AS score
			FROM comment_index
			WHERE `+where)
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, memo_id, memo_type, is_ai
		FROM (%s) sub
		ORDER BY score ASC, id ASC
		LIMIT %d OFFSET %d`, union, limit, offset)

	ctx := context.Background()

	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite fts count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite fts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		var isAI int
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.MemoID, &r.MemoType, &isAI); err != nil {
			return nil, 0, fmt.Errorf("sqlite fts scan: %w", err)
		}
		r.Type = ResultType(typ)
		r.IsAIResponse = isAI != 0
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every indexed record for a full Meilisearch reindex.
func (s *SQLiteFTS) LoadAllRecords(ctx context.Context) ([]MemoRecord, []CommentRecord, error) {
	memoRows, err := s.db.QueryContext(ctx, `
		SELECT id, memo_type, analysis_status, created_at, title, content, context
		FROM memo_index
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load memos: %w", err)
	}
	defer memoRows.Close()

	memos := make([]MemoRecord, 0)
	for memoRows.Next() {
		var m MemoRecord
		if err := memoRows.Scan(&m.ID, &m.MemoType, &m.AnalysisStatus, &m.CreatedAt, &m.Title, &m.Content, &m.Context); err != nil {
			return nil, nil, fmt.Errorf("scan memo: %w", err)
		}
		memos = append(memos, m)
	}
	if err := memoRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate memos: %w", err)
	}

	commentRows, err := s.db.QueryContext(ctx, `
		SELECT id, memo_id, is_ai, created_at, persona, content
		FROM comment_index
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()

	comments := make([]CommentRecord, 0)
	for commentRows.Next() {
		var c CommentRecord
		var isAI int
		if err := commentRows.Scan(&c.ID, &c.MemoID, &isAI, &c.CreatedAt, &c.PersonaName, &c.Content); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		c.IsAIResponse = isAI != 0
		comments = append(comments, c)
	}
	if err := commentRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate comments: %w", err)
	}

	return memos, comments, nil
}

// sanitizeFTS quotes each word so FTS5 treats it literally and drops words
// with no letters or digits, which would become empty phrases.
// "small habit*" → `"small" "habit*"`
func sanitizeFTS(query string) string {
	words := make([]string, 0)
	for _, w := range strings.Fields(query) {
		if strings.IndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		words = append(words, `"`+strings.ReplaceAll(w, `"`, `""`)+`"`)
	}
	return strings.Join(words, " ")
}
