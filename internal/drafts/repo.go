// Package drafts keeps every permanent-note draft in its own git repository so
// edits can be listed, compared and restored before publishing.
package drafts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/oklog/ulid/v2"

	"zentel/client/internal/synthesis"
)

const contentFile = "content.json"

var ErrNotFound = errors.New("draft not found")

type Content struct {
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	SourceMemoIDs []string       `json:"source_memo_ids"`
	Mode          synthesis.Mode `json:"mode"`
	NoteID        string         `json:"note_id,omitempty"`
}

func FromDraft(draft synthesis.Draft) Content {
	return Content{
		Title:         draft.Title,
		Body:          draft.Body,
		SourceMemoIDs: append([]string(nil), draft.SourceMemoIDs...),
		Mode:          draft.Mode,
	}
}

func (c Content) Draft() synthesis.Draft {
	return synthesis.Draft{
		Title:         c.Title,
		Body:          c.Body,
		SourceMemoIDs: append([]string(nil), c.SourceMemoIDs...),
		Mode:          c.Mode,
	}
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type Repo struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex

	idMu    sync.Mutex
	entropy io.Reader
}

func New(baseDir string) *Repo {
	return &Repo{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Create stores a freshly derived draft under a new id and commits it as the
// baseline.
func (r *Repo) Create(draft synthesis.Draft, author string) (string, Commit, error) {
	id := r.newID()
	lock := r.draftLock(id)
	lock.Lock()
	defer lock.Unlock()

	path := r.repoPath(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", Commit{}, fmt.Errorf("create draft dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return "", Commit{}, fmt.Errorf("init repo: %w", err)
	}

	message := fmt.Sprintf("Derive %s draft from %d memos", draft.Mode, len(draft.SourceMemoIDs))
	hash, err := commit(repo, FromDraft(draft), author, message, false)
	if err != nil {
		return "", Commit{}, err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return "", Commit{}, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return "", Commit{}, fmt.Errorf("set HEAD to main: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return "", Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return id, toCommit(commitObj), nil
}

// Save commits an edit. Saving unchanged content returns the head commit.
func (r *Repo) Save(id string, content Content, author, message string) (Commit, error) {
	lock := r.draftLock(id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := r.open(id)
	if err != nil {
		return Commit{}, err
	}
	current, head, err := headContent(repo)
	if err != nil {
		return Commit{}, err
	}
	if !HasChanges(current, content) {
		return toCommit(head), nil
	}
	if strings.TrimSpace(message) == "" {
		message = "Edit draft"
	}
	hash, err := commit(repo, content, author, message, false)
	if err != nil {
		return Commit{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

func (r *Repo) Head(id string) (Content, Commit, error) {
	lock := r.draftLock(id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := r.open(id)
	if err != nil {
		return Content{}, Commit{}, err
	}
	content, commitObj, err := headContent(repo)
	if err != nil {
		return Content{}, Commit{}, err
	}
	return content, toCommit(commitObj), nil
}

func (r *Repo) ContentAt(id, hash string) (Content, error) {
	lock := r.draftLock(id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := r.open(id)
	if err != nil {
		return Content{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readContent(commitObj)
}

// History lists commits newest first. A limit of zero returns all of them.
func (r *Repo) History(id string, limit int) ([]Commit, error) {
	lock := r.draftLock(id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := r.open(id)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (r *Repo) Diff(id, fromHash, toHash string) ([]FieldChange, error) {
	from, err := r.ContentAt(id, fromHash)
	if err != nil {
		return nil, err
	}
	to, err := r.ContentAt(id, toHash)
	if err != nil {
		return nil, err
	}
	return DiffFields(from, to), nil
}

// MarkPublished records the note id on the head and tags it.
func (r *Repo) MarkPublished(id, noteID, author string) (Commit, error) {
	lock := r.draftLock(id)
	lock.Lock()
	defer lock.Unlock()

	repo, err := r.open(id)
	if err != nil {
		return Commit{}, err
	}
	content, _, err := headContent(repo)
	if err != nil {
		return Commit{}, err
	}
	content.NoteID = noteID
	hash, err := commit(repo, content, author, "Publish as note "+noteID, true)
	if err != nil {
		return Commit{}, err
	}
	_, err = repo.CreateTag("published-"+noteID, hash, &git.CreateTagOptions{
		Tagger:  signature(author),
		Message: "published " + noteID,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Commit{}, fmt.Errorf("create tag: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// List returns draft ids, oldest first.
func (r *Repo) List() ([]string, error) {
	entries, err := os.ReadDir(r.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read drafts dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := ulid.ParseStrict(entry.Name()); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repo) newID() string {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), r.entropy).String()
}

func (r *Repo) repoPath(id string) string {
	return filepath.Join(r.baseDir, id)
}

func (r *Repo) open(id string) (*git.Repository, error) {
	repo, err := git.PlainOpen(r.repoPath(id))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (r *Repo) draftLock(id string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	lock, ok := r.locks[id]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	r.locks[id] = lock
	return lock
}

func commit(repo *git.Repository, content Content, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author:            signature(author),
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headContent(repo *git.Repository) (Content, *object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return Content{}, nil, fmt.Errorf("resolve main: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Content{}, nil, fmt.Errorf("load commit object: %w", err)
	}
	content, err := readContent(commitObj)
	if err != nil {
		return Content{}, nil, err
	}
	return content, commitObj, nil
}

func readContent(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return Content{}, fmt.Errorf("read content: %w", err)
	}
	var content Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

// DiffFields reports the fields that differ, sorted by field name.
func DiffFields(from, to Content) []FieldChange {
	pairs := []FieldChange{
		{Field: "title", Before: from.Title, After: to.Title},
		{Field: "body", Before: from.Body, After: to.Body},
		{Field: "mode", Before: string(from.Mode), After: string(to.Mode)},
		{Field: "source_memo_ids", Before: strings.Join(from.SourceMemoIDs, ","), After: strings.Join(to.SourceMemoIDs, ",")},
		{Field: "note_id", Before: from.NoteID, After: to.NoteID},
	}
	result := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.Before != item.After {
			result = append(result, item)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Field < result[j].Field })
	return result
}

func HasChanges(from, to Content) bool {
	return len(DiffFields(from, to)) > 0
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(author string) *object.Signature {
	if strings.TrimSpace(author) == "" {
		author = "zentel"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@local.zentel.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
