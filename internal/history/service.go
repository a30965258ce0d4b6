// Package history keeps an append-only revision log per document, backed by
// a plain git repository per document id on local disk. The document store
// stays the source of truth; history exists so edits are recoverable and
// auditable.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Snapshot is the document state captured by one revision.
type Snapshot struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Revision describes one entry of a document's history.
type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// RecordRevision commits the current document state. The repository is
// created lazily on the first revision.
func (s *Service) RecordRevision(docID string, snapshot Snapshot, author, message string) error {
	lock := s.documentLock(docID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(docID)
	if err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), "document.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add("document.json"); err != nil {
		return fmt.Errorf("git add snapshot: %w", err)
	}

	_, err = worktree.Commit(message, &git.CommitOptions{
		// An update that changes nothing still marks an edit.
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.inkwell.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// ListRevisions returns the document's revisions, newest first. A document
// without history yields an empty list.
func (s *Service) ListRevisions(docID string, limit int) ([]Revision, error) {
	lock := s.documentLock(docID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(docID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Revision{}, nil
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	revisions := make([]Revision, 0, limit)
	err = iter.ForEach(func(commit *object.Commit) error {
		revisions = append(revisions, Revision{
			Hash:      commit.Hash.String()[:7],
			Message:   commit.Message,
			Author:    commit.Author.Name,
			CreatedAt: commit.Author.When,
		})
		if limit > 0 && len(revisions) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return revisions, nil
}

func (s *Service) openOrInit(docID string) (*git.Repository, error) {
	path := s.repoPath(docID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(docID string) string {
	return filepath.Join(s.baseDir, docID)
}

func (s *Service) documentLock(docID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[docID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[docID] = lock
	}
	return lock
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}
