// Package gitrepo keeps a git history of every saved workspace state, one
// repository per report.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	stateFile  = "workspace.json"
	mainBranch = "main"
)

var (
	ErrNoRepository = errors.New("report has no revision history")
	ErrNoRevision   = errors.New("revision not found")
)

// Revision is one committed workspace state.
type Revision struct {
	Hash      string    `json:"hash"`
	FullHash  string    `json:"fullHash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureReportRepo initializes an empty repository for reportID with HEAD on
// main. It is a no-op when the repository exists.
func (s *Service) EnsureReportRepo(reportID string) error {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.ensureRepo(reportID)
	return err
}

func (s *Service) ensureRepo(reportID string) (*git.Repository, error) {
	path, err := s.repoPath(reportID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("open repo: %w", err)
		}
		return repo, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

// CommitSnapshot records state as the newest revision of reportID. When state
// matches the current head no commit is made and the head is returned with
// created false.
func (s *Service) CommitSnapshot(reportID string, state json.RawMessage, author, message string) (rev Revision, created bool, err error) {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	payload, err := normalizeState(state)
	if err != nil {
		return Revision{}, false, err
	}

	repo, err := s.ensureRepo(reportID)
	if err != nil {
		return Revision{}, false, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readStateFromCommit(head)
		if err == nil && bytes.Equal(current, payload) {
			return toRevision(head), false, nil
		}
	} else if !errors.Is(err, ErrNoRevision) {
		return Revision{}, false, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, false, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), stateFile), payload, 0o644); err != nil {
		return Revision{}, false, fmt.Errorf("write %s: %w", stateFile, err)
	}
	if _, err := worktree.Add(stateFile); err != nil {
		return Revision{}, false, fmt.Errorf("git add state: %w", err)
	}

	if strings.TrimSpace(author) == "" {
		author = "labelscope"
	}
	if strings.TrimSpace(message) == "" {
		message = "Save workspace"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.labelscope.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return Revision{}, false, fmt.Errorf("commit state: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

// History lists revisions newest first. limit <= 0 means all.
func (s *Service) History(reportID string, limit int) ([]Revision, error) {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openRepo(reportID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if errors.Is(err, ErrNoRevision) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
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

// GetSnapshotByHash returns the workspace state committed at hash, which may
// be abbreviated.
func (s *Service) GetSnapshotByHash(reportID, hash string) (json.RawMessage, Revision, error) {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openRepo(reportID)
	if err != nil {
		return nil, Revision{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("%w: %s: %w", ErrNoRevision, hash, err)
	}
	state, err := readStateFromCommit(commitObj)
	if err != nil {
		return nil, Revision{}, err
	}
	return json.RawMessage(state), toRevision(commitObj), nil
}

// RemoveReportRepo deletes the history of a deleted report.
func (s *Service) RemoveReportRepo(reportID string) error {
	lock := s.reportLock(reportID)
	lock.Lock()
	defer lock.Unlock()

	path, err := s.repoPath(reportID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) openRepo(reportID string) (*git.Repository, error) {
	path, err := s.repoPath(reportID)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNoRepository, reportID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(reportID string) (string, error) {
	if reportID == "" || reportID != filepath.Base(reportID) || strings.HasPrefix(reportID, ".") {
		return "", fmt.Errorf("invalid report id %q", reportID)
	}
	return filepath.Join(s.baseDir, reportID), nil
}

func (s *Service) reportLock(reportID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[reportID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[reportID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoRevision
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func readStateFromCommit(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(stateFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", stateFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open state reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read state bytes: %w", err)
	}
	return data, nil
}

// normalizeState re-indents state so equal documents produce equal files.
func normalizeState(state json.RawMessage) ([]byte, error) {
	var parsed any
	if err := json.Unmarshal(state, &parsed); err != nil {
		return nil, fmt.Errorf("decode workspace state: %w", err)
	}
	out, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode workspace state: %w", err)
	}
	return append(out, '\n'), nil
}

func toRevision(commitObj *object.Commit) Revision {
	full := commitObj.Hash.String()
	return Revision{
		Hash:      full[:7],
		FullHash:  full,
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
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
		return plumbing.ZeroHash, fmt.Errorf("%w: %s: %w", ErrNoRevision, hash, err)
	}
	return *resolved, nil
}
