package services

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type GitService struct{}

func NewGitService() *GitService {
	return &GitService{}
}

// Init initializes a new git repo at given path
func (g *GitService) Init(path string) (*git.Repository, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository at %s: %w", path, err)
	}
	return repo, nil
}

// Open opens the repository containing path, searching parent directories.
func (g *GitService) Open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// OpenOrInit opens the repository containing path. When there is none and
// autoInit is set, a new one is created at path.
func (g *GitService) OpenOrInit(path string, autoInit bool) (*git.Repository, error) {
	repo, err := g.Open(path)
	if err == nil {
		return repo, nil
	}
	if errors.Is(err, git.ErrRepositoryNotExists) && autoInit {
		return g.Init(path)
	}
	return nil, err
}

// CommitPaths stages the given files (relative to dir) and commits them.
// Paths listed in removed are deleted from the index. Returns "" when there
// was nothing to commit.
func (g *GitService) CommitPaths(repo *git.Repository, dir string, changed, removed []string, message string, author *object.Signature) (string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	prefix, err := worktreePrefix(wt.Filesystem.Root(), dir)
	if err != nil {
		return "", err
	}

	for _, p := range changed {
		if _, err := wt.Add(joinSlash(prefix, p)); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", p, err)
		}
	}
	for _, p := range removed {
		if _, err := wt.Remove(joinSlash(prefix, p)); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
			return "", fmt.Errorf("failed to stage removal of %s: %w", p, err)
		}
	}

	if author == nil {
		author = &object.Signature{Name: "narraweave", Email: "narraweave@localhost"}
	}
	if author.When.IsZero() {
		author.When = time.Now()
	}
	hash, err := wt.Commit(message, &git.CommitOptions{Author: author})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", nil
		}
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// DiffBetweenCommits returns the patch (diff) between two commits by their hashes.
func (g *GitService) DiffBetweenCommits(repo *git.Repository, hash1, hash2 string) (string, error) {
	commit1, err := repo.CommitObject(plumbing.NewHash(hash1))
	if err != nil {
		return "", fmt.Errorf("failed to get commit1: %w", err)
	}
	commit2, err := repo.CommitObject(plumbing.NewHash(hash2))
	if err != nil {
		return "", fmt.Errorf("failed to get commit2: %w", err)
	}

	tree1, err := commit1.Tree()
	if err != nil {
		return "", fmt.Errorf("failed to get tree1: %w", err)
	}
	tree2, err := commit2.Tree()
	if err != nil {
		return "", fmt.Errorf("failed to get tree2: %w", err)
	}

	patch, err := tree1.Patch(tree2)
	if err != nil {
		return "", fmt.Errorf("failed to get patch: %w", err)
	}

	var buf bytes.Buffer
	if err := patch.Encode(&buf); err != nil {
		return "", fmt.Errorf("failed to encode patch: %w", err)
	}
	return buf.String(), nil
}

// CommitMessage returns the full message of the commit.
func (g *GitService) CommitMessage(repo *git.Repository, hash string) (string, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return "", fmt.Errorf("failed to get commit %s: %w", hash, err)
	}
	return commit.Message, nil
}

// LatestCommit returns the HEAD commit hash of repo.
func (g *GitService) LatestCommit(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD reference: %w", err)
	}
	return ref.Hash().String(), nil
}

func worktreePrefix(worktreeRoot, dir string) (string, error) {
	absRoot, err := filepath.Abs(worktreeRoot)
	if err != nil {
		return "", err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if r, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = r
	}
	if d, err := filepath.EvalSymlinks(absDir); err == nil {
		absDir = d
	}
	rel, err := filepath.Rel(absRoot, absDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the repository at %s", dir, worktreeRoot)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func joinSlash(prefix, p string) string {
	p = filepath.ToSlash(p)
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}
