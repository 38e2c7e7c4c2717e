package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"narraweave/internal/config"
	"narraweave/internal/models"
)

// ChangeEntry is one change-log record.
type ChangeEntry struct {
	ProjectRoot string
	Summary     string
	Body        string
	Writes      []models.ArtifactWriteResult
}

// ChangeLog records applied changes. Record returns the commit id, or ""
// when nothing was recorded.
type ChangeLog interface {
	Record(ctx context.Context, entry ChangeEntry) (string, error)
}

// GitChangeLog commits changed artifacts to the git repository holding the
// project.
type GitChangeLog struct {
	git    *GitService
	cfg    config.ChangelogConfig
	logger *zap.Logger
}

func NewGitChangeLog(gitService *GitService, cfg config.ChangelogConfig, logger *zap.Logger) *GitChangeLog {
	if gitService == nil {
		gitService = NewGitService()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitChangeLog{git: gitService, cfg: cfg, logger: logger.Named("changelog")}
}

func (c *GitChangeLog) Record(ctx context.Context, entry ChangeEntry) (string, error) {
	if !c.cfg.Git {
		return "", nil
	}
	var changed, removed []string
	for _, w := range entry.Writes {
		switch w.Action {
		case models.WriteCreated, models.WriteUpdated:
			changed = append(changed, w.Path)
		case models.WriteDeleted:
			removed = append(removed, w.Path)
		}
	}
	if len(changed) == 0 && len(removed) == 0 {
		return "", nil
	}

	repo, err := c.git.OpenOrInit(entry.ProjectRoot, c.cfg.AutoInit)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			c.logger.Info("project is not under git, skipping commit", zap.String("project", entry.ProjectRoot))
			return "", nil
		}
		return "", fmt.Errorf("failed to open repository: %w", err)
	}

	message := strings.TrimSpace(entry.Summary)
	if body := strings.TrimSpace(entry.Body); body != "" {
		message += "\n\n" + body
	}
	hash, err := c.git.CommitPaths(repo, entry.ProjectRoot, changed, removed, message, &object.Signature{
		Name:  c.cfg.AuthorName,
		Email: c.cfg.AuthorEmail,
	})
	if err != nil {
		return "", err
	}
	if hash != "" {
		c.logger.Info("recorded change", zap.String("commit", hash), zap.Int("files", len(changed)+len(removed)))
	}
	return hash, nil
}
