package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"narraweave/internal/events"
	"narraweave/internal/models"
	"narraweave/internal/repositories"
)

// CascadePlan lists the artifacts strictly downstream of a level.
type CascadePlan struct {
	From      models.Level
	Artifacts []models.ArtifactName
}

func (p *CascadePlan) Empty() bool { return p == nil || len(p.Artifacts) == 0 }

// CascadeService deletes downstream artifacts on explicit request. It is
// never invoked by the iteration pipeline.
type CascadeService struct {
	logger *zap.Logger
}

func NewCascadeService(logger *zap.Logger) *CascadeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CascadeService{logger: logger.Named("cascade")}
}

// Plan returns what Apply would delete for a change at level.
func (s *CascadeService) Plan(repo repositories.ArtifactRepository, level models.Level) (*CascadePlan, error) {
	if level < models.LevelPremise || level > models.LevelProse {
		return nil, fmt.Errorf("unknown level %d", int(level))
	}
	names, err := repo.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	plan := &CascadePlan{From: level}
	for _, name := range names {
		if name.Level() > level {
			plan.Artifacts = append(plan.Artifacts, name)
		}
	}
	return plan, nil
}

// Apply deletes every planned artifact in one atomic commit.
func (s *CascadeService) Apply(ctx context.Context, repo repositories.ArtifactRepository, plan *CascadePlan) ([]models.ArtifactWriteResult, error) {
	if plan.Empty() {
		return nil, nil
	}
	lock, err := repositories.LockProject(repo.Root())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release project lock", zap.String("path", lock.Path()), zap.Error(err))
		}
	}()

	changes := make([]repositories.ArtifactChange, 0, len(plan.Artifacts))
	for _, name := range plan.Artifacts {
		if name.Level() <= plan.From {
			return nil, fmt.Errorf("%s is not downstream of %s", name, plan.From)
		}
		changes = append(changes, repositories.ArtifactChange{Name: name, Delete: true})
	}
	results, err := repo.Commit(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to delete downstream artifacts: %w", err)
	}
	for _, r := range results {
		if r.Action == models.WriteDeleted {
			events.Emit(ctx, events.ArtifactDeleted, events.NewWarn(fmt.Sprintf("%s deleted", r.Name)).
				With("artifact", string(r.Name)).
				With("path", r.Path))
		}
	}
	s.logger.Info("cascade deletion applied", zap.String("from", plan.From.String()), zap.Int("deleted", len(results)))
	return results, nil
}
