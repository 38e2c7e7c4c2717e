package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"narraweave/internal/models"
	"narraweave/internal/outline"
	"narraweave/internal/repositories"
)

// AssemblerService builds the unified view of a project from disk.
type AssemblerService struct {
	logger *zap.Logger
}

func NewAssemblerService(logger *zap.Logger) *AssemblerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssemblerService{logger: logger.Named("assembler")}
}

// Assemble reads every artifact that exists right now. Missing artifacts are
// omitted. An outline that does not parse is carried as raw text.
func (s *AssemblerService) Assemble(ctx context.Context, repo repositories.ArtifactRepository) (*models.UnifiedView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := repo.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	view := &models.UnifiedView{
		Project:     repo.Root(),
		AssembledAt: time.Now(),
		Sections:    make([]models.ViewSection, 0, len(names)),
	}
	for _, name := range names {
		artifact, err := repo.Read(name)
		if err != nil {
			if errors.Is(err, models.ErrArtifactNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		section := models.ViewSection{
			Name:    name,
			Path:    artifact.Path,
			Content: artifact.Content,
		}
		if name == models.ArtifactChapterOutlines {
			if parsed, err := outline.Parse(artifact.Content); err == nil {
				section.Outline = parsed
			} else {
				s.logger.Warn("chapter outline does not parse, using raw text",
					zap.String("path", artifact.Path), zap.Error(err))
			}
		}
		view.Sections = append(view.Sections, section)
	}
	s.logger.Debug("assembled unified view",
		zap.String("project", view.Project),
		zap.Int("sections", len(view.Sections)))
	return view, nil
}
