package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"narraweave/internal/events"
	"narraweave/internal/models"
	"narraweave/internal/outline"
	"narraweave/internal/repositories"
)

// MergeService writes a generated document back into a project's artifacts.
type MergeService struct {
	logger *zap.Logger
}

func NewMergeService(logger *zap.Logger) *MergeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MergeService{logger: logger.Named("merge")}
}

// SplitAndMerge validates every section of doc, merges the chapter outline by
// chapter number, and commits all resulting writes at once. Any violation
// aborts before the first write. Sections listed in required must be present.
// Downstream artifacts are never deleted here.
func (s *MergeService) SplitAndMerge(ctx context.Context, doc *models.GeneratedDocument, repo repositories.ArtifactRepository, required []models.ArtifactName) ([]models.ArtifactWriteResult, error) {
	if doc == nil || len(doc.Sections) == 0 {
		return nil, &models.MergeInvariantError{Reason: "response holds no recognized artifact section"}
	}
	for _, name := range required {
		if _, ok := doc.Section(name); !ok {
			return nil, &models.MergeInvariantError{Section: string(name), Reason: "required section is missing"}
		}
	}
	if len(doc.Unknown) > 0 {
		s.logger.Warn("ignoring unknown sections", zap.Strings("keys", doc.Unknown))
	}

	changes := make([]repositories.ArtifactChange, 0, len(doc.Sections))
	details := make(map[models.ArtifactName]string, len(doc.Sections))
	for _, section := range doc.Sections {
		var (
			content []byte
			detail  string
			err     error
		)
		if section.Name == models.ArtifactChapterOutlines {
			content, detail, err = s.mergeOutline(section, repo)
		} else {
			content, err = textContent(section)
		}
		if err != nil {
			return nil, err
		}
		changes = append(changes, repositories.ArtifactChange{Name: section.Name, Content: content})
		details[section.Name] = detail
	}

	results, err := repo.Commit(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to write merged artifacts: %w", err)
	}
	for i := range results {
		results[i].Detail = details[results[i].Name]
		if results[i].Changed() {
			events.Emit(ctx, events.ArtifactWritten, events.NewInfo(fmt.Sprintf("%s %s", results[i].Name, results[i].Action)).
				With("artifact", string(results[i].Name)).
				With("path", results[i].Path))
		}
	}
	return results, nil
}

func textContent(section models.GeneratedSection) ([]byte, error) {
	text, err := section.Text()
	if err != nil {
		return nil, &models.MergeInvariantError{Section: string(section.Name), Reason: "expected text", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &models.MergeInvariantError{Section: string(section.Name), Reason: "section is empty"}
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return []byte(text), nil
}

func (s *MergeService) mergeOutline(section models.GeneratedSection, repo repositories.ArtifactRepository) ([]byte, string, error) {
	violation := func(reason string, err error) error {
		return &models.MergeInvariantError{Section: string(models.ArtifactChapterOutlines), Reason: reason, Err: err}
	}

	incoming, err := section.Outline()
	if err != nil {
		return nil, "", violation("generated outline does not parse", err)
	}

	var existing *outline.Collection
	current, err := repo.Read(models.ArtifactChapterOutlines)
	switch {
	case err == nil:
		existing, err = outline.Parse(current.Content)
		if err != nil {
			// An unreadable outline on disk can only be replaced wholesale.
			if verr := incoming.Validate(); verr != nil {
				return nil, "", violation("existing outline does not parse and the generated one is incomplete", errors.Join(err, verr))
			}
			s.logger.Warn("replacing unparsable chapter outline", zap.String("path", current.Path), zap.Error(err))
			existing = nil
		}
	case errors.Is(err, models.ErrArtifactNotFound):
	default:
		return nil, "", fmt.Errorf("failed to read chapter outline: %w", err)
	}

	merged, report, err := outline.Merge(existing, incoming)
	if err != nil {
		return nil, "", violation("merged outline breaks the collection invariants", err)
	}
	if len(report.Ignored) > 0 {
		s.logger.Warn("partial outline update left shared sections untouched",
			zap.Strings("ignored", report.Ignored))
	}
	s.logger.Info("merged chapter outline",
		zap.String("mode", string(report.Mode)),
		zap.Int("incoming", report.IncomingCount),
		zap.Int("existing", report.ExistingCount),
		zap.Ints("updated", report.Updated),
		zap.Ints("added", report.Added),
		zap.Ints("removed", report.Removed))

	data, err := outline.EncodeMerged(existing, merged, report)
	if err != nil {
		return nil, "", violation("merged outline cannot be encoded", err)
	}
	return data, describeReport(report), nil
}

func describeReport(r outline.Report) string {
	parts := []string{string(r.Mode)}
	if len(r.Updated) > 0 {
		parts = append(parts, "updated "+joinInts(r.Updated))
	}
	if len(r.Added) > 0 {
		parts = append(parts, "added "+joinInts(r.Added))
	}
	if len(r.Removed) > 0 {
		parts = append(parts, "removed "+joinInts(r.Removed))
	}
	return strings.Join(parts, "; ")
}

func joinInts(nums []int) string {
	out := make([]string, len(nums))
	for i, n := range nums {
		out[i] = strconv.Itoa(n)
	}
	return strings.Join(out, ",")
}
