package repositories

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/yargevad/filepathx"

	"narraweave/internal/models"
	"narraweave/internal/utils"
)

const artifactPerm os.FileMode = 0o644

var proseFileRe = regexp.MustCompile(`^chapter-0*(\d+)\.md$`)

// ArtifactChange is one pending write or deletion in a commit.
type ArtifactChange struct {
	Name    models.ArtifactName
	Content []byte
	Delete  bool
}

// ArtifactRepository stores a project's artifacts as files under one root.
type ArtifactRepository interface {
	Root() string
	Read(name models.ArtifactName) (*models.Artifact, error)
	Exists(name models.ArtifactName) bool
	List() ([]models.ArtifactName, error)
	Write(name models.ArtifactName, content []byte) (models.ArtifactWriteResult, error)
	Delete(name models.ArtifactName) (models.ArtifactWriteResult, error)
	// Commit applies all changes or none of them.
	Commit(changes []ArtifactChange) ([]models.ArtifactWriteResult, error)
}

type artifactRepository struct {
	root string
}

func NewArtifactRepository(root string) (ArtifactRepository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root %s: %w", root, err)
	}
	if !utils.DirectoryExists(abs) {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	return &artifactRepository{root: abs}, nil
}

func (r *artifactRepository) Root() string { return r.root }

// currentPath is where new artifacts are written.
func currentPath(name models.ArtifactName) (string, error) {
	switch name {
	case models.ArtifactPremise:
		return filepath.Join("premise", "premise.md"), nil
	case models.ArtifactTreatment:
		return filepath.Join("treatment", "treatment.md"), nil
	case models.ArtifactChapterOutlines:
		return filepath.Join("chapter-outlines", "chapters.yaml"), nil
	}
	if n, ok := name.ChapterNumber(); ok {
		return filepath.Join("prose", fmt.Sprintf("chapter-%02d.md", n)), nil
	}
	return "", fmt.Errorf("unknown artifact %q", name)
}

func legacyPath(name models.ArtifactName) string {
	switch name {
	case models.ArtifactPremise:
		return "premise.md"
	case models.ArtifactTreatment:
		return "treatment.md"
	case models.ArtifactChapterOutlines:
		return "chapters.yaml"
	}
	if n, ok := name.ChapterNumber(); ok {
		return filepath.Join("chapters", fmt.Sprintf("chapter-%d.md", n))
	}
	return ""
}

// resolve returns the absolute path of an artifact. The current layout wins;
// the legacy location is used only when the current file is absent and the
// legacy one exists.
func (r *artifactRepository) resolve(name models.ArtifactName) (path string, legacy bool, err error) {
	rel, err := currentPath(name)
	if err != nil {
		return "", false, err
	}
	cur := filepath.Join(r.root, rel)
	if utils.FileExists(cur) {
		return cur, false, nil
	}
	if lp := legacyPath(name); lp != "" {
		if abs := filepath.Join(r.root, lp); utils.FileExists(abs) {
			return abs, true, nil
		}
	}
	return cur, false, nil
}

func (r *artifactRepository) Exists(name models.ArtifactName) bool {
	path, _, err := r.resolve(name)
	return err == nil && utils.FileExists(path)
}

func (r *artifactRepository) Read(name models.ArtifactName) (*models.Artifact, error) {
	path, legacy, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrArtifactNotFound, name)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return &models.Artifact{
		Name:       name,
		Path:       r.rel(path),
		Content:    data,
		ModifiedAt: info.ModTime(),
		Legacy:     legacy,
	}, nil
}

// List returns every artifact present on disk in dependency order.
func (r *artifactRepository) List() ([]models.ArtifactName, error) {
	var names []models.ArtifactName
	for _, name := range []models.ArtifactName{models.ArtifactPremise, models.ArtifactTreatment, models.ArtifactChapterOutlines} {
		if r.Exists(name) {
			names = append(names, name)
		}
	}

	seen := map[int]bool{}
	for _, pattern := range []string{
		filepath.Join(r.root, "prose", "chapter-*.md"),
		filepath.Join(r.root, "chapters", "chapter-*.md"),
	} {
		matches, err := filepathx.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list prose artifacts: %w", err)
		}
		for _, m := range matches {
			sub := proseFileRe.FindStringSubmatch(filepath.Base(m))
			if sub == nil {
				continue
			}
			n, err := strconv.Atoi(sub[1])
			if err != nil || n <= 0 || seen[n] {
				continue
			}
			seen[n] = true
			names = append(names, models.ProseArtifact(n))
		}
	}
	models.SortArtifactNames(names)
	return names, nil
}

func (r *artifactRepository) Write(name models.ArtifactName, content []byte) (models.ArtifactWriteResult, error) {
	res, err := r.Commit([]ArtifactChange{{Name: name, Content: content}})
	if err != nil {
		return models.ArtifactWriteResult{}, err
	}
	return res[0], nil
}

func (r *artifactRepository) Delete(name models.ArtifactName) (models.ArtifactWriteResult, error) {
	res, err := r.Commit([]ArtifactChange{{Name: name, Delete: true}})
	if err != nil {
		return models.ArtifactWriteResult{}, err
	}
	return res[0], nil
}

type stagedChange struct {
	change   ArtifactChange
	path     string
	tmp      string
	previous []byte
	existed  bool
	action   models.WriteAction
	applied  bool
}

// Commit stages every write as a temp file next to its target, then renames
// them all into place. A failure at any step restores the previous content
// of everything already touched.
func (r *artifactRepository) Commit(changes []ArtifactChange) ([]models.ArtifactWriteResult, error) {
	seen := map[models.ArtifactName]bool{}
	staged := make([]*stagedChange, 0, len(changes))
	cleanup := func() {
		for _, s := range staged {
			if s.tmp != "" {
				os.Remove(s.tmp)
			}
		}
	}

	for _, ch := range changes {
		if seen[ch.Name] {
			cleanup()
			return nil, fmt.Errorf("artifact %s appears twice in one commit", ch.Name)
		}
		seen[ch.Name] = true

		s, err := r.stage(ch)
		if err != nil {
			cleanup()
			return nil, err
		}
		staged = append(staged, s)
	}

	for _, s := range staged {
		var err error
		switch s.action {
		case models.WriteUnchanged:
			continue
		case models.WriteDeleted:
			err = os.Remove(s.path)
		default:
			err = os.Rename(s.tmp, s.path)
			if err == nil {
				s.tmp = ""
			}
		}
		if err != nil {
			rbErr := r.rollback(staged)
			cleanup()
			if rbErr != nil {
				return nil, fmt.Errorf("failed to commit %s: %w (rollback: %v)", s.change.Name, err, rbErr)
			}
			return nil, fmt.Errorf("failed to commit %s: %w", s.change.Name, err)
		}
		s.applied = true
	}

	results := make([]models.ArtifactWriteResult, 0, len(staged))
	for _, s := range staged {
		results = append(results, models.ArtifactWriteResult{
			Name:   s.change.Name,
			Path:   r.rel(s.path),
			Action: s.action,
		})
	}
	return results, nil
}

func (r *artifactRepository) stage(ch ArtifactChange) (*stagedChange, error) {
	path, _, err := r.resolve(ch.Name)
	if err != nil {
		return nil, err
	}
	s := &stagedChange{change: ch, path: path}

	prev, err := os.ReadFile(path)
	switch {
	case err == nil:
		s.existed = true
		s.previous = prev
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read %s: %w", ch.Name, err)
	}

	if ch.Delete {
		s.action = models.WriteDeleted
		if !s.existed {
			s.action = models.WriteUnchanged
		}
		return s, nil
	}
	if s.existed && bytes.Equal(prev, ch.Content) {
		s.action = models.WriteUnchanged
		return s, nil
	}
	s.action = models.WriteUpdated
	if !s.existed {
		s.action = models.WriteCreated
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", ch.Name, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", ch.Name, err)
	}
	s.tmp = tmp.Name()
	_, werr := tmp.Write(ch.Content)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(s.tmp, artifactPerm)
	}
	if werr != nil {
		os.Remove(s.tmp)
		return nil, fmt.Errorf("failed to stage %s: %w", ch.Name, werr)
	}
	return s, nil
}

func (r *artifactRepository) rollback(staged []*stagedChange) error {
	var errs []error
	for i := len(staged) - 1; i >= 0; i-- {
		s := staged[i]
		if !s.applied {
			continue
		}
		var err error
		if s.existed {
			err = utils.WriteFileAtomic(s.path, s.previous, artifactPerm)
		} else {
			err = os.Remove(s.path)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.change.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *artifactRepository) rel(path string) string {
	if rel, err := filepath.Rel(r.root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// SortedPaths returns the repository-relative paths of results, sorted.
func SortedPaths(results []models.ArtifactWriteResult) []string {
	paths := make([]string, 0, len(results))
	for _, res := range results {
		if res.Changed() {
			paths = append(paths, res.Path)
		}
	}
	sort.Strings(paths)
	return paths
}
