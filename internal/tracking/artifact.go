package tracking

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Artifact is a model that serialises itself into a directory.
type Artifact interface {
	Save(dir string) error
}

// ArtifactStore lays run artifacts out on the local filesystem as
// <root>/<experiment id>/<run id>/artifacts/model.
type ArtifactStore struct {
	root string
}

// NewArtifactStore creates an ArtifactStore rooted at root.
func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

// Dir returns the model directory for a run.
func (s *ArtifactStore) Dir(experimentID, runID string) string {
	return filepath.Join(s.root, experimentID, runID, "artifacts", "model")
}

// Write saves a into the run's model directory and returns its URI. The
// directory appears only once the artifact has been written completely.
func (s *ArtifactStore) Write(experimentID, runID string, a Artifact) (string, error) {
	dst := s.Dir(experimentID, runID)
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", eris.Wrap(err, "artifacts: create run dir")
	}

	tmp, err := os.MkdirTemp(parent, ".model-*")
	if err != nil {
		return "", eris.Wrap(err, "artifacts: create staging dir")
	}
	if err := a.Save(tmp); err != nil {
		os.RemoveAll(tmp) //nolint:errcheck
		return "", eris.Wrap(err, "artifacts: save model")
	}
	if err := os.RemoveAll(dst); err != nil {
		os.RemoveAll(tmp) //nolint:errcheck
		return "", eris.Wrap(err, "artifacts: clear model dir")
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp) //nolint:errcheck
		return "", eris.Wrap(err, "artifacts: publish model dir")
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		return "", eris.Wrap(err, "artifacts: resolve path")
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// LocalPath converts an artifact URI into a filesystem path. Plain paths are
// returned unchanged.
func LocalPath(uri string) (string, error) {
	switch {
	case uri == "":
		return "", eris.New("artifacts: empty uri")
	case strings.HasPrefix(uri, "file://"):
		return filepath.FromSlash(strings.TrimPrefix(uri, "file://")), nil
	case strings.Contains(uri, "://"):
		return "", eris.Errorf("artifacts: unsupported uri %q", uri)
	default:
		return uri, nil
	}
}
