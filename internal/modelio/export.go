package modelio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ExportLocal writes a generic-only copy of a into dir, replacing any
// previous bundle. Between the two renames dir is absent and the previous
// bundle sits at dir+".old"; LoadLocal reads it from there.
func ExportLocal(dir string, a *Artifact) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return eris.Wrap(err, "modelio: create local model parent")
	}
	tmp, err := os.MkdirTemp(parent, ".local-*")
	if err != nil {
		return eris.Wrap(err, "modelio: create staging dir")
	}
	defer os.RemoveAll(tmp) //nolint:errcheck

	local := *a
	local.GenericOnly = true
	if err := local.Save(tmp); err != nil {
		return err
	}

	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return eris.Wrap(err, "modelio: clear previous backup")
	}
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, old); err != nil {
			return eris.Wrap(err, "modelio: move previous bundle")
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		os.Rename(old, dir) //nolint:errcheck
		return eris.Wrap(err, "modelio: publish local bundle")
	}
	os.RemoveAll(old) //nolint:errcheck

	zap.L().Info("modelio: local fallback bundle exported",
		zap.String("dir", dir),
		zap.String("family", string(a.Classifier.Family())),
	)
	return nil
}

// LoadLocal loads the generic bundle in dir. When dir is missing because an
// export is mid-swap, the previous bundle at dir+".old" is loaded instead.
func LoadLocal(dir string) (*Loaded, error) {
	l, err := LoadGeneric(dir)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return l, err
	}
	if _, statErr := os.Stat(dir); statErr == nil {
		return nil, err
	}
	prev, prevErr := LoadGeneric(dir + ".old")
	if prevErr != nil {
		return nil, err
	}
	zap.L().Debug("modelio: local bundle mid-swap, loaded previous", zap.String("dir", dir))
	return prev, nil
}
