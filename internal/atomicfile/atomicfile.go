// Package atomicfile writes files through a temporary sibling that is
// renamed into place, so readers see either the old content or the new.
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Staged is a fully written temporary file waiting to replace its target.
type Staged struct {
	path string
	tmp  string
}

// Stage writes data to a temporary file next to path. Nothing visible to
// readers changes until Commit.
func Stage(path string, data []byte) (*Staged, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, eris.Wrapf(err, "atomicfile: create temp for %s", path)
	}
	name := tmp.Name()
	fail := func(err error, msg string) (*Staged, error) {
		_ = tmp.Close()
		_ = os.Remove(name)
		return nil, eris.Wrapf(err, "atomicfile: %s %s", msg, name)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err, "write")
	}
	if err := tmp.Sync(); err != nil {
		return fail(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return nil, eris.Wrapf(err, "atomicfile: close %s", name)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return nil, eris.Wrapf(err, "atomicfile: chmod %s", name)
	}
	return &Staged{path: path, tmp: name}, nil
}

// Commit renames the staged file over its target. The temporary file is
// removed when the rename fails.
func (s *Staged) Commit() error {
	if err := os.Rename(s.tmp, s.path); err != nil {
		_ = os.Remove(s.tmp)
		return eris.Wrapf(err, "atomicfile: rename to %s", s.path)
	}
	return nil
}

// Discard removes the staged file without touching the target.
func (s *Staged) Discard() {
	if s == nil {
		return
	}
	_ = os.Remove(s.tmp)
}

func WriteFile(path string, data []byte) error {
	staged, err := Stage(path, data)
	if err != nil {
		return err
	}
	return staged.Commit()
}
