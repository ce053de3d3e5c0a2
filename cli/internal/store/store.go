// Package store persists extracted webhook examples as JSON fixture files.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileExt is the extension of every fixture file.
const FileExt = ".json"

// ErrExists is returned when a fixture with the same name is already stored.
// Existing fixtures are never overwritten.
var ErrExists = errors.New("fixture already exists")

// DirStore keeps one file per example in a single directory.
type DirStore struct {
	fs  afero.Fs
	dir string
}

// NewDirStore returns a store rooted at dir on fsys. A nil fsys means the
// operating system filesystem.
func NewDirStore(fsys afero.Fs, dir string) *DirStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &DirStore{fs: fsys, dir: dir}
}

// Dir returns the directory fixtures are written to.
func (s *DirStore) Dir() string {
	return s.dir
}

// Names returns the fixture files already present. A missing directory is
// treated as empty.
func (s *DirStore) Names() (map[string]struct{}, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}

	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		names[e.Name()] = struct{}{}
	}
	return names, nil
}

// Write stores payload under name, pretty-printed when it is valid JSON.
func (s *DirStore) Write(name string, payload []byte) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("invalid fixture name %q", name)
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.dir, err)
	}

	path := filepath.Join(s.dir, name)
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := f.Write(indent(payload)); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func indent(payload []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return payload
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
