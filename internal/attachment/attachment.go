// Package attachment stores files uploaded with bug actions. Files live at
// attachments/{bug number}/{uuid}/{filename} under the configured root.
//
// An upload is staged before the action is committed, because a new bug has
// no number until then, and promoted to its final place afterwards. The
// operation row records only the key ({uuid}/{filename}); the number comes
// from the bug that owns the action.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	dirName     = "attachments"
	stagingName = ".staging"
)

// ErrInvalidKey is returned for keys that are not {uuid}/{filename}.
var ErrInvalidKey = errors.New("invalid attachment key")

// Store places attachment files on the local filesystem.
type Store struct {
	root string
}

// New returns a Store rooted at root.
func New(root string) *Store {
	return &Store{root: root}
}

// RelPath is the storage path of key for bug number, relative to the root.
func RelPath(number, key string) string {
	return path.Join(dirName, number, key)
}

// Stage copies r to the staging area and returns the new key.
func (s *Store) Stage(filename string, r io.Reader) (string, error) {
	name := cleanName(filename)
	if name == "" {
		return "", fmt.Errorf("stage attachment: bad file name %q", filename)
	}
	key := uuid.NewString() + "/" + name

	dst := s.stagingPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("stage attachment: %w", err)
	}
	return key, nil
}

// Promote moves staged keys under the bug's directory.
func (s *Store) Promote(number string, keys []string) error {
	for _, key := range keys {
		if err := validKey(key); err != nil {
			return err
		}
		dst := s.Path(number, key)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("promote attachment: %w", err)
		}
		if err := os.Rename(s.stagingPath(key), dst); err != nil {
			return fmt.Errorf("promote attachment: %w", err)
		}
		os.Remove(filepath.Dir(s.stagingPath(key)))
	}
	return nil
}

// Discard removes staged keys. Errors are ignored.
func (s *Store) Discard(keys []string) {
	for _, key := range keys {
		if validKey(key) != nil {
			continue
		}
		os.RemoveAll(filepath.Dir(s.stagingPath(key)))
	}
}

// Path is the absolute location of a promoted attachment.
func (s *Store) Path(number, key string) string {
	return filepath.Join(s.root, filepath.FromSlash(RelPath(number, key)))
}

// Open opens a promoted attachment for reading.
func (s *Store) Open(number, key string) (*os.File, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if strings.ContainsAny(number, `/\.`) {
		return nil, ErrInvalidKey
	}
	return os.Open(s.Path(number, key))
}

func (s *Store) stagingPath(key string) string {
	return filepath.Join(s.root, dirName, stagingName, filepath.FromSlash(key))
}

func cleanName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

func validKey(key string) error {
	id, name, ok := strings.Cut(key, "/")
	if !ok {
		return ErrInvalidKey
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidKey
	}
	if cleanName(name) != name {
		return ErrInvalidKey
	}
	return nil
}
