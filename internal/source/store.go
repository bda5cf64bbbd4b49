// Package source provides the stores the filter reads source files from.
//
// Keys are slash separated paths rooted at the store ("/WEB-INF/coffee/app.coffee").
// A FileStore reports real modification times; a PackagedStore models
// resources shipped inside a read-only bundle and reports the zero time.
package source

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	ferrors "github.com/conneroisu/coffeefilter/internal/errors"
)

// Store resolves source keys to content and modification times.
type Store interface {
	// Exists reports whether key names a readable regular file.
	Exists(key string) bool
	// LastModified returns the modification time of key, or the zero time
	// when it cannot be determined.
	LastModified(key string) time.Time
	// Read returns the content of key. A file that disappeared since Exists
	// was called yields an error matching errors.ErrNotFound.
	Read(key string) ([]byte, error)
}

// FileStore reads sources from an afero filesystem.
type FileStore struct {
	fs afero.Fs
	// packaged stores have no usable mtimes and take unrooted io/fs names
	packaged bool
}

// NewFileStore serves sources from fsys. Pass afero.NewBasePathFs to root
// the store at a directory.
func NewFileStore(fsys afero.Fs) *FileStore {
	return &FileStore{fs: fsys}
}

// NewDirStore serves sources from a directory on the OS filesystem.
func NewDirStore(root string) *FileStore {
	return NewFileStore(afero.NewBasePathFs(afero.NewOsFs(), root))
}

// NewPackagedStore serves sources from a read-only fs.FS such as embed.FS.
// Every key reports the zero modification time.
func NewPackagedStore(fsys fs.FS) *FileStore {
	return &FileStore{
		fs:       afero.NewReadOnlyFs(afero.FromIOFS{FS: fsys}),
		packaged: true,
	}
}

// Fs exposes the underlying filesystem.
func (s *FileStore) Fs() afero.Fs {
	return s.fs
}

// Exists reports whether key is a regular file.
func (s *FileStore) Exists(key string) bool {
	info, err := s.stat(key)
	return err == nil && !info.IsDir()
}

// LastModified returns the file's modification time.
func (s *FileStore) LastModified(key string) time.Time {
	if s.packaged {
		return time.Time{}
	}
	info, err := s.stat(key)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Read returns the file content.
func (s *FileStore) Read(key string) ([]byte, error) {
	name, err := s.name(key)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ferrors.NewNotFoundError(key, err)
		}
		return nil, ferrors.NewIOError(ferrors.ErrCodeReadFailed, "failed to read source", err).WithKey(key)
	}
	return data, nil
}

func (s *FileStore) stat(key string) (os.FileInfo, error) {
	name, err := s.name(key)
	if err != nil {
		return nil, err
	}
	return s.fs.Stat(name)
}

// name converts a key into a filesystem name. Keys escaping the root are
// rejected.
func (s *FileStore) name(key string) (string, error) {
	if key == "" || strings.ContainsRune(key, 0) {
		return "", ferrors.NewValidationError(ferrors.ErrCodeInvalidPath, "invalid source key").WithKey(key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ferrors.NewValidationError(ferrors.ErrCodePathTraversal, "source key escapes root").WithKey(key)
		}
	}

	cleaned := path.Clean("/" + key)
	if s.packaged {
		return strings.TrimPrefix(cleaned, "/"), nil
	}
	return cleaned, nil
}
