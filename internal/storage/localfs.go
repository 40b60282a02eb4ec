package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrRemoteFS is wrapped by every RemoteFSError.
var ErrRemoteFS = errors.New("cache file is on a network filesystem")

// RemoteFSError names a cache file whose directory is a network mount. SQLite
// locking and flock(2) are both unreliable there.
type RemoteFSError struct {
	Path   string
	FSType string
}

func (e *RemoteFSError) Error() string {
	return fmt.Sprintf("%s is on %s, which cannot be locked reliably; "+
		"move the lexer cache to a local disk with --cache PATH or cache.path "+
		"(then run 'hilite cache build --cache PATH')", e.Path, e.FSType)
}

func (e *RemoteFSError) Unwrap() error { return ErrRemoteFS }

// fsInfo reports the filesystem type of an existing path and whether it is
// a network mount. Replaced in tests.
var fsInfo = statFS

// CheckLocal returns a *RemoteFSError for the first path that would live on a
// network filesystem. Paths that do not exist yet are judged by their deepest
// existing ancestor.
func CheckLocal(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			return fmt.Errorf("cache path is empty")
		}
		dir, err := existingAncestor(p)
		if err != nil {
			return err
		}
		fsType, remote, err := fsInfo(dir)
		if err != nil {
			return fmt.Errorf("inspect filesystem of %s: %w", dir, err)
		}
		if remote {
			return &RemoteFSError{Path: p, FSType: fsType}
		}
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	p, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		_, err := os.Stat(p)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no existing directory above %s", path)
		}
		p = parent
	}
}
