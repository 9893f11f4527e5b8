// Package validate holds the pure input validators for volume names and
// snapshot paths. Everything here runs before any engine call is made.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// maxNameLen matches the engine's limit on object names.
const maxNameLen = 255

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// VolumeName checks that name is safe to hand to the engine as a volume
// name: leading alphanumeric, then alphanumerics, underscores, dots and
// dashes, at most 255 characters.
func VolumeName(name string) error {
	return engineName("volume name", name)
}

// SessionID checks that a session identifier is safe to embed in a
// container name. The rules are the engine's name rules.
func SessionID(id string) error {
	return engineName("session_id", id)
}

func engineName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s must not be empty", kind)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("%s exceeds %d characters: %d", kind, maxNameLen, len(name))
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%s must match [a-zA-Z0-9][a-zA-Z0-9_.-]*: %q", kind, name)
	}
	return nil
}

// SnapshotPath checks that path names an existing regular file (not a
// symlink, directory, or device), carries a recognized archive suffix, and
// resolves under one of allowedRoots once symlinks in its directory chain
// are followed.
func SnapshotPath(path string, allowedRoots []string) error {
	if path == "" {
		return fmt.Errorf("snapshot path must not be empty")
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("snapshot path must be absolute: %s", path)
	}
	if !hasArchiveSuffix(path) {
		return fmt.Errorf("snapshot path must end in .tar.gz or .tgz: %s", path)
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot path does not exist: %s", path)
		}
		return fmt.Errorf("cannot stat snapshot path: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("snapshot path must be a regular file: %s", path)
	}

	// The file itself is known not to be a symlink; resolve the directory
	// chain so a symlinked parent cannot smuggle the file out of the
	// allowed roots.
	resolvedDir, err := filepath.EvalSymlinks(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("cannot resolve snapshot directory: %w", err)
	}
	resolved := filepath.Join(resolvedDir, filepath.Base(path))

	for _, root := range allowedRoots {
		resolvedRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			// A configured root that does not exist can never match.
			continue
		}
		if resolved == resolvedRoot || strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("snapshot path is outside the allowed roots: %s", path)
}

// SnapshotArchive opens path and checks that it starts with a valid gzip
// member header, so obviously corrupt archives are rejected before a
// helper container is ever started.
func SnapshotArchive(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open snapshot: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("snapshot is not a gzip archive: %w", err)
	}
	zr.Close()
	return nil
}

func hasArchiveSuffix(path string) bool {
	return strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz")
}
