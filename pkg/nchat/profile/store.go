// Package profile implements the on-disk directory layout described in the
// core spec: one top-level app directory holding a profiles/ tree, one
// sub-directory per loaded account, each guarded by an advisory lock file
// so at most one live process can hold it open.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nchat-go/nchat/pkg/nchat/message"
)

// SchemaVersion is the current on-disk schema version for both the app
// directory and each profile directory.
const SchemaVersion = 1

// Layout:
//
//	<appDir>/
//	  version
//	  log.txt
//	  profiles/
//	    version
//	    <ProfileId>/
//	      version
//	      lock
//	      cache/

// Store manages the app directory tree.
type Store struct {
	appDir     string
	allowSetup bool
}

// Open returns a Store rooted at appDir, creating the directory tree and
// writing the schema version file if this is the first run. If the
// existing version on disk does not match SchemaVersion, Open fails
// unless allowSetup is true (the "--setup" CLI escape hatch). allowSetup
// also governs every per-profile version file this Store later touches
// via ProfileDir, so a process started without --setup refuses to load a
// mismatched profile exactly as it refuses a mismatched app dir.
func Open(appDir string, allowSetup bool) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(appDir, "profiles"), 0o700); err != nil {
		return nil, fmt.Errorf("profile: create app dir %q: %w", appDir, err)
	}

	if err := ensureVersion(filepath.Join(appDir, "version"), allowSetup); err != nil {
		return nil, fmt.Errorf("profile: app dir: %w", err)
	}
	if err := ensureVersion(filepath.Join(appDir, "profiles", "version"), allowSetup); err != nil {
		return nil, fmt.Errorf("profile: profiles dir: %w", err)
	}

	return &Store{appDir: appDir, allowSetup: allowSetup}, nil
}

// ensureVersion writes SchemaVersion atomically on first run, and on
// subsequent runs verifies the on-disk version matches unless allowSetup
// is set (invoked with --setup), in which case a mismatch is migrated by
// overwriting.
func ensureVersion(path string, allowSetup bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("read %q: %w", path, err)
		}
		return writeVersionAtomic(path)
	}

	on, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("parse version in %q: %w", path, err)
	}

	if on == SchemaVersion {
		return nil
	}
	if !allowSetup {
		return fmt.Errorf("invalid config dir content: %q has version %d, expected %d (rerun with --setup to migrate)", path, on, SchemaVersion)
	}
	return writeVersionAtomic(path)
}

func writeVersionAtomic(path string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(SchemaVersion)), 0o600); err != nil {
		return fmt.Errorf("write %q: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ProfilesDir returns the root directory all profile directories live
// under.
func (s *Store) ProfilesDir() string {
	return filepath.Join(s.appDir, "profiles")
}

// ProfileDir returns the directory for a given profile, creating it (and
// its cache/ sub-directory) and writing its schema version if this is the
// first time it has been seen.
func (s *Store) ProfileDir(id message.ProfileId) (string, error) {
	dir := filepath.Join(s.ProfilesDir(), string(id))
	if err := os.MkdirAll(filepath.Join(dir, "cache"), 0o700); err != nil {
		return "", fmt.Errorf("profile: create profile dir %q: %w", dir, err)
	}
	if err := ensureVersion(filepath.Join(dir, "version"), s.allowSetup); err != nil {
		return "", fmt.Errorf("profile: profile dir %q: %w", dir, err)
	}
	return dir, nil
}

// ListProfiles returns the ProfileIds of every profile directory under
// profiles/, based purely on directory listing (an adapter is not
// required to be loaded for a profile to be listed).
func (s *Store) ListProfiles() ([]message.ProfileId, error) {
	entries, err := os.ReadDir(s.ProfilesDir())
	if err != nil {
		return nil, fmt.Errorf("profile: list %q: %w", s.ProfilesDir(), err)
	}

	var ids []message.ProfileId
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ids = append(ids, message.ProfileId(e.Name()))
	}
	return ids, nil
}
