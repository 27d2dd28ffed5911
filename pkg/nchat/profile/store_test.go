package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchat-go/nchat/pkg/nchat/message"
)

func TestOpenCreatesLayoutIdempotently(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, false)
	require.NoError(t, err)

	pdir, err := s1.ProfileDir(message.ProfileId("Dummy_1"))
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(pdir, "cache"))
	assert.FileExists(t, filepath.Join(pdir, "version"))

	// Reopening must not fail and must not change the on-disk version.
	s2, err := Open(dir, false)
	require.NoError(t, err)

	ids, err := s2.ListProfiles()
	require.NoError(t, err)
	assert.Contains(t, ids, message.ProfileId("Dummy_1"))
}

func TestOpenRejectsVersionMismatchWithoutSetup(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "version"), []byte(strconv.Itoa(SchemaVersion+1)), 0o600))

	_, err = Open(dir, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config dir content")
}

func TestOpenMigratesVersionWithSetup(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "version"), []byte(strconv.Itoa(SchemaVersion+1)), 0o600))

	_, err = Open(dir, true)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "version"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(SchemaVersion), string(raw))
}

func TestProfileDirRejectsVersionMismatchWithoutSetup(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir, true)
	require.NoError(t, err)
	pdir, err := s1.ProfileDir(message.ProfileId("Dummy_1"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(pdir, "version"), []byte(strconv.Itoa(SchemaVersion+1)), 0o600))

	s2, err := Open(dir, false)
	require.NoError(t, err)
	_, err = s2.ProfileDir(message.ProfileId("Dummy_1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config dir content")

	s3, err := Open(dir, true)
	require.NoError(t, err)
	_, err = s3.ProfileDir(message.ProfileId("Dummy_1"))
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(pdir, "version"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(SchemaVersion), string(raw))
}

func TestDirLockExclusivity(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireDirLock(dir)
	require.NoError(t, err)

	_, err = AcquireDirLock(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock1.Release())

	lock2, err := AcquireDirLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}
