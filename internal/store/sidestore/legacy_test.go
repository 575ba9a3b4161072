package sidestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinemaws.org/internal/identity"
)

const legacyUsers = `{"users":[
  {"Id":"64b7f0c2e4b0a1a2b3c4d5e6","FirstName":"Amy","LastName":"Lee","CreatedDate":"2023-07-19T10:00:00.000Z","SessionTimeout":30},
  {"Id":"64b7f0c2e4b0a1a2b3c4d5e7","FirstName":"Bob","LastName":"Ray","CreatedDate":"2023-07-20T10:00:00.000Z","SessionTimeout":"15"}
]}`

const legacyPermissions = `{"permissions":[
  {"id":"64b7f0c2e4b0a1a2b3c4d5e6","permissions":["Create Movies"]},
  {"id":"64b7f0c2e4b0a1a2b3c4d5e7","permissions":[]}
]}`

func writeLegacy(t *testing.T, users, perms string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyUsersFile), []byte(users), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, LegacyPermissionsFile), []byte(perms), 0o644))
	return dir
}

func TestReadLegacy(t *testing.T) {
	dir := writeLegacy(t, legacyUsers, legacyPermissions)

	profiles, grants, err := ReadLegacy(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	require.Len(t, grants, 2)

	assert.Equal(t, 30, profiles[0].SessionTimeoutMinutes)
	assert.Equal(t, 15, profiles[1].SessionTimeoutMinutes)
	assert.True(t, profiles[0].CreatedDate.Equal(time.Date(2023, 7, 19, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{identity.PermViewMovies, identity.PermCreateMovies}, grants[0].Permissions)
	assert.Empty(t, grants[1].Permissions)
}

func TestReadLegacyRejectsUnknownPermission(t *testing.T) {
	dir := writeLegacy(t, `{"users":[]}`, `{"permissions":[{"id":"x","permissions":["Fly Drones"]}]}`)
	_, _, err := ReadLegacy(dir)
	require.ErrorIs(t, err, identity.ErrInvalidInput)
}

func TestLoadThenExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	profiles, grants, err := ReadLegacy(writeLegacy(t, legacyUsers, legacyPermissions))
	require.NoError(t, err)

	src := openTempSQLite(t)
	require.NoError(t, Load(ctx, src, profiles, grants))

	out := t.TempDir()
	require.NoError(t, Export(ctx, src, out))

	flat, err := OpenFile(out)
	require.NoError(t, err)
	got, err := flat.FindProfile(ctx, "64b7f0c2e4b0a1a2b3c4d5e7")
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.FirstName)

	g, err := flat.FindGrant(ctx, "64b7f0c2e4b0a1a2b3c4d5e6")
	require.NoError(t, err)
	assert.Equal(t, []string{identity.PermViewMovies, identity.PermCreateMovies}, g.Permissions)
}

func TestReadLegacyAcceptsDateOnlyCreatedDate(t *testing.T) {
	users := `{"users":[
  {"Id":"a","FirstName":"Amy","LastName":"Lee","CreatedDate":"2023-05-01","SessionTimeout":30},
  {"Id":"b","FirstName":"Bob","LastName":"Ray","CreatedDate":"2023-07-20T10:00:00.000Z","SessionTimeout":"15"},
  {"Id":"c","FirstName":"Cy","LastName":"Ng","CreatedDate":"","SessionTimeout":5}
]}`
	profiles, _, err := ReadLegacy(writeLegacy(t, users, `{"permissions":[]}`))
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.True(t, profiles[0].CreatedDate.Equal(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, profiles[1].CreatedDate.Equal(time.Date(2023, 7, 20, 10, 0, 0, 0, time.UTC)))
	assert.True(t, profiles[2].CreatedDate.IsZero())
}

func TestReadLegacyRejectsBadSessionTimeout(t *testing.T) {
	for _, timeout := range []string{`"30.9"`, `12.5`, `1000000000`} {
		users := `{"users":[{"Id":"a","FirstName":"Amy","LastName":"Lee","CreatedDate":"2023-05-01","SessionTimeout":` + timeout + `}]}`
		_, _, err := ReadLegacy(writeLegacy(t, users, `{"permissions":[]}`))
		require.Error(t, err, "timeout %s", timeout)
	}
}
