package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-canvas/internal/canvas"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "data"), filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	return s
}

func TestStoreLoadMissingIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	r, found, err := s.Load("missing-room")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, r)
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	room := canvas.New("my-room")
	require.NoError(t, room.InsertElement(&canvas.Element{ID: "e1", Shape: "rect"}))

	require.NoError(t, s.Save("my-room", room.ToSnapshot()))

	loaded, found, err := s.Load("my-room")
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, loaded.Elements, "e1")
}

func TestStoreRejectsInvalidName(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.Load("..")
	assert.ErrorIs(t, err, canvas.ErrInvalidName)

	err = s.Save("..", canvas.Snapshot{})
	assert.ErrorIs(t, err, canvas.ErrInvalidName)
}

func TestStoreCorruptSnapshotIsQuarantinedNotDeleted(t *testing.T) {
	s := newTestStore(t)
	p, err := s.path("broken-room")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("{not valid json"), 0o644))

	_, found, err := s.Load("broken-room")
	assert.Error(t, err)
	assert.False(t, found)

	_, statErr := os.Stat(p + ".corrupt")
	assert.NoError(t, statErr, "the corrupt file should have been renamed aside, not deleted")
	_, statErr = os.Stat(p)
	assert.Error(t, statErr, "the original path should no longer exist")
}

func TestStoreDeleteRemovesSnapshotAndUploads(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("gone-room", canvas.Snapshot{}))
	dir, err := s.UploadDir("gone-room")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("x"), 0o644))

	require.NoError(t, s.Delete("gone-room"))

	assert.False(t, s.Exists("gone-room"))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStoreDeleteMissingRoomIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete("never-existed"))
}

func TestStoreListSnapshotNames(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("room-a", canvas.Snapshot{}))
	require.NoError(t, s.Save("room-b", canvas.Snapshot{}))

	names, err := s.ListSnapshotNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"room-a", "room-b"}, names)
}

func TestStoreLastModified(t *testing.T) {
	s := newTestStore(t)
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Save("room-a", canvas.Snapshot{LastModifiedAt: want}))

	got, err := s.LastModified("room-a")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}
