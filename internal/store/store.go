// Package store implements the atomic JSON snapshot persistence layer
// (C4), grounded on Distortions81-LumenClay's internal/game/accounts.go
// temp-file-then-rename idiom, generalized from one accounts file to one
// file per room.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"collab-canvas/internal/canvas"
)

var safeName = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Store persists one snapshot file per room under root, and owns the
// per-room upload directory layout.
type Store struct {
	root        string
	uploadsRoot string
}

// New builds a Store rooted at dataRoot (snapshots) and uploadsRoot
// (per-room image directories).
func New(dataRoot, uploadsRoot string) (*Store, error) {
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data root: %w", err)
	}
	if err := os.MkdirAll(uploadsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("store: create uploads root: %w", err)
	}
	return &Store{root: dataRoot, uploadsRoot: uploadsRoot}, nil
}

func (s *Store) path(name string) (string, error) {
	// Name validation happens before any filesystem access — this is what
	// prevents path traversal via a name like "../../etc".
	if !safeName.MatchString(name) {
		return "", canvas.ErrInvalidName
	}
	return filepath.Join(s.root, name+".json"), nil
}

func (s *Store) uploadDir(name string) (string, error) {
	if !safeName.MatchString(name) {
		return "", canvas.ErrInvalidName
	}
	return filepath.Join(s.uploadsRoot, name), nil
}

// Load reads a room's snapshot. A missing file is reported as (nil, false,
// nil) — not an error. A corrupt or truncated file is quarantined by
// renaming it aside with a ".corrupt" suffix (never deleted) and is also
// reported as "no snapshot" so the caller falls back to a fresh room.
func (s *Store) Load(name string) (*canvas.Room, bool, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read snapshot: %w", err)
	}

	var snap canvas.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		quarantine := p + ".corrupt"
		_ = os.Rename(p, quarantine)
		return nil, false, fmt.Errorf("store: corrupt snapshot quarantined as %s: %w", quarantine, err)
	}

	return canvas.FromSnapshot(name, snap), true, nil
}

// Save atomically writes a room's snapshot: encode to a temp file in the
// same directory, then rename over the target. A reader can never observe
// a partially-written file.
func (s *Store) Save(name string, snap canvas.Snapshot) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp snapshot: %w", err)
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store: replace snapshot: %w", err)
	}
	return nil
}

// Delete removes a room's snapshot file (and its ".corrupt" sibling, if
// any) and its upload directory.
func (s *Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("store: delete snapshot: %w", rmErr)
	}
	_ = os.Remove(p + ".corrupt")

	dir, err := s.uploadDir(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("store: delete upload directory: %w", err)
	}
	return nil
}

// Exists reports whether a snapshot file is present for name, without
// decoding it. Used by room-name generation to avoid colliding with a
// room that isn't currently loaded in memory.
func (s *Store) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// UploadDir returns (creating if necessary) the directory images for room
// `name` are stored under.
func (s *Store) UploadDir(name string) (string, error) {
	dir, err := s.uploadDir(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create upload directory: %w", err)
	}
	return dir, nil
}

// ListSnapshotNames returns every room name with a snapshot file on disk,
// for the retention sweeper (C7).
func (s *Store) ListSnapshotNames() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: list data root: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := e.Name()
		if !strings.HasSuffix(base, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(base, ".json"))
	}
	return names, nil
}

// LastModified reads only a snapshot's lastModifiedAt field, without
// decoding its (potentially large) element and layer payload — used by
// the retention sweeper to scan many rooms cheaply.
func (s *Store) LastModified(name string) (time.Time, error) {
	p, err := s.path(name)
	if err != nil {
		return time.Time{}, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: read snapshot header: %w", err)
	}
	var hdr canvas.HeaderOnly
	if err := json.Unmarshal(data, &hdr); err != nil {
		return time.Time{}, fmt.Errorf("store: decode snapshot header: %w", err)
	}
	return hdr.LastModifiedAt, nil
}
