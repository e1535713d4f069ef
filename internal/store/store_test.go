// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/venvoy/venvoy/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir())
}

func createTestEnv(t *testing.T, s *Store, name string) *Environment {
	t.Helper()
	env := &Environment{
		Name:         types.EnvironmentName(name),
		Track:        types.TrackPython,
		TrackVersion: "3.11",
		Architecture: "amd64",
		BaseImage:    "python:3.11-slim",
		ImageRef:     "venvoy/" + name + ":latest",
	}
	if err := s.Create(env); err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return env
}

func TestStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	created := createTestEnv(t, s, "analysis")

	got, err := s.Get("analysis")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(created, got); diff != "" {
		t.Errorf("environment mismatch (-created +loaded):\n%s", diff)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set on create")
	}

	if _, err := os.Stat(filepath.Join(s.EnvDir("analysis"), snapshotsDirName)); err != nil {
		t.Errorf("snapshots directory missing: %v", err)
	}
}

func TestStore_CreateRejectsDuplicate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	createTestEnv(t, s, "analysis")

	err := s.Create(&Environment{Name: "analysis", Track: types.TrackPython})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("error = %v, want ErrAlreadyExists", err)
	}
}

func TestStore_CreateRejectsInvalidName(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	err := s.Create(&Environment{Name: "../escape", Track: types.TrackPython})
	if err == nil {
		t.Fatal("expected validation error for traversal name")
	}
	if s.Exists("../escape") {
		t.Error("invalid environment must not be created")
	}
}

func TestStore_GetNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Get("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestStore_ListSorted(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		createTestEnv(t, s, name)
	}

	envs, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, env := range envs {
		names = append(names, string(env.Name))
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, names); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_ListEmptyRoot(t *testing.T) {
	t.Parallel()

	envs, err := newTestStore(t).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(envs) != 0 {
		t.Errorf("expected no environments, got %d", len(envs))
	}
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	createTestEnv(t, s, "analysis")

	if err := s.Remove("analysis"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Exists("analysis") {
		t.Error("environment directory still exists after Remove")
	}
	if err := s.Remove("analysis"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
}

func TestStore_RecipeAndManifest(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	createTestEnv(t, s, "analysis")

	recipe := "FROM python:3.11-slim\nRUN pip install numpy\n"
	if err := s.WriteRecipe("analysis", recipe); err != nil {
		t.Fatalf("WriteRecipe: %v", err)
	}
	back, err := s.ReadRecipe("analysis")
	if err != nil {
		t.Fatalf("ReadRecipe: %v", err)
	}
	if back != recipe {
		t.Errorf("recipe round trip mismatch:\n%s", back)
	}

	if got, err := s.ReadManifest("analysis"); err != nil || got != "" {
		t.Fatalf("missing manifest should read empty, got %q, %v", got, err)
	}
	manifest := "numpy==1.26.4\n"
	if err := s.WriteManifest("analysis", manifest); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	got, err := s.ReadManifest("analysis")
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got != manifest {
		t.Errorf("manifest round trip mismatch: %q", got)
	}
}

func TestStore_StateTracksManifestDigest(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	env := createTestEnv(t, s, "analysis")

	if err := s.WriteManifest("analysis", "numpy==1.26.4\n"); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	// No build recorded yet.
	state, err := s.State("analysis")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != StateStale {
		t.Errorf("state before build = %q, want stale", state)
	}

	dig, err := s.ManifestDigest("analysis")
	if err != nil {
		t.Fatalf("ManifestDigest: %v", err)
	}
	env.BuiltManifestDigest = dig
	if err := s.Save(env); err != nil {
		t.Fatalf("Save: %v", err)
	}

	state, err = s.State("analysis")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != StateReady {
		t.Errorf("state after build = %q, want ready", state)
	}

	if err := s.WriteManifest("analysis", "numpy==1.26.4\nscipy==1.12.0\n"); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}
	state, err = s.State("analysis")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state != StateStale {
		t.Errorf("state after manifest edit = %q, want stale", state)
	}

	state, err = s.State("ghost")
	if err != nil {
		t.Fatalf("State(ghost): %v", err)
	}
	if state != StateMissing {
		t.Errorf("state of absent environment = %q, want missing", state)
	}
}

func TestStore_SnapshotHistory(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	createTestEnv(t, s, "analysis")

	if _, ok, err := s.CurrentSnapshot("analysis"); err != nil || ok {
		t.Fatalf("fresh environment should have no current snapshot (ok=%v, err=%v)", ok, err)
	}

	first := Snapshot{
		Trigger:  TriggerManual,
		TakenAt:  time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Packages: []Package{{Name: "numpy", Version: "1.26.4"}},
	}
	saved, err := s.AddSnapshot("analysis", first)
	if err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}
	if saved.ID == "" {
		t.Error("snapshot ID should be filled in")
	}

	second := Snapshot{
		Trigger: TriggerInstall,
		TakenAt: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
		Packages: []Package{
			{Name: "numpy", Version: "1.26.4"},
			{Name: "scipy", Version: "1.12.0"},
		},
	}
	if _, err := s.AddSnapshot("analysis", second); err != nil {
		t.Fatalf("AddSnapshot: %v", err)
	}

	snaps, err := s.Snapshots("analysis")
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshot count = %d, want 2", len(snaps))
	}
	if !snaps[0].TakenAt.Before(snaps[1].TakenAt) {
		t.Error("snapshots should be ordered oldest first")
	}

	cur, ok, err := s.CurrentSnapshot("analysis")
	if err != nil || !ok {
		t.Fatalf("CurrentSnapshot: ok=%v, err=%v", ok, err)
	}
	if diff := cmp.Diff(second.Packages, cur.Packages); diff != "" {
		t.Errorf("current mirror mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_SnapshotSameSecondDoesNotCollide(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	createTestEnv(t, s, "analysis")

	at := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snap := Snapshot{Trigger: TriggerManual, TakenAt: at}
		if _, err := s.AddSnapshot("analysis", snap); err != nil {
			t.Fatalf("AddSnapshot #%d: %v", i, err)
		}
	}

	snaps, err := s.Snapshots("analysis")
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Errorf("snapshot count = %d, want 3", len(snaps))
	}
}

func TestStore_AddSnapshotRejectsBadTrigger(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	createTestEnv(t, s, "analysis")

	_, err := s.AddSnapshot("analysis", Snapshot{Trigger: "reboot"})
	if !errors.Is(err, ErrInvalidTrigger) {
		t.Errorf("error = %v, want ErrInvalidTrigger", err)
	}
}

func TestStore_LockExcludesSecondHolder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	createTestEnv(t, s, "analysis")

	lock, err := s.Lock("analysis")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer lock.Release()

	if _, err := s.Lock("analysis"); !errors.Is(err, ErrEnvironmentBusy) {
		t.Errorf("second Lock = %v, want ErrEnvironmentBusy", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release should be idempotent: %v", err)
	}

	relock, err := s.Lock("analysis")
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	relock.Release()
}

func TestStore_LockMissingEnvironment(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if _, err := s.Lock("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
