// SPDX-License-Identifier: MPL-2.0

package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/venvoy/venvoy/pkg/types"
)

const (
	// environmentsDirName is the subdirectory of the data dir holding all
	// environment directories.
	environmentsDirName = "environments"

	metadataFileName = "env.yaml"
	recipeFileName   = "Dockerfile"
	manifestFileName = "manifest.txt"
	currentFileName  = "current.yaml"
	snapshotsDirName = "snapshots"
	lockFileName     = ".lock"

	snapshotFilePrefix = "environment_"
	snapshotFileExt    = ".yml"
	snapshotTimeLayout = "20060102_150405"

	dirPerm  = 0o755
	filePerm = 0o644
)

var (
	// ErrAlreadyExists is the sentinel error wrapped by EnvironmentExistsError.
	ErrAlreadyExists = errors.New("environment already exists")
	// ErrNotFound is the sentinel error wrapped by EnvironmentNotFoundError.
	ErrNotFound = errors.New("environment not found")
	// ErrEnvironmentBusy is returned when another venvoy process holds the
	// environment lock.
	ErrEnvironmentBusy = errors.New("environment is in use by another process")
)

type (
	// Store manages environment directories under a single root. All methods
	// operate on the filesystem directly; callers serialize mutations with
	// Lock().
	Store struct {
		root string
	}

	// EnvironmentExistsError is returned when creating an environment whose
	// directory already exists.
	EnvironmentExistsError struct {
		Name types.EnvironmentName
	}

	// EnvironmentNotFoundError is returned when an environment directory or
	// one of its required files is missing.
	EnvironmentNotFoundError struct {
		Name types.EnvironmentName
	}
)

// New returns a Store rooted at dataDir. Environment directories live under
// dataDir/environments; the directory is created lazily on first Create.
func New(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, environmentsDirName)}
}

// Error implements the error interface.
func (e *EnvironmentExistsError) Error() string {
	return fmt.Sprintf("environment %q already exists", e.Name)
}

// Unwrap returns ErrAlreadyExists for errors.Is() compatibility.
func (e *EnvironmentExistsError) Unwrap() error { return ErrAlreadyExists }

// Error implements the error interface.
func (e *EnvironmentNotFoundError) Error() string {
	return fmt.Sprintf("environment %q not found", e.Name)
}

// Unwrap returns ErrNotFound for errors.Is() compatibility.
func (e *EnvironmentNotFoundError) Unwrap() error { return ErrNotFound }

// Root returns the environments root directory.
func (s *Store) Root() string { return s.root }

// EnvDir returns the directory of the named environment.
func (s *Store) EnvDir(name types.EnvironmentName) string {
	return filepath.Join(s.root, string(name))
}

// Exists reports whether the named environment directory exists.
func (s *Store) Exists(name types.EnvironmentName) bool {
	info, err := os.Stat(s.EnvDir(name))
	return err == nil && info.IsDir()
}

// Create persists a new environment. The name must validate and the
// directory must not already exist.
func (s *Store) Create(env *Environment) error {
	if err := env.Name.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, dirPerm); err != nil {
		return fmt.Errorf("failed to create store root: %w", err)
	}

	// Mkdir (not MkdirAll) so concurrent creates of the same name race on
	// the directory itself and exactly one wins.
	dir := s.EnvDir(env.Name)
	if err := os.Mkdir(dir, dirPerm); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &EnvironmentExistsError{Name: env.Name}
		}
		return fmt.Errorf("failed to create environment directory: %w", err)
	}
	if err := os.Mkdir(filepath.Join(dir, snapshotsDirName), dirPerm); err != nil {
		return fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	now := time.Now().UTC()
	if env.CreatedAt.IsZero() {
		env.CreatedAt = now
	}
	env.UpdatedAt = now
	return s.writeMetadata(env)
}

// Get loads the metadata of the named environment.
func (s *Store) Get(name types.EnvironmentName) (*Environment, error) {
	data, err := os.ReadFile(filepath.Join(s.EnvDir(name), metadataFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &EnvironmentNotFoundError{Name: name}
		}
		return nil, fmt.Errorf("failed to read environment metadata: %w", err)
	}

	var env Environment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse environment metadata: %w", err)
	}
	return &env, nil
}

// Save rewrites the metadata of an existing environment and bumps its
// update timestamp.
func (s *Store) Save(env *Environment) error {
	if !s.Exists(env.Name) {
		return &EnvironmentNotFoundError{Name: env.Name}
	}
	env.UpdatedAt = time.Now().UTC()
	return s.writeMetadata(env)
}

// List returns all environments sorted by name. Directories without valid
// metadata are skipped.
func (s *Store) List() ([]*Environment, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}

	var envs []*Environment
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		env, err := s.Get(types.EnvironmentName(entry.Name()))
		if err != nil {
			continue
		}
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
	return envs, nil
}

// Remove deletes the environment directory and everything under it.
func (s *Store) Remove(name types.EnvironmentName) error {
	if !s.Exists(name) {
		return &EnvironmentNotFoundError{Name: name}
	}
	if err := os.RemoveAll(s.EnvDir(name)); err != nil {
		return fmt.Errorf("failed to remove environment: %w", err)
	}
	return nil
}

// WriteRecipe stores the build recipe (Dockerfile) of an environment.
func (s *Store) WriteRecipe(name types.EnvironmentName, content string) error {
	if !s.Exists(name) {
		return &EnvironmentNotFoundError{Name: name}
	}
	return writeFileAtomic(filepath.Join(s.EnvDir(name), recipeFileName), []byte(content))
}

// ReadRecipe returns the build recipe of an environment.
func (s *Store) ReadRecipe(name types.EnvironmentName) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.EnvDir(name), recipeFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &EnvironmentNotFoundError{Name: name}
		}
		return "", fmt.Errorf("failed to read recipe: %w", err)
	}
	return string(data), nil
}

// RecipePath returns the on-disk path of the environment's build recipe.
func (s *Store) RecipePath(name types.EnvironmentName) string {
	return filepath.Join(s.EnvDir(name), recipeFileName)
}

// WriteManifest stores the declared package manifest (pip-freeze format).
func (s *Store) WriteManifest(name types.EnvironmentName, content string) error {
	if !s.Exists(name) {
		return &EnvironmentNotFoundError{Name: name}
	}
	return writeFileAtomic(filepath.Join(s.EnvDir(name), manifestFileName), []byte(content))
}

// ReadManifest returns the declared package manifest. A missing manifest
// file reads as empty, not as an error.
func (s *Store) ReadManifest(name types.EnvironmentName) (string, error) {
	if !s.Exists(name) {
		return "", &EnvironmentNotFoundError{Name: name}
	}
	data, err := os.ReadFile(filepath.Join(s.EnvDir(name), manifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read manifest: %w", err)
	}
	return string(data), nil
}

// ManifestDigest returns the sha256 digest of the declared manifest.
func (s *Store) ManifestDigest(name types.EnvironmentName) (digest.Digest, error) {
	content, err := s.ReadManifest(name)
	if err != nil {
		return "", err
	}
	return digest.FromString(content), nil
}

// State classifies the named environment by comparing the digest recorded
// at the last successful build against the current declared manifest.
func (s *Store) State(name types.EnvironmentName) (EnvironmentState, error) {
	env, err := s.Get(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StateMissing, nil
		}
		return "", err
	}
	current, err := s.ManifestDigest(name)
	if err != nil {
		return "", err
	}
	if env.BuiltManifestDigest == "" || env.BuiltManifestDigest != current {
		return StateStale, nil
	}
	return StateReady, nil
}

// AddSnapshot appends a snapshot to the environment history and mirrors it
// to current.yaml. A missing ID or timestamp is filled in.
func (s *Store) AddSnapshot(name types.EnvironmentName, snap Snapshot) (*Snapshot, error) {
	if !s.Exists(name) {
		return nil, &EnvironmentNotFoundError{Name: name}
	}
	if err := snap.Trigger.Validate(); err != nil {
		return nil, err
	}

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	sortPackages(snap.Packages)

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	path, err := s.snapshotPath(name, snap.TakenAt)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return nil, err
	}
	if err := writeFileAtomic(filepath.Join(s.EnvDir(name), currentFileName), data); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Snapshots returns the full snapshot history, oldest first.
func (s *Store) Snapshots(name types.EnvironmentName) ([]Snapshot, error) {
	if !s.Exists(name) {
		return nil, &EnvironmentNotFoundError{Name: name}
	}

	dir := filepath.Join(s.EnvDir(name), snapshotsDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		fname := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(fname, snapshotFilePrefix) || !strings.HasSuffix(fname, snapshotFileExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, fname))
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot %s: %w", fname, err)
		}
		var snap Snapshot
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot %s: %w", fname, err)
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].TakenAt.Before(snaps[j].TakenAt) })
	return snaps, nil
}

// CurrentSnapshot returns the most recent snapshot from the current.yaml
// mirror. ok is false when no snapshot has been taken yet.
func (s *Store) CurrentSnapshot(name types.EnvironmentName) (snap *Snapshot, ok bool, err error) {
	if !s.Exists(name) {
		return nil, false, &EnvironmentNotFoundError{Name: name}
	}
	data, err := os.ReadFile(filepath.Join(s.EnvDir(name), currentFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read current snapshot: %w", err)
	}
	var cur Snapshot
	if err := yaml.Unmarshal(data, &cur); err != nil {
		return nil, false, fmt.Errorf("failed to parse current snapshot: %w", err)
	}
	return &cur, true, nil
}

// Lock acquires an exclusive lock on the environment directory. It fails
// immediately with ErrEnvironmentBusy when another process holds it.
func (s *Store) Lock(name types.EnvironmentName) (*EnvLock, error) {
	if !s.Exists(name) {
		return nil, &EnvironmentNotFoundError{Name: name}
	}
	return acquireLock(filepath.Join(s.EnvDir(name), lockFileName))
}

func (s *Store) writeMetadata(env *Environment) error {
	data, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode environment metadata: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.EnvDir(env.Name), metadataFileName), data)
}

// snapshotPath picks a history file name from the timestamp, suffixing a
// counter when two snapshots land in the same second.
func (s *Store) snapshotPath(name types.EnvironmentName, takenAt time.Time) (string, error) {
	dir := filepath.Join(s.EnvDir(name), snapshotsDirName)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	base := snapshotFilePrefix + takenAt.UTC().Format(snapshotTimeLayout)
	path := filepath.Join(dir, base+snapshotFileExt)
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, snapshotFileExt))
	}
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}
