// SPDX-License-Identifier: MPL-2.0

// Package store persists environments on disk. Each environment is a
// directory holding its metadata, build recipe, declared package manifest,
// and the history of package snapshots. The layout is plain files so users
// can inspect, diff, and version-control an environment without venvoy.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/venvoy/venvoy/pkg/types"
)

const (
	// TriggerManual marks a snapshot requested explicitly by the user.
	TriggerManual Trigger = "manual"
	// TriggerFreeze marks a snapshot produced by a full freeze resolution.
	TriggerFreeze Trigger = "freeze"
	// TriggerInstall marks a snapshot taken after packages were added.
	TriggerInstall Trigger = "install"
	// TriggerRemove marks a snapshot taken after packages were removed.
	TriggerRemove Trigger = "remove"
	// TriggerUpgrade marks a snapshot taken after package versions changed.
	TriggerUpgrade Trigger = "upgrade"
	// TriggerSessionExit marks a snapshot taken when a session ended.
	TriggerSessionExit Trigger = "session-exit"

	// StateMissing means the environment directory does not exist.
	StateMissing EnvironmentState = "missing"
	// StateReady means the built image matches the declared manifest.
	StateReady EnvironmentState = "ready"
	// StateStale means the declared manifest changed since the last build.
	StateStale EnvironmentState = "stale"
)

var (
	// ErrInvalidTrigger is the sentinel error wrapped by InvalidTriggerError.
	ErrInvalidTrigger = errors.New("invalid snapshot trigger")

	// ErrInvalidFreezeLine is returned for manifest lines that are neither a
	// pinned requirement nor a recognized directive.
	ErrInvalidFreezeLine = errors.New("invalid freeze line")
)

type (
	// Trigger records why a snapshot was taken.
	Trigger string

	// InvalidTriggerError is returned when a Trigger is not recognized.
	InvalidTriggerError struct {
		Value Trigger
	}

	// EnvironmentState classifies an environment for status reporting.
	EnvironmentState string

	// Package is one installed package at a pinned version. Channel names
	// the source channel or index the package came from; empty means the
	// track's default index.
	Package struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		Channel string `yaml:"channel,omitempty"`
	}

	// Environment is the persisted metadata of one environment. It carries
	// everything needed to rebuild the image from scratch; installed package
	// state lives in snapshots, not here.
	Environment struct {
		Name         types.EnvironmentName `yaml:"name"`
		Track        types.Track           `yaml:"track"`
		TrackVersion string                `yaml:"track_version"`
		// Architecture is the OCI architecture the image was built for.
		Architecture string `yaml:"architecture"`
		// BaseImage is the OCI reference the recipe builds on.
		BaseImage string `yaml:"base_image"`
		// ImageRef is the tag of the built environment image.
		ImageRef  string    `yaml:"image_ref"`
		CreatedAt time.Time `yaml:"created_at"`
		UpdatedAt time.Time `yaml:"updated_at"`
		// BuiltManifestDigest is the digest of the declared manifest at the
		// time of the last successful build. A mismatch with the current
		// manifest digest marks the environment stale.
		BuiltManifestDigest digest.Digest `yaml:"built_manifest_digest,omitempty"`
	}

	// Snapshot is one point-in-time record of the installed package set.
	Snapshot struct {
		ID       string    `yaml:"id"`
		TakenAt  time.Time `yaml:"taken_at"`
		Trigger  Trigger   `yaml:"trigger"`
		Packages []Package `yaml:"packages"`
	}
)

// String returns the string representation of the Trigger.
func (tr Trigger) String() string { return string(tr) }

// Validate returns an error if the Trigger is not one of the defined values.
func (tr Trigger) Validate() error {
	switch tr {
	case TriggerManual, TriggerFreeze, TriggerInstall, TriggerRemove, TriggerUpgrade, TriggerSessionExit:
		return nil
	default:
		return &InvalidTriggerError{Value: tr}
	}
}

// Error implements the error interface.
func (e *InvalidTriggerError) Error() string {
	return fmt.Sprintf("invalid snapshot trigger %q", e.Value)
}

// Unwrap returns ErrInvalidTrigger for errors.Is() compatibility.
func (e *InvalidTriggerError) Unwrap() error { return ErrInvalidTrigger }

// ParseFreeze parses pip-freeze-style output ("name==version" lines) into a
// sorted package list. Comments, blank lines, and editable installs are
// skipped; direct references ("name @ url") keep the reference as version.
func ParseFreeze(out string) ([]Package, error) {
	var pkgs []Package
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-e ") {
			continue
		}
		if name, ref, ok := strings.Cut(line, " @ "); ok {
			pkgs = append(pkgs, Package{Name: strings.TrimSpace(name), Version: strings.TrimSpace(ref)})
			continue
		}
		name, version, ok := strings.Cut(line, "==")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFreezeLine, line)
		}
		pkgs = append(pkgs, Package{Name: strings.TrimSpace(name), Version: strings.TrimSpace(version)})
	}
	sortPackages(pkgs)
	return pkgs, nil
}

// FormatFreeze renders a package list back to pip-freeze format, sorted by
// name so repeated renders of the same set are byte-identical.
func FormatFreeze(pkgs []Package) string {
	sorted := make([]Package, len(pkgs))
	copy(sorted, pkgs)
	sortPackages(sorted)

	var sb strings.Builder
	for _, p := range sorted {
		sb.WriteString(p.Name)
		sb.WriteString("==")
		sb.WriteString(p.Version)
		sb.WriteString("\n")
	}
	return sb.String()
}

// DiffPackages compares two package sets and classifies the change. The
// returned trigger is TriggerInstall when packages were only added,
// TriggerRemove when only removed, TriggerUpgrade when any version changed
// or the change is mixed. ok is false when the sets are identical.
func DiffPackages(before, after []Package) (tr Trigger, ok bool) {
	prev := make(map[string]string, len(before))
	for _, p := range before {
		prev[p.Name] = p.Version
	}
	next := make(map[string]string, len(after))
	for _, p := range after {
		next[p.Name] = p.Version
	}

	var added, removed, changed int
	for name, v := range next {
		old, exists := prev[name]
		switch {
		case !exists:
			added++
		case old != v:
			changed++
		}
	}
	for name := range prev {
		if _, exists := next[name]; !exists {
			removed++
		}
	}

	switch {
	case added == 0 && removed == 0 && changed == 0:
		return "", false
	case changed > 0, added > 0 && removed > 0:
		return TriggerUpgrade, true
	case added > 0:
		return TriggerInstall, true
	default:
		return TriggerRemove, true
	}
}

func sortPackages(pkgs []Package) {
	sort.Slice(pkgs, func(i, j int) bool {
		if pkgs[i].Name != pkgs[j].Name {
			return pkgs[i].Name < pkgs[j].Name
		}
		return pkgs[i].Version < pkgs[j].Version
	})
}
