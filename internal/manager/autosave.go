// SPDX-License-Identifier: MPL-2.0

package manager

import (
	"context"
	"sync"
	"time"

	"github.com/venvoy/venvoy/internal/store"
	"github.com/venvoy/venvoy/internal/testutil"
	"github.com/venvoy/venvoy/pkg/types"
)

type (
	// PackageLister returns the package set currently installed in an
	// environment. During a session it reads the state the session itself
	// reports, so installs inside the running container are visible.
	PackageLister func(ctx context.Context) ([]store.Package, error)

	// Tracker reconciles the persisted snapshot history with the observed
	// package state. It reconciles at session exit and, via Poll,
	// periodically while a session runs. Filesystem watching cannot see
	// inside a container, so state comes from the lister.
	Tracker struct {
		store  *store.Store
		lister PackageLister
		clock  testutil.Clock
	}

	// TrackerOption configures a Tracker during construction.
	TrackerOption func(*Tracker)
)

// WithTrackerClock overrides the clock used by Poll. Tests inject a manual
// clock to drive the poll loop deterministically.
func WithTrackerClock(c testutil.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// NewTracker creates a Tracker over the given store and package lister.
func NewTracker(st *store.Store, lister PackageLister, opts ...TrackerOption) *Tracker {
	t := &Tracker{store: st, lister: lister, clock: testutil.SystemClock{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reconcile compares the installed package set with the latest persisted
// snapshot and writes a new snapshot when they differ. It returns (nil, nil)
// when nothing changed, so calling it repeatedly is idempotent. The first
// reconcile of an environment always snapshots: the empty baseline differs
// from any non-empty package set.
func (t *Tracker) Reconcile(ctx context.Context, name types.EnvironmentName) (*store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	installed, err := t.lister(ctx)
	if err != nil {
		return nil, err
	}

	prior, hasPrior, err := t.store.CurrentSnapshot(name)
	if err != nil {
		return nil, err
	}

	var baseline []store.Package
	if hasPrior {
		baseline = prior.Packages
	}

	trigger, changed := store.DiffPackages(baseline, installed)
	if !changed {
		return nil, nil
	}
	if !hasPrior {
		// Baseline capture of a fresh environment is a session boundary,
		// not a package operation.
		trigger = store.TriggerSessionExit
	}

	lock, err := t.store.Lock(name)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return t.store.AddSnapshot(name, store.Snapshot{
		Trigger:  trigger,
		Packages: installed,
	})
}

// Poll reconciles every interval until the returned stop function is called
// or the context is canceled. Reconcile errors during polling are dropped:
// the session owns the terminal and a transient listing failure will be
// retried on the next tick or at session exit. Stop blocks until the poll
// goroutine has finished, so no reconcile races the final session-exit one.
func (t *Tracker) Poll(ctx context.Context, name types.EnvironmentName, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.clock.After(interval):
				_, _ = t.Reconcile(ctx, name)
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
