// SPDX-License-Identifier: MPL-2.0

// Package testutil provides shared test infrastructure. Its Clock interface
// abstracts time so that time-driven code (the auto-save poll loop) runs on
// SystemClock in production and on a hand-driven ManualClock in tests.
package testutil
