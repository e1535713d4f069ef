// SPDX-License-Identifier: MPL-2.0

// Package selfupdate upgrades the venvoy binary in place from GitHub
// releases. Every release carries one tar.gz per platform, named
// venvoy-<os>-<arch>.tar.gz, plus a SHA256SUMS file covering them; an
// upgrade downloads the platform archive, checks it against SHA256SUMS,
// and atomically swaps the running binary. Installs owned by a package
// manager (Homebrew, go install) are detected and left alone.
package selfupdate
