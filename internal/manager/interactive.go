// SPDX-License-Identifier: MPL-2.0

package manager

import (
	"io"
	"os"

	"golang.org/x/term"
)

// stdinIsTerminal reports whether the session's stdin is a real terminal.
// Only then is the PTY path worth taking; piped stdin runs plain.
func stdinIsTerminal(stdin io.Reader) bool {
	f, ok := stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
