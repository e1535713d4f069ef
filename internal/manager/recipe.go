// SPDX-License-Identifier: MPL-2.0

package manager

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"mvdan.cc/sh/v3/syntax"

	"github.com/venvoy/venvoy/internal/store"
	"github.com/venvoy/venvoy/pkg/types"
)

//go:embed templates/*.tmpl
var recipeTemplates embed.FS

// defFileName is the Singularity definition file derived from the Dockerfile
// when building with a SIF runtime.
const defFileName = "Singularity.def"

var recipeTmpl = template.Must(template.ParseFS(recipeTemplates, "templates/*.tmpl"))

type recipeData struct {
	Name      types.EnvironmentName
	BaseImage string
}

// BaseImageFor returns the OCI base image for a track at a given version.
// Both tracks use official multi-arch images so environments are portable
// across amd64 and arm64 hosts.
func BaseImageFor(track types.Track, version string) string {
	if track == types.TrackR {
		return "rocker/r-ver:" + version
	}
	return "python:" + version + "-slim"
}

// RenderRecipe renders the Dockerfile for an environment from the embedded
// template of its track. Output is deterministic for a fixed environment so
// exported recipes diff cleanly.
func RenderRecipe(env *store.Environment) (string, error) {
	if err := env.Track.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder
	data := recipeData{Name: env.Name, BaseImage: env.BaseImage}
	if err := recipeTmpl.ExecuteTemplate(&sb, "dockerfile_"+string(env.Track)+".tmpl", data); err != nil {
		return "", fmt.Errorf("failed to render recipe: %w", err)
	}
	return sb.String(), nil
}

// DockerfileToDef converts a Dockerfile into a Singularity definition file.
// The conversion is line-oriented: RUN instructions become %post commands,
// ENV instructions become %environment exports, and instructions with no SIF
// equivalent are kept as comments so the definition documents its origin.
func DockerfileToDef(dockerfile string) string {
	lines := joinContinuations(dockerfile)

	base := "ubuntu:22.04"
	var post, env []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		instr, rest, _ := strings.Cut(trimmed, " ")
		switch strings.ToUpper(instr) {
		case "FROM":
			if fields := strings.Fields(rest); len(fields) > 0 {
				base = fields[0]
			}
		case "RUN":
			post = append(post, "    "+rest)
		case "ENV":
			env = append(env, "    export "+strings.Replace(rest, " ", "=", 1))
		case "WORKDIR":
			// SIF images have no workdir metadata; the directory must exist
			// for a --pwd session to start, and later RUN lines expect it as
			// their cwd.
			if dir := strings.TrimSpace(rest); dir != "" {
				post = append(post, "    mkdir -p "+dir, "    cd "+dir)
			}
		default:
			post = append(post, "    # "+trimmed)
		}
	}

	var sb strings.Builder
	sb.WriteString("Bootstrap: docker\n")
	sb.WriteString("From: " + base + "\n\n")
	sb.WriteString("%post\n")
	sb.WriteString(strings.Join(post, "\n"))
	sb.WriteString("\n\n%environment\n")
	sb.WriteString(strings.Join(env, "\n"))
	sb.WriteString("\n\n%runscript\n    exec \"$@\"\n")
	return sb.String()
}

// joinContinuations splits a Dockerfile into logical lines, folding
// backslash continuations into single instructions.
func joinContinuations(content string) []string {
	var lines []string
	var cur strings.Builder
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimRight(raw, " \t")
		if cur.Len() > 0 {
			line = strings.TrimLeft(line, " \t")
		}
		if strings.HasSuffix(line, "\\") {
			cur.WriteString(strings.TrimSuffix(line, "\\"))
			continue
		}
		cur.WriteString(line)
		lines = append(lines, cur.String())
		cur.Reset()
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// freezeScript is the in-container shell script that lists the installed
// package set in name==version form. For Python, includeDev keeps editable
// installs in the listing; pinning them in a manifest makes the rebuild
// depend on a source checkout, so they are excluded by default. R has no
// editable-install notion and always lists the full library.
func freezeScript(track types.Track, includeDev bool) string {
	if track == types.TrackR {
		return `Rscript -e 'ip <- installed.packages(); cat(sprintf("%s==%s", rownames(ip), ip[, "Version"]), sep = "\n")'`
	}
	if includeDev {
		return "pip freeze"
	}
	return "pip freeze --exclude-editable"
}

// freezeCommand builds the container command that lists installed packages.
// The script runs through sh -c so the same command works under both daemon
// and SIF runtimes regardless of the image's default entrypoint.
func freezeCommand(track types.Track, includeDev bool) []string {
	return []string{"sh", "-c", freezeScript(track, includeDev)}
}

// defaultSessionCommand is the track's interactive interpreter, used when a
// session does not name a command.
func defaultSessionCommand(track types.Track) []string {
	if track == types.TrackR {
		return []string{"R"}
	}
	return []string{"python3"}
}

// sessionScript wraps a session command so the installed package set lands in
// the mounted state directory: once at start, periodically while the session
// runs, and again after the command exits. Session containers are removed on
// exit, so this file is the only record of packages installed during the
// session. Each report goes to a temp name and is renamed into place so the
// host never reads a partial file.
func sessionScript(track types.Track, command []string, refresh time.Duration) (string, error) {
	joined, err := shellJoin(command)
	if err != nil {
		return "", err
	}

	statePath := sessionStateMount + "/" + sessionPackagesFile
	var sb strings.Builder
	fmt.Fprintf(&sb, "venvoy_pkgs() { %s >%s.next 2>/dev/null && mv -f %s.next %s; }\n",
		freezeScript(track, true), statePath, statePath, statePath)
	sb.WriteString("venvoy_pkgs\n")
	if secs := int(refresh / time.Second); secs > 0 {
		fmt.Fprintf(&sb, "( while sleep %d; do venvoy_pkgs; done ) &\nvenvoy_watch=$!\n", secs)
		sb.WriteString(joined + "\n")
		sb.WriteString("venvoy_rc=$?\nkill \"$venvoy_watch\" 2>/dev/null\n")
	} else {
		sb.WriteString(joined + "\n")
		sb.WriteString("venvoy_rc=$?\n")
	}
	sb.WriteString("venvoy_pkgs\nexit \"$venvoy_rc\"\n")
	return sb.String(), nil
}

// shellJoin flattens an argument vector into a single POSIX shell command
// string with every word quoted, for running user commands through sh -c.
func shellJoin(argv []string) (string, error) {
	words := make([]string, 0, len(argv))
	for _, a := range argv {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("failed to quote %q: %w", a, err)
		}
		words = append(words, q)
	}
	return strings.Join(words, " "), nil
}
