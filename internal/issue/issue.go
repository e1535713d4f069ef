// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	NoRuntimeAvailableId Id = iota + 1
	EnvironmentExistsId
	EnvironmentNotFoundId
	EnvironmentBusyId
	ArchitectureMismatchId
	ImageBuildFailedId
	ArchiveInvalidId
	ConfigLoadFailedId
	PermissionDeniedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // must never be empty, because we need to have docs about all issue types
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	noRuntimeAvailableIssue = &Issue{
		id: NoRuntimeAvailableId,
		mdMsg: `
# No container runtime available!

venvoy needs at least one container runtime, but none of the supported ones
answered its health probe.

## Supported runtimes (checked in priority order):
- **Docker** (default on workstations)
- **Podman** (rootless alternative)
- **Apptainer** (default on HPC clusters)
- **Singularity** (legacy Apptainer)

## Things you can try:
- On a workstation, install Docker or Podman:
  - https://docs.docker.com/get-docker/
  - ` + "`brew install podman`" + ` / ` + "`sudo apt install podman`" + `
- On an HPC cluster, load the site's Apptainer or Singularity module:
~~~
$ module load apptainer
~~~
- If a runtime is installed but unhealthy, check that its daemon is running:
~~~
$ docker info
~~~
- See exactly what venvoy probed:
~~~
$ venvoy runtime-info
~~~`,
	}

	environmentExistsIssue = &Issue{
		id: EnvironmentExistsId,
		mdMsg: `
# Environment already exists!

An environment with that name is already initialized, and init never
overwrites existing state.

## Things you can try:
- List your environments:
~~~
$ venvoy list
~~~

- Pick a different name:
~~~
$ venvoy init my-analysis-2
~~~

- Or remove the old one first (this deletes its snapshots too):
~~~
$ venvoy remove my-analysis
~~~`,
	}

	environmentNotFoundIssue = &Issue{
		id: EnvironmentNotFoundId,
		mdMsg: `
# Environment not found!

No environment with that name exists in the store.

## Things you can try:
- List your environments:
~~~
$ venvoy list
~~~

- Check for typos in the name
- Initialize it if it is new:
~~~
$ venvoy init my-analysis --track python
~~~`,
	}

	environmentBusyIssue = &Issue{
		id: EnvironmentBusyId,
		mdMsg: `
# Environment is busy!

Another venvoy process holds the lock on this environment. Mutating
operations are serialized per environment to keep its metadata consistent.

## Things you can try:
- Wait for the other venvoy command to finish and retry
- Check for venvoy processes you forgot about:
~~~
$ ps aux | grep venvoy
~~~

- If a crashed process left the lock behind, remove the lock file inside
  the environment directory and retry`,
	}

	architectureMismatchIssue = &Issue{
		id: ArchitectureMismatchId,
		mdMsg: `
# Archive architecture mismatch!

This archive carries binary payloads built for a different CPU architecture
than this machine. Importing it would produce an environment that cannot run.

## Things you can try:
- Import on a machine with the matching architecture
- Ask the exporter to produce a portable recipe archive instead; recipes
  rebuild from source and work on any architecture:
~~~
$ venvoy export my-analysis --format recipe
~~~

- Wheelhouse archives carry wheels for every supported architecture, so
  they import anywhere:
~~~
$ venvoy export my-analysis --format wheelhouse
~~~`,
	}

	imageBuildFailedIssue = &Issue{
		id: ImageBuildFailedId,
		mdMsg: `
# Image build failed!

The container runtime could not build the environment image from its recipe.

## Common causes:
- Network failure while fetching the base image or packages
- A pinned package version that no longer exists upstream
- Insufficient disk space for build layers

## Things you can try:
- Re-run with verbose output to see the runtime's build log:
~~~
$ venvoy --verbose rebuild my-analysis
~~~

- Check connectivity to the registry and package indexes
- Rebuild without the cache in case a stale layer is poisoned:
~~~
$ venvoy rebuild my-analysis --no-cache
~~~`,
	}

	archiveInvalidIssue = &Issue{
		id: ArchiveInvalidId,
		mdMsg: `
# Invalid archive!

The file does not look like a venvoy archive: its manifest is missing,
malformed, or not the first entry.

## Things you can try:
- Verify you are importing the file the export produced, not a re-packed copy
- Check the file was not truncated in transfer:
~~~
$ tar -tzf my-analysis-recipe.tar.gz | head
~~~
  The first entry must be ` + "`manifest.yaml`" + `.

- Re-export from the source machine if the archive is damaged`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the venvoy configuration file.

## Configuration file locations:
- Linux: ~/.config/venvoy/config.cue
- macOS: ~/Library/Application Support/venvoy/config.cue
- Windows: %APPDATA%\venvoy\config.cue

## Things you can try:
- Create a default configuration:
~~~
$ venvoy config init
~~~

- Check the configuration syntax
- Remove the config file to use defaults:
~~~
$ rm ~/.config/venvoy/config.cue
~~~

## Example configuration:
~~~cue
runtime: "podman"  // preferred runtime; still must pass its health probe

cluster: {
  scheduler_vars: ["FLUX_JOB_ID"]       // extends the built-in list
  hostname_patterns: ["frontier"]
}

ui: {
  verbose: false
}
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to perform this operation.

## Common causes:
- The environment store directory is not writable
- The container runtime requires group membership
- Importing an archive into a read-only location

## Things you can try:
- Check ownership of the store directory (usually ~/.local/share/venvoy)
- For daemon runtimes, ensure you're in the docker/podman group:
~~~
$ sudo usermod -aG docker $USER
~~~

- On clusters, prefer Apptainer; it needs no elevated permissions`,
	}

	issues = map[Id]*Issue{
		noRuntimeAvailableIssue.Id():   noRuntimeAvailableIssue,
		environmentExistsIssue.Id():    environmentExistsIssue,
		environmentNotFoundIssue.Id():  environmentNotFoundIssue,
		environmentBusyIssue.Id():      environmentBusyIssue,
		architectureMismatchIssue.Id(): architectureMismatchIssue,
		imageBuildFailedIssue.Id():     imageBuildFailedIssue,
		archiveInvalidIssue.Id():       archiveInvalidIssue,
		configLoadFailedIssue.Id():     configLoadFailedIssue,
		permissionDeniedIssue.Id():     permissionDeniedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
