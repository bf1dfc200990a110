// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"

	"github.com/charmbracelet/glamour"
)

// Id identifies a catalog entry.
type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	TemplateNotFoundId
	FallbackDatabaseInvalidId
	TagFileInvalidId
	ManifestValidationFailedId
	DegradedImagesId
	CheckpointWriteFailedId
	ContainerEngineNotFoundId
)

// MarkdownMsg is Markdown guidance rendered to the terminal.
type MarkdownMsg string

// Issue is a catalog entry with Markdown guidance for a failure class.
type Issue struct {
	id    Id
	mdMsg MarkdownMsg
}

// Id returns the catalog identifier.
func (i *Issue) Id() Id {
	return i.id
}

// MarkdownMsg returns the raw Markdown text.
func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// Render renders the guidance with the given glamour style ("dark", "light", "notty").
func (i *Issue) Render(stylePath string) (string, error) {
	return render(string(i.mdMsg), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration

The configuration file could not be read or does not match the schema.

## Things you can try:
- Print the effective configuration:
~~~
$ rtpi config show
~~~
- Check the file for CUE syntax errors and unknown keys.
- Remove the file to fall back to built-in defaults.`,
	}

	templateNotFoundIssue = &Issue{
		id: TemplateNotFoundId,
		mdMsg: `
# Manifest template not found

The compose template could not be read, so no manifest was generated.
The previous manifest (if any) was left untouched.

## Things you can try:
- Pass the template explicitly:
~~~
$ rtpi generate --template ./docker-compose.template.yml
~~~
- Set ` + "`paths.template`" + ` in your configuration file.`,
	}

	fallbackDatabaseInvalidIssue = &Issue{
		id: FallbackDatabaseInvalidId,
		mdMsg: `
# Fallback database is missing or malformed

The image fallback database lists every required image and its ordered
alternatives. Without it, images cannot be resolved.

## Expected format (TOML):
~~~toml
[fallbacks]
"ghcr.io/acme/app:latest" = "ghcr.io/acme/app:stable,ghcr.io/acme/app:1.4"

[[images]]
variable = "APP_IMAGE"
image    = "ghcr.io/acme/app:latest"
default  = "ghcr.io/acme/app:1.4"
~~~`,
	}

	tagFileInvalidIssue = &Issue{
		id: TagFileInvalidId,
		mdMsg: `
# Resolved-tag file has malformed lines

Lines without ` + "`=`" + ` were skipped. Every record must look like:
~~~
APP_IMAGE=ghcr.io/acme/app:stable
~~~
Re-run ` + "`rtpi resolve`" + ` to regenerate the file.`,
	}

	manifestValidationFailedIssue = &Issue{
		id: ManifestValidationFailedId,
		mdMsg: `
# Rendered manifest failed validation

The new manifest was rejected and **not** written. The previous good
manifest is still in place.

## Things you can try:
- Make sure the template declares the top-level sections
  ` + "`services`, `networks` and `volumes`" + `.
- Validate the current manifest on its own:
~~~
$ rtpi validate
~~~`,
	}

	degradedImagesIssue = &Issue{
		id: DegradedImagesId,
		mdMsg: `
# Some images resolved to hardcoded defaults

Neither the primary image nor any listed fallback was available, so the
built-in default was used. The stack will start, but these services may run
an older release.

## Things you can try:
- Check registry connectivity and re-run ` + "`rtpi resolve`" + `.
- Add newer alternatives to the fallback database.`,
	}

	checkpointWriteFailedIssue = &Issue{
		id: CheckpointWriteFailedId,
		mdMsg: `
# Could not record installer progress

The step finished but its checkpoint could not be written, so it will run
again next time. Check free disk space and permissions of the checkpoint
directory, or reset progress with:
~~~
$ rtpi reset
~~~`,
	}

	containerEngineNotFoundIssue = &Issue{
		id: ContainerEngineNotFoundId,
		mdMsg: `
# No container engine found

Engine-backed manifest validation needs ` + "`docker`" + ` or ` + "`podman`" + ` with the
compose plugin on your PATH. Set ` + "`compose.validator: \"yaml\"`" + ` to validate
without an engine.`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		templateNotFoundIssue.Id():         templateNotFoundIssue,
		fallbackDatabaseInvalidIssue.Id():  fallbackDatabaseInvalidIssue,
		tagFileInvalidIssue.Id():           tagFileInvalidIssue,
		manifestValidationFailedIssue.Id(): manifestValidationFailedIssue,
		degradedImagesIssue.Id():           degradedImagesIssue,
		checkpointWriteFailedIssue.Id():    checkpointWriteFailedIssue,
		containerEngineNotFoundIssue.Id():  containerEngineNotFoundIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	out := slices.Collect(maps.Values(issues))
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

// Get returns the catalog entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
