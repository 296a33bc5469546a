// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"maps"
	"slices"

	"github.com/charmbracelet/glamour"
)

type Id int

const (
	FileNotFoundId Id = iota + 1
	ConfigLoadFailedId
	UnsupportedPythonVersionId
	CompileFailedId
	MissingModulesId
	InvalidRelativeImportId
	HookLoadFailedId
	CacheUnavailableId
	ExportFailedId
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

	fileNotFoundIssue = &Issue{
		id: FileNotFoundId,
		mdMsg: `
# Script not found!

pyfreeze could not read one of the entry-point scripts you passed.

## Things you can try:
- Check the path and run the command from the project directory
- Pass compiled entry points (` + "`.pyc`" + `) directly if the source is not shipped`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Your pyfreeze.cue could not be parsed or does not match the schema.

## Things you can try:
- Check the error message above for the offending field
- Print the effective configuration:
~~~
$ pyfreeze config show
~~~
- Remove PYFREEZE_* environment variables that override the file`,
	}

	unsupportedPythonVersionIssue = &Issue{
		id: UnsupportedPythonVersionId,
		mdMsg: `
# Unsupported Python version!

pyfreeze decodes bytecode of CPython 3.8, 3.9 and 3.10 only.

## Things you can try:
- Set the version that produced your ` + "`__pycache__`" + ` files:
~~~cue
python: version: "3.10"
~~~
- Recompile the project with a supported interpreter`,
	}

	compileFailedIssue = &Issue{
		id: CompileFailedId,
		mdMsg: `
# Source files could not be compiled!

Source modules without a fresh ` + "`__pycache__`" + ` entry are compiled with the
configured interpreter, and that failed.

## Things you can try:
- Configure an interpreter of the analyzed version:
~~~
$ pyfreeze analyze --python "python3.10" main.py
~~~
- Run ` + "`python -m compileall`" + ` on the project first
- Fix the syntax error reported by the interpreter`,
	}

	missingModulesIssue = &Issue{
		id: MissingModulesId,
		mdMsg: `
# Required modules are missing!

Some imports that run unconditionally could not be resolved, so the frozen
program would fail at start-up.

## Things you can try:
- Add the directories holding them to ` + "`search_path`" + `
- Install the missing distributions into the analyzed site-packages
- Exclude modules that are never used at run time:
~~~cue
excludes: ["tests", "tests.**"]
~~~`,
	}

	invalidRelativeImportIssue = &Issue{
		id: InvalidRelativeImportId,
		mdMsg: `
# Relative import beyond the top-level package!

A ` + "`from .. import x`" + ` statement climbs above its top-level package. The
import fails on every run.

## Things you can try:
- Run the script as part of its package instead of as a top-level file
- Replace the relative import with an absolute one`,
	}

	hookLoadFailedIssue = &Issue{
		id: HookLoadFailedId,
		mdMsg: `
# Failed to load hooks!

A ` + "`hook-<module>.toml`" + ` file in one of the hook directories is invalid.

## Things you can try:
- List the hooks that did load:
~~~
$ pyfreeze hooks list
~~~
- Check the keys: hiddenimports, excludedimports, datas and [attributes]`,
	}

	cacheUnavailableIssue = &Issue{
		id: CacheUnavailableId,
		mdMsg: `
# Scan cache unavailable!

The configured Redis scan cache could not be reached.

## Things you can try:
- Check ` + "`cache.redis_url`" + ` and that the server is running
- Fall back to the in-process cache:
~~~
$ PYFREEZE_CACHE_BACKEND=memory pyfreeze analyze main.py
~~~`,
	}

	exportFailedIssue = &Issue{
		id: ExportFailedId,
		mdMsg: `
# Failed to export the module graph!

One of the configured report destinations rejected the result.

## Things you can try:
- Check the Neo4j URI and credentials in ` + "`report.neo4j`" + `
- Check that the SQLite and metrics paths are writable
- Run with --verbose for the full error chain`,
	}

	issues = map[Id]*Issue{
		fileNotFoundIssue.Id():             fileNotFoundIssue,
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		unsupportedPythonVersionIssue.Id(): unsupportedPythonVersionIssue,
		compileFailedIssue.Id():            compileFailedIssue,
		missingModulesIssue.Id():           missingModulesIssue,
		invalidRelativeImportIssue.Id():    invalidRelativeImportIssue,
		hookLoadFailedIssue.Id():           hookLoadFailedIssue,
		cacheUnavailableIssue.Id():         cacheUnavailableIssue,
		exportFailedIssue.Id():             exportFailedIssue,
	}
)

// Values returns every issue ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
}

func Get(id Id) *Issue {
	return issues[id]
}
