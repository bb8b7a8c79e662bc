// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	WorkerUnavailableId Id = iota + 1
	HandshakeTimeoutId
	EnrollmentFailedId
	ConfigLoadFailedId
	UnresolvedReferenceId
	MaxResultsReachedId
	CompilationFailedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	slug     string      // stable name accepted by `scriptbox issues <slug>`
	title    string      // one-line summary used in listings
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) Slug() string {
	return i.slug
}

func (i *Issue) Title() string {
	return i.title
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

// Render renders the issue as terminal markdown using the glamour style at
// stylePath (or an automatic style when empty).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	if stylePath == "" {
		stylePath = "auto"
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	workerUnavailableIssue = &Issue{
		id:    WorkerUnavailableId,
		slug:  "worker-unavailable",
		title: "The worker process could not be started",
		mdMsg: `
# The worker process could not be started

Every submission runs inside a separate worker process. scriptbox tried to
start one and gave up after the configured number of attempts.

## Things you can try
- Run with debug logging to see the worker's own output:
~~~
$ SCRIPTBOX_LOG_LEVEL=debug scriptbox run
~~~
- Make sure the state directory is writable (see ` + "`scriptbox config show`" + `).
- Raise the attempt budget with ` + "`max_attempts`" + ` in your config file.`,
	}

	handshakeTimeoutIssue = &Issue{
		id:    HandshakeTimeoutId,
		slug:  "handshake-timeout",
		title: "The worker did not signal readiness in time",
		mdMsg: `
# The worker did not signal readiness in time

The worker process started but never created its readiness file, so the
controller could not connect to it.

## Things you can try
- Increase ` + "`handshake.timeout`" + ` in your config file.
- Check that the state directory is on a local filesystem; file
  notifications on network mounts can be unreliable.`,
	}

	enrollmentFailedIssue = &Issue{
		id:    EnrollmentFailedId,
		slug:  "enrollment-failed",
		title: "The worker could not be placed in a process group",
		mdMsg: `
# The worker could not be placed in a process group

Process groups make sure that everything a submission spawns is killed when
the session is reset. The operating system refused to enroll the worker, so
scriptbox will terminate it directly instead. Child processes started by
your scripts may outlive a reset.

## Things you can try
- On Windows, check whether scriptbox itself already runs inside a job
  object that forbids nested jobs.
- On Linux, make sure the process is allowed to create new process groups.`,
	}

	configLoadFailedIssue = &Issue{
		id:    ConfigLoadFailedId,
		slug:  "config-load-failed",
		title: "The configuration file could not be loaded",
		mdMsg: `
# The configuration file could not be loaded

## Things you can try
- Print the path scriptbox reads:
~~~
$ scriptbox config path
~~~
- Write a fresh default file and edit from there:
~~~
$ scriptbox config init --force
~~~
- Durations are strings such as "5s", quotas must be positive integers.`,
	}

	unresolvedReferenceIssue = &Issue{
		id:    UnresolvedReferenceId,
		slug:  "unresolved-reference",
		title: "A session reference could not be resolved",
		mdMsg: `
# A session reference could not be resolved

References are scripts sourced into every new session before your first
submission. One of them could not be found.

## Things you can try
- Relative references are resolved against the session working directory.
- Check ` + "`session.references`" + ` in your config file or the ` + "`--ref`" + ` flags.`,
	}

	maxResultsReachedIssue = &Issue{
		id:    MaxResultsReachedId,
		slug:  "max-results-reached",
		title: "A session produced more results than allowed",
		mdMsg: `
# A session produced more results than allowed

Each worker session streams at most ` + "`max_dumps`" + ` results. Once the cap is
hit a single "<max results reached>" marker is shown and further output is
dropped until the session is reset.

## Things you can try
- Reset the session with ` + "`:reset`" + ` in the REPL.
- Raise ` + "`max_dumps`" + ` in your config file.`,
	}

	compilationFailedIssue = &Issue{
		id:    CompilationFailedId,
		slug:  "compilation-failed",
		title: "A submission did not compile",
		mdMsg: `
# A submission did not compile

Submissions that fail to parse are never executed. The diagnostics list
shows the line and column of each problem.

## Things you can try
- Check quoting and unterminated blocks (` + "`if`/`fi`, `do`/`done`" + `).
- Run the snippet through ` + "`bash -n`" + ` for a second opinion.`,
	}

	issues = map[Id]*Issue{
		workerUnavailableIssue.Id():   workerUnavailableIssue,
		handshakeTimeoutIssue.Id():    handshakeTimeoutIssue,
		enrollmentFailedIssue.Id():    enrollmentFailedIssue,
		configLoadFailedIssue.Id():    configLoadFailedIssue,
		unresolvedReferenceIssue.Id(): unresolvedReferenceIssue,
		maxResultsReachedIssue.Id():   maxResultsReachedIssue,
		compilationFailedIssue.Id():   compilationFailedIssue,
	}
)

// Values returns every catalog entry ordered by id.
func Values() []*Issue {
	values := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		values = append(values, i)
	}
	slices.SortFunc(values, func(a, b *Issue) int {
		return int(a.id) - int(b.id)
	})
	return values
}

func Get(id Id) *Issue {
	return issues[id]
}

// Lookup finds an issue by numeric id or slug.
func Lookup(name string) (*Issue, bool) {
	if n, err := strconv.Atoi(name); err == nil {
		i := Get(Id(n))
		return i, i != nil
	}
	idx := slices.IndexFunc(Values(), func(i *Issue) bool { return i.slug == name })
	if idx < 0 {
		return nil, false
	}
	return Values()[idx], true
}
