// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"slices"
)

// Id identifies an entry of the issue catalogue.
type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	ConfigInvalidId
	DuplicateOperationId
	UnresolvableExecutableId
	InvalidOperationKeyId
	OperationNotFoundId
	VenueNotRunningId
	TransportStartFailedId
	InvocationFailedId
)

const docsBase = "https://github.com/invowk/cougar/blob/main/docs/"

type (
	// MarkdownMsg is the Markdown body of an issue page.
	MarkdownMsg string

	// HttpLink is a documentation or reference URL.
	HttpLink string

	// Issue is a catalogue page explaining a failure and how to fix it.
	Issue struct {
		id       Id
		title    string
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

func (i *Issue) Id() Id { return i.id }

// Title is the one-line summary of the issue.
func (i *Issue) Title() string { return i.title }

func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

func (i *Issue) ExtLinks() []HttpLink { return slices.Clone(i.extLinks) }

// Markdown returns the full page source, title and links included.
func (i *Issue) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", i.title)
	sb.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			fmt.Fprintf(&sb, "- <%s>\n", link)
		}
	}
	return sb.String()
}

// Render renders the page for a terminal with the given glamour style
// ("dark", "light", "notty" or a style file path).
func (i *Issue) Render(stylePath string) (string, error) {
	return render(i.Markdown(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id:    ConfigLoadFailedId,
		title: "Configuration could not be loaded",
		mdMsg: `
The configuration file exists but could not be read or parsed as CUE.

## Things you can try
- Print the effective defaults and compare:
~~~
$ cougar config show
~~~
- Check the file for CUE syntax errors; the message above names the line.
- Remove the file to fall back to the built-in defaults.`,
		docLinks: []HttpLink{docsBase + "configuration.md"},
		extLinks: []HttpLink{"https://cuelang.org/docs/tour/"},
	}

	configInvalidIssue = &Issue{
		id:    ConfigInvalidId,
		title: "Configuration is invalid",
		mdMsg: `
The configuration parsed, but a value is outside its allowed range.

## Rules
- Timeouts are milliseconds and must not be negative; 0 disables the limit.
- ` + "`executor.workers`" + ` and ` + "`executor.queue_size`" + ` must be positive.
- ` + "`qos.rps`" + ` must be positive when ` + "`qos.enabled`" + ` is true.
- Timeout keys look like ` + "`ns:Service/v1.0/operation`" + ` or ` + "`Service/v1.0/operation`" + `.

Environment variables prefixed with ` + "`COUGAR_`" + ` override file values.`,
		docLinks: []HttpLink{docsBase + "configuration.md"},
	}

	duplicateOperationIssue = &Issue{
		id:    DuplicateOperationId,
		title: "Operation registered twice",
		mdMsg: `
A service was deployed twice into the same namespace, or two services declare
the same operation key.

## Things you can try
- Deploy the second copy under a different namespace.
- Remove the duplicate deployment.

The default namespace also registers every operation under ` + "`_inprocess`" + `,
so that namespace cannot be used explicitly.`,
		docLinks: []HttpLink{docsBase + "namespaces.md"},
	}

	unresolvableExecutableIssue = &Issue{
		id:    UnresolvableExecutableId,
		title: "No implementation for a declared operation",
		mdMsg: `
The service definition declares an operation that its resolver cannot serve.
Registration is all or nothing, so no operation of the service was added.

## Things you can try
- Bind a handler for every declared operation.
- Remove the operation from the service definition.`,
		docLinks: []HttpLink{docsBase + "services.md"},
	}

	invalidOperationKeyIssue = &Issue{
		id:    InvalidOperationKeyId,
		title: "Malformed operation key",
		mdMsg: `
Operation keys have the form:

~~~
[namespace:]Service/vMAJOR.MINOR/operation[#event]
~~~

Names may not contain ` + "`/`" + `, ` + "`:`" + ` or ` + "`#`" + `.`,
		docLinks: []HttpLink{docsBase + "operations.md"},
	}

	operationNotFoundIssue = &Issue{
		id:    OperationNotFoundId,
		title: "Operation not found",
		mdMsg: `
The venue has no operation under the requested key. Lookups never fall back
across namespaces.

## Things you can try
- List what the venue serves:
~~~
$ cougar operations
~~~
- Check the namespace prefix and the version of the key.`,
		docLinks: []HttpLink{docsBase + "operations.md"},
	}

	venueNotRunningIssue = &Issue{
		id:    VenueNotRunningId,
		title: "Venue is not running",
		mdMsg: `
Requests are refused with ` + "`ServiceDisabled`" + ` before the venue starts and
once it begins shutting down.`,
		docLinks: []HttpLink{docsBase + "lifecycle.md"},
	}

	transportStartFailedIssue = &Issue{
		id:    TransportStartFailedId,
		title: "Transport failed to start",
		mdMsg: `
A listener could not be opened.

## Things you can try
- Check that the address in ` + "`transport.http_addr`" + ` or ` + "`transport.ssh_addr`" + ` is free.
- Set the address to an empty string to disable that transport.`,
		docLinks: []HttpLink{docsBase + "transports.md"},
	}

	invocationFailedIssue = &Issue{
		id:    InvocationFailedId,
		title: "Invocation failed",
		mdMsg: `
The operation ran and reported a fault. The fault code and detail code
identify the cause; framework faults point at the venue, checked and
unchecked faults at the service.`,
		docLinks: []HttpLink{docsBase + "faults.md"},
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():       configLoadFailedIssue,
		configInvalidIssue.Id():          configInvalidIssue,
		duplicateOperationIssue.Id():     duplicateOperationIssue,
		unresolvableExecutableIssue.Id(): unresolvableExecutableIssue,
		invalidOperationKeyIssue.Id():    invalidOperationKeyIssue,
		operationNotFoundIssue.Id():      operationNotFoundIssue,
		venueNotRunningIssue.Id():        venueNotRunningIssue,
		transportStartFailedIssue.Id():   transportStartFailedIssue,
		invocationFailedIssue.Id():       invocationFailedIssue,
	}
)

// Values returns the catalogue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return out
}

// Get returns the issue with the given id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
