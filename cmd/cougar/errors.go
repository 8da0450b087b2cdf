// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"

	"github.com/invowk/cougar/internal/issue"
	"github.com/invowk/cougar/internal/venue"
	"github.com/invowk/cougar/pkg/fault"
	"github.com/invowk/cougar/pkg/operation"
)

// formatErrorForDisplay formats an error for user display. Actionable
// errors use their own formatting; verbose mode shows the full chain.
func formatErrorForDisplay(err error, verbose bool) string {
	if ae, ok := issue.Find(err); ok {
		return ae.Format(verbose)
	}
	return err.Error()
}

// actionable attaches an issue page and suggestions to well-known errors.
// Errors that already carry an issue are returned unchanged.
func actionable(err error, opName, resource string) error {
	if err == nil {
		return nil
	}
	if _, ok := issue.Find(err); ok {
		return err
	}

	ctx := issue.NewErrorContext().WithOperation(opName).WithResource(resource).Wrap(err)
	switch {
	case errors.Is(err, venue.ErrDuplicateOperation):
		ctx.WithIssue(issue.DuplicateOperationId).
			WithSuggestion("Deploy the service under a different namespace")
	case errors.Is(err, venue.ErrUnresolvableExecutable):
		ctx.WithIssue(issue.UnresolvableExecutableId).
			WithSuggestion("Bind every declared operation in the service resolver")
	case errors.Is(err, operation.ErrInvalidKey), errors.Is(err, operation.ErrInvalidVersion):
		ctx.WithIssue(issue.InvalidOperationKeyId).
			WithSuggestion("Keys look like [namespace:]Service/v1.0/operation, with #event for subscriptions")
	case fault.HasCode(err, fault.NoSuchOperation):
		ctx.WithIssue(issue.OperationNotFoundId).
			WithSuggestion("Run 'cougar operations' to list registered keys")
	case fault.HasCode(err, fault.ServiceDisabled):
		ctx.WithIssue(issue.VenueNotRunningId)
	default:
		var f *fault.Fault
		if errors.As(err, &f) {
			ctx.WithIssue(issue.InvocationFailedId)
		}
	}
	return ctx.BuildError()
}
