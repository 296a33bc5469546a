// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/invowk/pyfreeze/internal/issue"
)

// ServiceError pairs a command failure with the help page that explains it.
// The page is printed above the one-line error. Err is never nil.
type ServiceError struct {
	Err error
	// IssueID selects the help page; zero means none.
	IssueID issue.Id
}

func newServiceError(err error, issueID issue.Id) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{Err: err, IssueID: issueID}
}

func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns Err.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError writes the help page attached to svcErr.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil || svcErr.IssueID == 0 {
		return
	}

	page := issue.Get(svcErr.IssueID)
	if page == nil {
		return
	}
	out, err := page.Render("dark")
	if err != nil {
		slog.Warn("cannot render help page", "issue", svcErr.IssueID, "error", err)
		return
	}
	fmt.Fprint(stderr, out)
}

// formatErrorForDisplay prefers the hint-bearing form of actionable errors.
func formatErrorForDisplay(err error, verbose bool) string {
	var actionable *issue.ActionableError
	if errors.As(err, &actionable) {
		return actionable.Format(verbose)
	}
	return err.Error()
}

// fail renders err on stderr and turns it into an ExitError so that the
// error is not printed a second time.
func (app *App) fail(cmd *cobra.Command, err error) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		renderServiceError(app.stderr, svcErr)
	}
	fmt.Fprintf(app.stderr, "%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, app.verbose))
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: ExitFailure, Err: err}
}
