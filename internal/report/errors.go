package report

import "errors"

// Fatal job errors surfaced as the failed reason and in the failure email.
var (
	// ErrNoViewsFetched means every remote view fetch failed; the message
	// text is user-visible.
	ErrNoViewsFetched = errors.New("No view data was successfully fetched")

	// ErrAllTransformsFailed means views were fetched but none produced
	// usable data.
	ErrAllTransformsFailed = errors.New("all view transformations failed")

	// ErrRenderFailed wraps presentation writer failures.
	ErrRenderFailed = errors.New("report: render failed")

	// ErrEmailFailed wraps delivery failures of the report email.
	ErrEmailFailed = errors.New("report: email delivery failed")
)
