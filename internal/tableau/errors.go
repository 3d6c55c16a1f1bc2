package tableau

import "errors"

// Sentinel errors for the failure taxonomy of the remote client. Callers
// compare with errors.Is; the wrapped messages carry site, workbook or
// view detail.
var (
	// ErrCredentialsMissing is returned when neither per-site nor global
	// personal-access-token credentials are configured.
	ErrCredentialsMissing = errors.New("tableau: credentials not configured")

	// ErrAuthFailed is returned when the sign-in request is rejected.
	// Transient by nature — the queue's retry/backoff handles it.
	ErrAuthFailed = errors.New("tableau: authentication failed")

	// ErrWorkbookNotFound is returned when no workbook matches the
	// configured contentUrl on the site.
	ErrWorkbookNotFound = errors.New("tableau: workbook not found")

	// ErrViewListingFailed is returned when the views of a workbook cannot
	// be enumerated.
	ErrViewListingFailed = errors.New("tableau: view listing failed")

	// ErrViewFetchFailed marks a single view fetch failure. Non-fatal to a
	// batch: the view is skipped and logged.
	ErrViewFetchFailed = errors.New("tableau: view fetch failed")
)
