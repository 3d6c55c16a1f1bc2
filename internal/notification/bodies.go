package notification

import (
	"fmt"
	"html"
)

// SuccessBody is the HTML body of the delivery email that carries the
// generated report.
func SuccessBody(useCase, fileName string) string {
	return fmt.Sprintf(`<html><body>
<p>Hi,</p>
<p>Your <strong>%s</strong> export is ready. The report is attached as <em>%s</em>.</p>
<p>Regards,<br/>The Reporting Team</p>
</body></html>`, html.EscapeString(useCase), html.EscapeString(fileName))
}

// FailureBody is the HTML body of the failure notification, naming the
// use case and a short error summary.
func FailureBody(useCase, errSummary string) string {
	return fmt.Sprintf(`<html><body>
<p>Hi,</p>
<p>We could not generate your <strong>%s</strong> export.</p>
<p>Reason: %s</p>
<p>Please try again, or contact the reporting team if the problem persists.</p>
</body></html>`, html.EscapeString(useCase), html.EscapeString(errSummary))
}
