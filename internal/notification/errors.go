package notification

import "errors"

// ErrSendFailed is returned when the email gateway rejects or fails to
// deliver a message. It wraps the underlying cause; callers compare with
// errors.Is.
var ErrSendFailed = errors.New("notification: send failed")
