// Package websocket pushes job lifecycle events to connected clients so a
// submitter can watch a report job progress without polling the REST API.
// It uses gorilla/websocket under the hood and exposes a topic-based
// broadcast API fed from the queue's event stream.
//
// Topic naming convention:
//
//	job:<id>  — lifecycle updates for a specific job
//	jobs      — the firehose of every job's lifecycle events
package websocket

import "time"

// MessageType identifies the kind of event carried by a Message. Clients
// dispatch on this field.
type MessageType string

const (
	// MsgJobWaiting is sent when a job is enqueued or re-enters the
	// waiting list.
	MsgJobWaiting MessageType = "job.waiting"

	// MsgJobActive is sent when a worker leases the job.
	MsgJobActive MessageType = "job.active"

	// MsgJobCompleted is sent when the report was delivered.
	MsgJobCompleted MessageType = "job.completed"

	// MsgJobFailed is sent on terminal failure.
	MsgJobFailed MessageType = "job.failed"

	// MsgJobRetrying is sent when an attempt failed and a retry was
	// scheduled.
	MsgJobRetrying MessageType = "job.retrying"

	// MsgJobStalled is sent when a stalled job was requeued.
	MsgJobStalled MessageType = "job.stalled"
)

// Message is the envelope for every frame sent to clients.
//
// JSON example:
//
//	{"type":"job.retrying","topic":"job:42","payload":{"jobId":"42","reason":"..."}}
type Message struct {
	Type MessageType `json:"type"`

	// Topic is the pub/sub channel this message was published on.
	Topic string `json:"topic"`

	// Payload carries the event data: jobId, timestamp and, for
	// failed/retrying events, the reason.
	Payload JobEventPayload `json:"payload"`
}

// JobEventPayload is the payload of every job lifecycle message.
type JobEventPayload struct {
	JobID     string    `json:"jobId"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}
