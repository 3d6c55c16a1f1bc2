package websocket

import (
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/queue"
)

// TopicAllJobs is the firehose topic carrying every job's lifecycle
// events. Per-job topics are "job:<id>".
const TopicAllJobs = "jobs"

// JobTopic returns the per-job topic name.
func JobTopic(id string) string { return "job:" + id }

// BridgeQueue subscribes the hub to the queue's in-process event feed so
// every lifecycle transition is pushed to the per-job topic and the
// firehose. Call once at startup, before the worker starts.
func BridgeQueue(q *queue.Queue, hub *Hub) {
	q.Subscribe(func(ev queue.Event) {
		msg := Message{
			Type:  messageType(ev.Type),
			Topic: JobTopic(ev.JobID),
			Payload: JobEventPayload{
				JobID:     ev.JobID,
				Timestamp: ev.Timestamp,
				Reason:    ev.Reason,
			},
		}
		hub.Publish(msg.Topic, msg)

		msg.Topic = TopicAllJobs
		hub.Publish(TopicAllJobs, msg)
	})
}

func messageType(t queue.EventType) MessageType {
	switch t {
	case queue.EventActive:
		return MsgJobActive
	case queue.EventCompleted:
		return MsgJobCompleted
	case queue.EventFailed:
		return MsgJobFailed
	case queue.EventRetrying:
		return MsgJobRetrying
	case queue.EventStalled:
		return MsgJobStalled
	default:
		return MsgJobWaiting
	}
}
