package api

import (
	"net/http"

	"go.uber.org/zap"

	ws "github.com/pavan-kumar-miq/tableau-ppt-export/internal/websocket"
)

// EventsHandler upgrades GET /api/v1/jobs/events to a WebSocket that
// streams job lifecycle events. With a jobId query parameter the client
// receives that job's events only; without it, the firehose.
type EventsHandler struct {
	hub    *ws.Hub
	logger *zap.Logger
}

// NewEventsHandler creates the handler.
func NewEventsHandler(hub *ws.Hub, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{hub: hub, logger: logger.Named("events")}
}

// Stream performs the upgrade and pumps until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	topics := []string{ws.TopicAllJobs}
	if jobID := r.URL.Query().Get("jobId"); jobID != "" {
		topics = []string{ws.JobTopic(jobID)}
	}

	client, err := ws.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client.Run()
}
