package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clausewise.app/analyzer/internal/http/middleware"
	"clausewise.app/analyzer/internal/notify"
)

const defaultHeartbeat = 25 * time.Second

// EventsHandler relays the caller's progress room as Server-Sent Events.
type EventsHandler struct {
	subscriber notify.Subscriber
	heartbeat  time.Duration
}

func NewEventsHandler(subscriber notify.Subscriber, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{subscriber: subscriber, heartbeat: heartbeat}
}

func (h *EventsHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	room := notify.UserRoom(middleware.UserID(c))

	events, err := h.subscriber.Subscribe(ctx, room)
	if err != nil {
		slog.ErrorContext(ctx, "failed to subscribe to progress events", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "progress events unavailable"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(msg.Event, msg.Payload)
			c.Writer.Flush()
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		}
	}
}
