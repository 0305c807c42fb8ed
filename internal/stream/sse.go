package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"fleetcall/internal/calls"
	"fleetcall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SSEHandler serves the live call event stream over Server-Sent Events.
//
// Query parameters callId and recipientId narrow the stream to one
// call or recipient; without them every event passes. The handler
// emits one synthetic "connected" event before any live event and
// deregisters the subscriber when the client goes away.
func SSEHandler(bus *Bus) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		callID := c.Query("callId")
		recipientID := c.Query("recipientId")

		sub := bus.Subscribe(32)
		defer bus.Unsubscribe(sub)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		writeSSE(c, calls.CallEvent{Type: calls.EventConnected, Timestamp: time.Now().UTC()})
		flusher.Flush()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				log.Debug("stream client disconnected", "dropped", sub.Dropped())
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if !matches(ev, callID, recipientID) {
					continue
				}
				writeSSE(c, ev)
				flusher.Flush()
			}
		}
	}
}

func matches(ev calls.CallEvent, callID, recipientID string) bool {
	if callID != "" {
		if ev.Call == nil || ev.Call.ID != callID {
			return false
		}
	}
	if recipientID != "" {
		rid := ""
		if ev.Recipient != nil {
			rid = ev.Recipient.ID
		} else if ev.Call != nil {
			rid = ev.Call.RecipientID
		}
		if rid != recipientID {
			return false
		}
	}
	return true
}

func writeSSE(c *gin.Context, ev calls.CallEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.Writer.WriteString("data: ")
	c.Writer.Write(data)
	c.Writer.WriteString("\n\n")
}
