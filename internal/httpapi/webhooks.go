package httpapi

import (
	"errors"
	"net/http"
	"time"

	"fleetcall/internal/calls"
	"fleetcall/internal/stream"
	"fleetcall/internal/telephony"
	"fleetcall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandlers receives provider callbacks. Providers retry on
// non-2xx, so anything we cannot act on but did understand is
// acknowledged with 200; only a payload the sender should fix earns a
// 400.

type WebhookHandlers struct {
	Store      calls.Store
	Lifecycle  *calls.Lifecycle
	Normalizer *telephony.Normalizer
	Bus        *stream.Bus
}

// Receive handles POST /webhooks/:provider.
func (h WebhookHandlers) Receive(c *gin.Context) {
	log := logger.FromGin(c)
	provider := c.Param("provider")

	body, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ev, err := h.Normalizer.Normalize(provider, body)
	switch {
	case err == nil:
	case errors.Is(err, telephony.ErrMalformedPayload):
		log.Warn("malformed webhook", "provider", provider, "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	case errors.Is(err, telephony.ErrUnsupportedProvider):
		// Acknowledge so a stale provider config does not retry forever.
		log.Warn("webhook for unregistered provider", "provider", provider)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	default:
		log.Error("webhook normalization failed", "provider", provider, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "normalization failed"})
		return
	}

	call, err := h.Store.GetCallByProviderID(c.Request.Context(), ev.ProviderCallID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			// Late delivery for a call we never tracked, or a test ping.
			log.Info("webhook for unknown call", "provider", provider, "provider_call_id", ev.ProviderCallID)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		log.Error("webhook call lookup failed", "provider_call_id", ev.ProviderCallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if ev.Terminal != nil {
		_, err := h.Lifecycle.Transition(c.Request.Context(), call.ID, ev.Terminal.Status, ev.Terminal.Fields)
		if err != nil {
			if errors.Is(err, calls.ErrInvalidTransition) {
				// The call moved on; the delivery is obsolete, not wrong.
				log.Info("obsolete terminal webhook", "call_id", call.ID, "raw_status", ev.RawStatus)
				c.JSON(http.StatusOK, gin.H{"received": true})
				return
			}
			log.Error("terminal transition failed", "call_id", call.ID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transition failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	// Mid-call update: fan out to live streams, no durable change.
	if h.Bus != nil {
		msg := ev.Message
		if ev.Type == calls.EventTranscript {
			msg = ev.Transcript
		}
		h.Bus.Publish(calls.CallEvent{
			Type:      ev.Type,
			Timestamp: time.Now().UTC(),
			Call:      &call,
			Message:   msg,
		})
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Verify handles GET /webhooks/:provider, the endpoint liveness probe
// some provider dashboards issue when a webhook URL is saved.
func (h WebhookHandlers) Verify(c *gin.Context) {
	if challenge := c.Query("challenge"); challenge != "" {
		c.String(http.StatusOK, challenge)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "provider": c.Param("provider")})
}
