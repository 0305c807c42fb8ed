package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"fleetcall/internal/audit"
	"fleetcall/internal/auth"
	"fleetcall/internal/cache"
	"fleetcall/internal/calls"
	"fleetcall/internal/dialer"
	"fleetcall/internal/telephony"
	"fleetcall/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Store    calls.Store
	Dialer   *dialer.Service
	Registry *telephony.Registry
	Audit    *audit.Service

	Cache    *cache.Cache
	StatsTTL time.Duration
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Dialer ---

// ProcessDialer runs one dispatch batch. The route is guarded by the
// trigger secret, so both cron and an operator "run now" button land
// here.
func (h Handlers) ProcessDialer(c *gin.Context) {
	res, err := h.Dialer.ProcessScheduledCalls(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("dispatch run failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch run failed"})
		return
	}

	if h.Audit != nil {
		uid, _ := auth.UserID(c.Request.Context())
		if err := h.Audit.LogDialerRun(c.Request.Context(), uid, c.ClientIP(), res.Processed, res.Started, res.Failed); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

// --- Calls ---

type startCallRequest struct {
	RecipientID string `json:"recipient_id"`
	Provider    string `json:"provider,omitempty"`
}

func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.RecipientID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "recipient_id required"})
		return
	}
	if req.Provider != "" && !h.Registry.Known(req.Provider) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown provider %q", req.Provider)})
		return
	}

	call, err := h.Dialer.StartCall(c.Request.Context(), req.RecipientID, req.Provider)
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "recipient not found"})
		return
	case errors.Is(err, dialer.ErrNotEligible):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "recipient not eligible"})
		return
	case errors.Is(err, telephony.ErrInvalidCredentials), errors.Is(err, telephony.ErrNotConfigured):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider not usable"})
		return
	default:
		logger.FromGin(c).Error("start call failed", "recipient_id", req.RecipientID, "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call dispatch failed"})
		return
	}

	if h.Audit != nil {
		uid, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		if err := h.Audit.LogCallStart(c.Request.Context(), uid, role, c.ClientIP(), call.ID, call.RecipientID, call.Provider); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) GetCall(c *gin.Context) {
	id := c.Param("id")
	call, err := h.Store.GetCall(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		logger.FromGin(c).Error("call lookup failed", "call_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// Hangup ends a call. An unknown or already-ended call id is treated as
// success so dashboard cleanup can be retried blindly.
func (h Handlers) Hangup(c *gin.Context) {
	id := c.Param("id")
	if err := h.Dialer.Hangup(c.Request.Context(), id); err != nil {
		logger.FromGin(c).Error("hangup failed", "call_id", id, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		return
	}

	if h.Audit != nil {
		uid, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		if err := h.Audit.LogCallHangup(c.Request.Context(), uid, role, c.ClientIP(), id); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Stats ---

const statsCacheKey = "stats"

type cachedStats struct {
	stats    calls.Stats
	cachedAt time.Time
}

// Stats serves the dashboard aggregate through the TTL cache. X-Cache
// tells the dashboard whether it got a fresh or cached value, and
// Cache-Control carries the remaining freshness window.
func (h Handlers) Stats(c *gin.Context) {
	if h.Cache != nil {
		if v, ok := h.Cache.Get(statsCacheKey); ok {
			cs := v.(cachedStats)
			remaining := h.StatsTTL - time.Since(cs.cachedAt)
			if remaining < 0 {
				remaining = 0
			}
			c.Header("X-Cache", "HIT")
			c.Header("Cache-Control", fmt.Sprintf("max-age=%d", int(remaining.Seconds())))
			c.JSON(http.StatusOK, cs.stats)
			return
		}
	}

	stats, err := h.Store.Stats(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("stats query failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}
	if h.Cache != nil {
		h.Cache.Set(statsCacheKey, cachedStats{stats: stats, cachedAt: time.Now()}, h.StatsTTL)
	}
	c.Header("X-Cache", "MISS")
	c.Header("Cache-Control", fmt.Sprintf("max-age=%d", int(h.StatsTTL.Seconds())))
	c.JSON(http.StatusOK, stats)
}

// --- Providers ---

// Providers reports adapter status for the settings screen. Info never
// contains secrets.
func (h Handlers) Providers(c *gin.Context) {
	all := h.Registry.All()
	out := make([]telephony.Info, 0, len(all))
	for _, p := range all {
		out = append(out, p.Config())
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}
