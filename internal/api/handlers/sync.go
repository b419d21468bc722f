package handlers

import (
	"context"
	"net/http"

	"catalogsync/internal/logger"
	"catalogsync/internal/syncer"

	"github.com/gin-gonic/gin"
)

// Enqueuer hands admitted push requests to the background worker.
type Enqueuer interface {
	PublishSync(ctx context.Context, skus []string, fullSync bool) error
}

type SyncHandler struct {
	engine *syncer.Engine
	pusher *syncer.Pusher
	queue  Enqueuer
	logger *logger.Logger
}

// NewSyncHandler builds the sync endpoints. queue may be nil, in which case
// async push requests are processed inline.
func NewSyncHandler(engine *syncer.Engine, pusher *syncer.Pusher, queue Enqueuer, logger *logger.Logger) *SyncHandler {
	return &SyncHandler{engine: engine, pusher: pusher, queue: queue, logger: logger}
}

type syncRequest struct {
	Force    bool  `json:"force"`
	FullSync *bool `json:"full_sync"`
}

func (r syncRequest) options() syncer.Options {
	opts := syncer.DefaultOptions()
	opts.Force = r.Force
	if r.FullSync != nil {
		opts.FullSync = *r.FullSync
	}
	return opts
}

// Product syncs one product on demand. The response status is the sync
// result's status code.
func (h *SyncHandler) Product(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req syncRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	res := h.engine.SyncProduct(c.Request.Context(), id, req.options())
	c.JSON(res.StatusCode, res)
}

func (h *SyncHandler) Variation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req syncRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	res := h.engine.SyncVariation(c.Request.Context(), id, req.options())
	c.JSON(res.StatusCode, res)
}

type pushRequest struct {
	SKUs     []string `json:"skus" binding:"required"`
	FullSync *bool    `json:"full_sync"`
	Async    bool     `json:"async"`
}

// Push handles SKU lists announced by an external system. With async set and
// a queue configured the SKUs are queued and 202 is returned.
func (h *SyncHandler) Push(c *gin.Context) {
	var req pushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !req.Async || h.queue == nil {
		resp, err := h.pusher.Push(c.Request.Context(), req.SKUs, req.FullSync)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	skus, err := h.pusher.Admit(c.Request.Context(), req.SKUs)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	full := true
	if req.FullSync != nil {
		full = *req.FullSync
	}
	if err := h.queue.PublishSync(c.Request.Context(), skus, full); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"queued":          len(skus),
		"rate_window_sec": h.pusher.RateWindowSeconds(),
	})
}
