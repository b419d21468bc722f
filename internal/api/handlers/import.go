package handlers

import (
	"net/http"

	"catalogsync/internal/importer"
	"catalogsync/internal/jobs"
	"catalogsync/internal/logger"
	"catalogsync/internal/staging"

	"github.com/gin-gonic/gin"
)

type ImportHandler struct {
	orch    *importer.Orchestrator
	staging *staging.Store
	ledger  *jobs.Ledger
	logger  *logger.Logger
}

func NewImportHandler(orch *importer.Orchestrator, stg *staging.Store, ledger *jobs.Ledger, logger *logger.Logger) *ImportHandler {
	return &ImportHandler{
		orch:    orch,
		staging: stg,
		ledger:  ledger,
		logger:  logger,
	}
}

// Fetch pages the source catalog into staging.
func (h *ImportHandler) Fetch(c *gin.Context) {
	res, err := h.orch.FetchToStaging(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

func (h *ImportHandler) Start(c *gin.Context) {
	job, err := h.orch.Start(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": job})
}

func (h *ImportHandler) Progress(c *gin.Context) {
	p, err := h.orch.Progress(c.Request.Context(), intQuery(c, "logs", 20))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": p})
}

func (h *ImportHandler) Cancel(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}

	job, err := h.orch.Cancel(c.Request.Context(), req.Message)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": job})
}

// Batch runs the next batch of the active job right away.
func (h *ImportHandler) Batch(c *gin.Context) {
	res, err := h.orch.TriggerOneBatch(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": res})
}

// RetryFailed puts failed staging rows back in the queue.
func (h *ImportHandler) RetryFailed(c *gin.Context) {
	n, err := h.staging.RequeueFailed(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"requeued": n}})
}

func (h *ImportHandler) Failed(c *gin.Context) {
	rows, err := h.staging.ListFailed(c.Request.Context(), intQuery(c, "limit", 50))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *ImportHandler) Jobs(c *gin.Context) {
	list, err := h.ledger.List(c.Request.Context(), intQuery(c, "limit", 20))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}
