package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"catalogsync/internal/apperr"
	"catalogsync/internal/catalog"
	"catalogsync/internal/importer"
	"catalogsync/internal/logger"

	"github.com/gin-gonic/gin"
)

// respondError writes err with the status its class maps to.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, importer.ErrNoActiveJob):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, importer.ErrNothingPending):
		return http.StatusBadRequest
	}
	return apperr.StatusOf(err)
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return uint(id), true
}

// bindOptionalJSON binds a body that may be absent. It writes 400 and returns
// false when a body is present but malformed.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func intQuery(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}
