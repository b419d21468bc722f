package handlers

import (
	"net/http"

	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"

	"github.com/gin-gonic/gin"
)

type MappingHandler struct {
	mapper *mapping.Mapper
	logger *logger.Logger
}

func NewMappingHandler(mapper *mapping.Mapper, logger *logger.Logger) *MappingHandler {
	return &MappingHandler{mapper: mapper, logger: logger}
}

func (h *MappingHandler) ListAttributes(c *gin.Context) {
	list, err := h.mapper.ListAttributeMappings(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

// SaveAttribute binds a source attribute to a local taxonomy. Every source
// key sharing the same name follows.
func (h *MappingHandler) SaveAttribute(c *gin.Context) {
	var req struct {
		SourceKey  string `json:"source_key" binding:"required"`
		SourceName string `json:"source_name"`
		TaxonomyID uint   `json:"taxonomy_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.mapper.SaveAttributeMapping(c.Request.Context(), req.SourceKey, req.SourceName, req.TaxonomyID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": m})
}

func (h *MappingHandler) ListCategories(c *gin.Context) {
	list, err := h.mapper.ListCategoryMappings(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *MappingHandler) SaveCategory(c *gin.Context) {
	var req struct {
		SourceCategoryID   string `json:"source_category_id" binding:"required"`
		SourceCategoryName string `json:"source_category_name"`
		CategoryID         uint   `json:"category_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.mapper.SaveCategoryMapping(c.Request.Context(), req.SourceCategoryID, req.SourceCategoryName, req.CategoryID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": m})
}
