package handlers

import (
	"net/http"
	"strconv"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"

	"github.com/gin-gonic/gin"
)

type ProductHandler struct {
	store  catalog.Store
	logger *logger.Logger
}

func NewProductHandler(store catalog.Store, logger *logger.Logger) *ProductHandler {
	return &ProductHandler{
		store:  store,
		logger: logger,
	}
}

func (h *ProductHandler) List(c *gin.Context) {
	// Pagination
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 20)

	// Filters
	filter := catalog.ProductFilter{
		Page:   page,
		Limit:  limit,
		Search: c.Query("search"),
		Type:   models.ProductType(c.Query("type")),
	}
	if v := c.Query("deprecated"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Deprecated = &b
		}
	}

	products, total, err := h.store.ListProducts(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": products,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// Get returns a product with its variations.
func (h *ProductHandler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	product, err := h.store.GetProduct(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	variations, err := h.store.ListVariations(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"product":    product,
		"variations": variations,
	}})
}
