package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for browsing score history.
type Handler struct {
	service *Service
}

// NewHandler creates a new history handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up history routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/history", h.ListRecords)
	r.GET("/history/:id", h.GetRecord)
}

// ListRecords handles GET /history
func (h *Handler) ListRecords(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	opts := ListOptions{
		Limit:    limit,
		RiskTier: c.Query("risk_tier"),
	}
	if d := c.Query("decision"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || (parsed != 0 && parsed != 1) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_decision",
				"message": "decision must be 0 or 1",
			})
			return
		}
		opts.Decision = &parsed
	}

	records, err := h.service.store.List(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "list_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// GetRecord handles GET /history/:id
func (h *Handler) GetRecord(c *gin.Context) {
	id := c.Param("id")

	record, err := h.service.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Score record not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "get_failed",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"record": record,
	})
}
