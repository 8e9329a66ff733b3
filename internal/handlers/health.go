package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"seedream-proxy/internal/models"
)

type HealthHandler struct {
	hasToken   bool
	timeout    time.Duration
	maxRetries int
}

func NewHealthHandler(hasToken bool, timeout time.Duration, maxRetries int) *HealthHandler {
	return &HealthHandler{
		hasToken:   hasToken,
		timeout:    timeout,
		maxRetries: maxRetries,
	}
}

// Health godoc
// @Summary     Health check
// @Description Reports whether the Replicate token is configured and the retry policy in effect
// @Tags        health
// @Produce     json
// @Success     200 {object} models.HealthResponse
// @Router      /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.HealthResponse{
		OK:         true,
		HasToken:   h.hasToken,
		TimeoutMs:  int(h.timeout.Milliseconds()),
		MaxRetries: h.maxRetries,
	})
}
