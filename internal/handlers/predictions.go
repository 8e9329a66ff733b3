package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"seedream-proxy/internal/models"
	"seedream-proxy/internal/services"
)

type PredictionsHandler struct {
	predictionService *services.PredictionService
}

func NewPredictionsHandler(predictionService *services.PredictionService) *PredictionsHandler {
	return &PredictionsHandler{
		predictionService: predictionService,
	}
}

// GetPrediction godoc
// @Summary     Prediction status
// @Description Relays the upstream prediction document and status code unchanged
// @Tags        predictions
// @Produce     json
// @Param       id path string true "Prediction ID"
// @Failure     500 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /api/predictions/{id} [get]
func (h *PredictionsHandler) GetPrediction(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "prediction id is required"})
		return
	}

	status, body, err := h.predictionService.GetStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, http.StatusBadGateway)
		return
	}

	switch v := body.(type) {
	case nil:
		if status >= http.StatusBadRequest {
			c.JSON(status, models.ErrorResponse{Error: http.StatusText(status)})
			return
		}
		c.Status(status)
	case string:
		c.String(status, v)
	default:
		c.JSON(status, v)
	}
}
