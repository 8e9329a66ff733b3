package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"seedream-proxy/internal/models"
	"seedream-proxy/internal/services"
)

type GenerateHandler struct {
	generationService *services.GenerationService
}

func NewGenerateHandler(generationService *services.GenerationService) *GenerateHandler {
	return &GenerateHandler{
		generationService: generationService,
	}
}

// Generate godoc
// @Summary     Generate images
// @Description Creates one to four seedream-4 predictions in parallel. One image returns the
// @Description single shape, more return the batch shape with items in submission order.
// @Tags        generate
// @Accept      json
// @Produce     json
// @Param       request body models.GenerateRequest true "Generation request"
// @Success     200 {object} models.BatchGenerateResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Failure     502 {object} models.UpstreamErrorResponse
// @Router      /api/generate [post]
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req models.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}

	result, err := h.generationService.Generate(c.Request.Context(), services.GenerationRequest{
		Prompt:            req.Prompt,
		ReplicaCount:      services.ParseReplicaCount(req.NumImages),
		AspectRatio:       req.Aspect,
		ReferenceImageURL: req.ImageURL,
	})
	if err != nil {
		respondError(c, err, http.StatusBadGateway)
		return
	}

	c.JSON(http.StatusOK, services.ResponseFor(result))
}
