package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"seedream-proxy/internal/models"
	"seedream-proxy/internal/replicate"
	"seedream-proxy/internal/services"
	"seedream-proxy/internal/uploads"
	"seedream-proxy/internal/upstream"
)

// respondError maps domain errors onto HTTP responses. Errors that match no
// known case are answered with fallback.
func respondError(c *gin.Context, err error, fallback int) {
	_ = c.Error(err)

	var unreachable *uploads.UnreachableError
	switch {
	case errors.Is(err, services.ErrEmptyPrompt):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, uploads.ErrInvalidDataURL):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid dataUrl", Message: err.Error()})
	case errors.Is(err, uploads.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "upload too large", Message: err.Error()})
	case errors.As(err, &unreachable):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "saved but not reachable", Message: err.Error()})
	case errors.Is(err, replicate.ErrMissingToken):
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "server is missing REPLICATE_API_TOKEN"})
	default:
		if statusErr, ok := upstream.AsStatusError(err); ok {
			c.JSON(http.StatusBadGateway, models.UpstreamErrorResponse{
				Error:  err.Error(),
				Status: statusErr.StatusCode,
				Body:   services.ParseBody(statusErr.Body),
			})
			return
		}
		c.JSON(fallback, models.ErrorResponse{Error: err.Error()})
	}
}
