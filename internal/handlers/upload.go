package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"seedream-proxy/internal/models"
	"seedream-proxy/internal/uploads"
)

// maxEnvelopeOverhead covers the JSON wrapper and data URL prefix around the
// base64 payload.
const maxEnvelopeOverhead = 4 << 10

type UploadHandler struct {
	ingestor      *uploads.Ingestor
	publicBaseURL string
	maxBodyBytes  int64
}

func NewUploadHandler(ingestor *uploads.Ingestor, publicBaseURL string, maxUploadBytes int) *UploadHandler {
	// base64 inflates by 4/3.
	maxBody := int64(maxUploadBytes)*4/3 + maxEnvelopeOverhead
	return &UploadHandler{
		ingestor:      ingestor,
		publicBaseURL: publicBaseURL,
		maxBodyBytes:  maxBody,
	}
}

// Upload godoc
// @Summary     Upload a reference image
// @Description Stores a base64 data URL and returns a public URL usable as imageUrl
// @Tags        upload
// @Accept      json
// @Produce     json
// @Param       request body models.UploadRequest true "Data URL"
// @Success     200 {object} models.UploadResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     413 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /api/upload [post]
func (h *UploadHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var req models.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{Error: "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request body",
			Message: err.Error(),
		})
		return
	}
	if req.DataURL == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "dataUrl is required"})
		return
	}

	publicBase := uploads.PublicBase(c.Request, h.publicBaseURL)
	asset, err := h.ingestor.Ingest(c.Request.Context(), req.DataURL, publicBase)
	if err != nil {
		respondError(c, err, http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, models.UploadResponse{
		URL:  asset.URL,
		Mime: asset.MimeType,
		Size: asset.Size,
	})
}
