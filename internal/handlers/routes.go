package handlers

import (
	"github.com/gin-gonic/gin"
	"seedream-proxy/internal/uploads"
)

type Routes struct {
	Health      *HealthHandler
	Generate    *GenerateHandler
	Predictions *PredictionsHandler
	Upload      *UploadHandler
	Files       *FilesHandler
	// Limiter guards the routes that spend upstream quota or disk. Optional.
	Limiter gin.HandlerFunc
}

func RegisterRoutes(router *gin.Engine, r Routes) {
	router.GET("/health", r.Health.Health)

	api := router.Group("/api")
	api.GET("/predictions/:id", r.Predictions.GetPrediction)
	if r.Limiter != nil {
		api.POST("/generate", r.Limiter, r.Generate.Generate)
		api.POST("/upload", r.Limiter, r.Upload.Upload)
	} else {
		api.POST("/generate", r.Generate.Generate)
		api.POST("/upload", r.Upload.Upload)
	}

	// Uploads kept in an external store are not served from here.
	if r.Files.uploadDir != "" {
		router.GET(uploads.PathPrefix+"/:name", r.Files.ServeUpload)
		router.HEAD(uploads.PathPrefix+"/:name", r.Files.ServeUpload)
	}
	router.NoRoute(r.Files.NoRoute)
}
