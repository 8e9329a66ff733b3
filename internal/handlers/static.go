package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"seedream-proxy/internal/models"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// FilesHandler serves uploaded files and the single-page app.
type FilesHandler struct {
	uploadDir string
	staticDir string
}

func NewFilesHandler(uploadDir, staticDir string) *FilesHandler {
	return &FilesHandler{
		uploadDir: uploadDir,
		staticDir: staticDir,
	}
}

// ServeUpload serves one uploaded file. Names are random and never reused, so
// responses are cached indefinitely.
func (h *FilesHandler) ServeUpload(c *gin.Context) {
	name := c.Param("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not found"})
		return
	}

	file := filepath.Join(h.uploadDir, name)
	if !isRegularFile(file) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not found"})
		return
	}

	c.Header("Cache-Control", immutableCacheControl)
	c.File(file)
}

// NoRoute serves files from the static directory and falls back to
// index.html for client-side routes. API paths and non-GET methods get JSON 404.
func (h *FilesHandler) NoRoute(c *gin.Context) {
	method := c.Request.Method
	reqPath := c.Request.URL.Path
	if (method != http.MethodGet && method != http.MethodHead) || strings.HasPrefix(reqPath, "/api/") || h.staticDir == "" {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not found"})
		return
	}

	cleaned := path.Clean("/" + reqPath)
	if cleaned != "/" {
		candidate := filepath.Join(h.staticDir, filepath.FromSlash(cleaned))
		if isRegularFile(candidate) {
			c.File(candidate)
			return
		}
	}

	index := filepath.Join(h.staticDir, "index.html")
	if !isRegularFile(index) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "not found"})
		return
	}
	c.File(index)
}

func isRegularFile(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.Mode().IsRegular()
}
