// Package api exposes dataset ingestion over HTTP with gin.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/ingest"
	"github.com/sabarim/dsingest/internal/logger"
	"github.com/sabarim/dsingest/internal/source"
	"github.com/sabarim/dsingest/internal/storage"
	"github.com/sabarim/dsingest/internal/store"
)

// Service is the dataset pipeline behind the handlers
type Service interface {
	Register(ctx context.Context, in ingest.RegisterInput) (*dataset.Dataset, error)
	Process(ctx context.Context, id string) (*ingest.Result, error)
	Retry(ctx context.Context, id string) (*ingest.Result, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*dataset.Dataset, error)
	List(ctx context.Context, opts store.ListOptions) ([]dataset.Dataset, error)
	Summaries(ctx context.Context, id string) ([]dataset.Summary, error)
}

// Fetcher downloads a remote file for import
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*source.File, error)
}

type APIHandler struct {
	svc     Service
	fetcher Fetcher
	log     *logger.Entry
}

// NewRouter builds the gin engine with health check, CORS and /api/v1 routes.
// fetcher may be nil, which disables URL imports.
func NewRouter(svc Service, fetcher Fetcher, log *logger.Log) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.WithComponent("http")))

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	SetupRoutes(r.Group("/api/v1"), svc, fetcher, log)
	return r
}

// SetupRoutes registers the dataset routes on a router group
func SetupRoutes(r *gin.RouterGroup, svc Service, fetcher Fetcher, log *logger.Log) *APIHandler {
	handler := &APIHandler{
		svc:     svc,
		fetcher: fetcher,
		log:     log.WithComponent("api"),
	}

	datasets := r.Group("/datasets")
	{
		datasets.GET("", handler.ListDatasets)
		datasets.POST("", handler.UploadDataset)
		datasets.POST("/import", handler.ImportDataset)
		datasets.GET("/:id", handler.GetDataset)
		datasets.GET("/:id/summaries", handler.GetSummaries)
		datasets.POST("/:id/process", handler.ProcessDataset)
		datasets.POST("/:id/retry", handler.RetryDataset)
		datasets.DELETE("/:id", handler.DeleteDataset)
	}
	return handler
}

func requestLogger(log *logger.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		log.WithFields(logger.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(started).Milliseconds(),
		}).Debug("request")
	}
}

func (h *APIHandler) ListDatasets(c *gin.Context) {
	opts := store.ListOptions{Status: dataset.Status(c.Query("status"))}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		opts.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		opts.Offset = n
	}

	items, err := h.svc.List(c.Request.Context(), opts)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if items == nil {
		items = []dataset.Dataset{}
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

// UploadDataset registers a multipart "file" upload. It is processed right
// away unless process=false is passed.
func (h *APIHandler) UploadDataset(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}

	h.registerAndRespond(c, ingest.RegisterInput{
		Name:     c.PostForm("name"),
		FileName: header.Filename,
		FileType: c.PostForm("type"),
		Data:     data,
	})
}

type importRequest struct {
	URL  string `json:"url" binding:"required"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// ImportDataset downloads a file from a URL and registers it
func (h *APIHandler) ImportDataset(c *gin.Context) {
	if h.fetcher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "url import is disabled"})
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	file, err := h.fetcher.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// the remote side failed
			status = http.StatusBadGateway
		}
		h.log.WithError(err).WithField("url", req.URL).Warn("import download failed")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.registerAndRespond(c, ingest.RegisterInput{
		Name:     req.Name,
		FileName: file.Name,
		FileType: req.Type,
		Data:     file.Data,
	})
}

func (h *APIHandler) registerAndRespond(c *gin.Context, in ingest.RegisterInput) {
	ctx := c.Request.Context()
	d, err := h.svc.Register(ctx, in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if strings.EqualFold(c.Query("process"), "false") {
		c.JSON(http.StatusCreated, gin.H{"dataset": d})
		return
	}

	result, err := h.svc.Process(ctx, d.ID)
	if err != nil {
		h.writeRunError(c, result, err)
		return
	}
	if latest, err := h.svc.Get(ctx, d.ID); err == nil {
		d = latest
	}
	c.JSON(http.StatusCreated, gin.H{"dataset": d, "result": result})
}

func (h *APIHandler) GetDataset(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": d})
}

func (h *APIHandler) GetSummaries(c *gin.Context) {
	rows, err := h.svc.Summaries(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if rows == nil {
		rows = []dataset.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "count": len(rows)})
}

func (h *APIHandler) ProcessDataset(c *gin.Context) {
	result, err := h.svc.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeRunError(c, result, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) RetryDataset(c *gin.Context) {
	result, err := h.svc.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeRunError(c, result, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) DeleteDataset(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeRunError reports a run that ended badly. Runs that failed inside the
// pipeline answer 422 with their result.
func (h *APIHandler) writeRunError(c *gin.Context, result *ingest.Result, err error) {
	switch {
	case result != nil && errors.Is(err, ingest.ErrProcessingFailed):
		c.JSON(http.StatusUnprocessableEntity, result)
	case result != nil && errors.Is(err, store.ErrStaleRun):
		c.JSON(http.StatusConflict, result)
	default:
		h.writeError(c, err)
	}
}

func (h *APIHandler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrInvalidInput), errors.Is(err, source.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, source.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrStaleRun), errors.Is(err, ingest.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrProcessingFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
