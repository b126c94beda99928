// Package server is the HTTP ingestion entry point: it validates the upload,
// persists the original, and emits the single image-saved event that fans
// out to the three derivative workers.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"imagepipeline/internal/blob"
	"imagepipeline/internal/bus"
	"imagepipeline/internal/keys"
	"imagepipeline/internal/models"
)

type UploadStore interface {
	SaveUpload(ctx context.Context, rec models.UploadRecord) error
	GetUpload(ctx context.Context, correlationID string) (models.UploadRecord, error)
}

type StatusReader interface {
	GetStatus(ctx context.Context, correlationID string) (models.ProcessingStatus, error)
}

type Server struct {
	cfg      *models.Config
	router   *gin.Engine
	uploads  UploadStore
	statuses StatusReader
	store    blob.Store
	bus      bus.Bus
}

func NewServer(cfg *models.Config, uploads UploadStore, statuses StatusReader, store blob.Store, b bus.Bus) *Server {
	r := gin.Default()

	s := &Server{cfg: cfg, router: r, uploads: uploads, statuses: statuses, store: store, bus: b}

	r.POST("/upload", s.handleUpload)
	r.GET("/status/:correlationId", s.handleGetStatus)

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

type uploadRequest struct {
	Filename string `json:"filename"`
	Data     string `json:"data"`
}

var dataURIPrefix = regexp.MustCompile(`^data:image/[a-z]+;base64,`)

func (s *Server) handleUpload(c *gin.Context) {
	const op = "server.handleUpload"

	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Filename == "" || req.Data == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": "provide JSON with filename and base64 data",
		})
		return
	}

	format, err := keys.ResolveFormat(req.Filename)
	if err != nil {
		if errors.Is(err, keys.ErrUnsupportedFormat) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid image format",
				"details": "only JPEG, PNG, and WebP formats are supported",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	raw := dataURIPrefix.ReplaceAllString(req.Data, "")
	payload, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid base64 data",
			"details": err.Error(),
		})
		return
	}

	if int64(len(payload)) > s.cfg.MaxUploadBytes() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "file too large",
			"details": fmt.Sprintf("maximum file size is %dMB", s.cfg.MaxUploadMB),
		})
		return
	}

	uniqueFilename := keys.UniqueFilename(req.Filename)
	storageKeys := keys.DeriveStorageKeys(uniqueFilename)

	if err := s.store.Put(c.Request.Context(), storageKeys.Original, keys.ContentType(req.Filename), payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	rec := models.UploadRecord{
		CorrelationID:      uuid.New().String(),
		OriginalFilename:   req.Filename,
		UniqueFilename:     uniqueFilename,
		Format:             format,
		OriginalStorageKey: storageKeys.Original,
		OriginalURL:        s.store.URL(storageKeys.Original),
		UploadedAt:         time.Now().UTC(),
	}

	if err := s.uploads.SaveUpload(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	event, err := json.Marshal(rec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	if err := s.bus.Publish(c.Request.Context(), models.TopicImageSaved, event); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "image uploaded successfully and processing started",
		"correlationId": rec.CorrelationID,
		"imageMetadata": rec,
	})
}

func (s *Server) handleGetStatus(c *gin.Context) {
	const op = "server.handleGetStatus"
	correlationID := c.Param("correlationId")

	status, err := s.statuses.GetStatus(c.Request.Context(), correlationID)
	if errors.Is(err, models.ErrNotFound) {
		// No completion seen yet. If the upload exists, report an empty
		// status rather than 404.
		rec, uerr := s.uploads.GetUpload(c.Request.Context(), correlationID)
		if errors.Is(uerr, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown correlation id"})
			return
		}
		if uerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, uerr)})
			return
		}
		c.JSON(http.StatusOK, models.ProcessingStatus{
			CorrelationID:      rec.CorrelationID,
			OriginalStorageKey: rec.OriginalStorageKey,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	c.JSON(http.StatusOK, status)
}
