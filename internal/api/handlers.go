package api

import (
	"errors"
	"net/http"
	"time"

	"dcmigrate/internal/migration"
	"dcmigrate/internal/modal"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/stage"

	"github.com/gin-gonic/gin"
)

// migrator is the subset of *app.Migrator used by the HTTP handlers
type migrator interface {
	StartMigration() (bool, error)
	CurrentMigration() (migration.Migration, error)
	RequestTransition(from, to stage.Stage) error
	ProgressReport() progress.Snapshot
	AbortMigration() error
	Reset() error
	Mode() (modal.Mode, error)
	SetMode(mode modal.Mode) error
	StoreCredentials(accessKeyID, secretAccessKey string) error
}

// Handler holds the dependencies shared across all HTTP handlers
type Handler struct {
	migrator migrator
}

type migrationResponse struct {
	ID        string      `json:"id,omitempty"`
	Stage     stage.Stage `json:"stage"`
	CreatedAt *time.Time  `json:"created_at,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

type transitionRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type credentialsRequest struct {
	AccessKeyID     string `json:"access_key_id" binding:"required"`
	SecretAccessKey string `json:"secret_access_key" binding:"required"`
}

// GetMigration handles GET /api/v1/migration
func (h *Handler) GetMigration(c *gin.Context) {
	m, err := h.migrator.CurrentMigration()
	if err != nil {
		writeError(c, err)
		return
	}
	resp := migrationResponse{ID: m.ID(), Stage: m.Stage(), LastError: m.LastError()}
	if created := m.CreatedAt(); !created.IsZero() {
		resp.CreatedAt = &created
	}
	c.JSON(http.StatusOK, resp)
}

// CreateMigration handles POST /api/v1/migration. It answers 201 for a new
// migration and 409 when one already exists.
func (h *Handler) CreateMigration(c *gin.Context) {
	created, err := h.migrator.StartMigration()
	if err != nil {
		writeError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusConflict, gin.H{"status": "error", "error": "migration already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created"})
}

// ResetMigration handles DELETE /api/v1/migration
func (h *Handler) ResetMigration(c *gin.Context) {
	if err := h.migrator.Reset(); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestTransition handles POST /api/v1/migration/transition
func (h *Handler) RequestTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	from, err := stage.Parse(req.From)
	if err != nil {
		badRequest(c, err)
		return
	}
	to, err := stage.Parse(req.To)
	if err != nil {
		badRequest(c, err)
		return
	}

	if err := h.migrator.RequestTransition(from, to); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stage": to})
}

// FilesystemReport handles GET /api/v1/migration/fs/report
func (h *Handler) FilesystemReport(c *gin.Context) {
	c.JSON(http.StatusOK, h.migrator.ProgressReport())
}

// AbortFilesystemMigration handles POST /api/v1/migration/fs/abort
func (h *Handler) AbortFilesystemMigration(c *gin.Context) {
	if err := h.migrator.AbortMigration(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "aborted"})
}

// GetMode handles GET /api/v1/develop/mode
func (h *Handler) GetMode(c *gin.Context) {
	mode, err := h.migrator.Mode()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

// SetMode handles PUT /api/v1/develop/mode
func (h *Handler) SetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	mode, err := modal.ParseMode(req.Mode)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.migrator.SetMode(mode); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

// StoreCredentials handles PUT /api/v1/credentials. The response never
// echoes the keys.
func (h *Handler) StoreCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.migrator.StoreCredentials(req.AccessKeyID, req.SecretAccessKey); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
}

func writeError(c *gin.Context, err error) {
	var stageErr *stage.InvalidStageError
	if errors.As(err, &stageErr) {
		c.JSON(http.StatusConflict, gin.H{
			"status":   "error",
			"error":    err.Error(),
			"expected": stageErr.Expected,
			"actual":   stageErr.Actual,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
}
