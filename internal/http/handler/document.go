package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"clausewise.app/analyzer/internal/extract"
	"clausewise.app/analyzer/internal/http/dto"
	"clausewise.app/analyzer/internal/http/middleware"
	"clausewise.app/analyzer/internal/model"
	"clausewise.app/analyzer/internal/queue"
	"clausewise.app/analyzer/internal/service"
)

type DocumentHandler struct {
	documents service.DocumentService
}

func NewDocumentHandler(documents service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

func (h *DocumentHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SubmitDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.submit(c, service.SubmitRequest{
		UserID:  middleware.UserID(c),
		Title:   req.Title,
		Content: req.Content,
	})
}

func (h *DocumentHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size > extract.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": extract.ErrTooLarge.Error()})
		return
	}

	f, err := fh.Open()
	if err != nil {
		slog.ErrorContext(ctx, "failed to open upload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}
	defer f.Close()

	text, err := extract.Text(fh.Filename, f)
	if err != nil {
		slog.WarnContext(ctx, "failed to extract upload text", "error", err, "filename", fh.Filename)
		switch {
		case errors.Is(err, extract.ErrUnsupportedType):
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		case errors.Is(err, extract.ErrTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not read text from file"})
		}
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		title = strings.TrimSuffix(fh.Filename, filepath.Ext(fh.Filename))
	}

	h.submit(c, service.SubmitRequest{
		UserID:  middleware.UserID(c),
		Title:   title,
		Content: text,
	})
}

func (h *DocumentHandler) submit(c *gin.Context, req service.SubmitRequest) {
	sub, err := h.documents.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrEmptyContent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit document"})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitDocumentResponse{
		DocumentID: sub.DocumentID,
		JobID:      sub.JobID,
		Status:     model.DocumentStatusPending,
	})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	documentID := c.Param("id")

	doc, err := h.documents.Get(ctx, userID, documentID)
	if err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
			return
		}
		slog.ErrorContext(ctx, "failed to get document", "error", err, "document_id", documentID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get document"})
		return
	}

	runs, err := h.documents.Runs(ctx, userID, documentID)
	if err != nil {
		slog.WarnContext(ctx, "failed to list analysis runs", "error", err, "document_id", documentID)
	}

	c.JSON(http.StatusOK, dto.ToDocumentResponse(doc, runs))
}

func (h *DocumentHandler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	jobID := c.Param("id")

	err := h.documents.Cancel(ctx, userID, jobID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"jobId": jobID, "status": "cancelled"})
	case errors.Is(err, queue.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, queue.ErrJobStarted):
		c.JSON(http.StatusConflict, gin.H{"error": "job already started"})
	default:
		slog.ErrorContext(ctx, "failed to cancel job", "error", err, "job_id", jobID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
	}
}
