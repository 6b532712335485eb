package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dsslabs/docservice/internal/common"
	"github.com/dsslabs/docservice/internal/server/models"
	"github.com/dsslabs/docservice/internal/server/services"
)

type uploadGrantRequest struct {
	CorrelationID string `json:"correlation_id"`
	FileName      string `json:"file_name"`
	FileSize      string `json:"file_size"`
}

type uploadGrantResponse struct {
	StatusCode    int       `json:"status_code"`
	CorrelationID string    `json:"correlation_id"`
	URL           string    `json:"url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type intentResponse struct {
	CorrelationID string    `json:"correlation_id"`
	DocID         *string   `json:"doc_id,omitempty"`
	FileName      string    `json:"file_name"`
	TempURL       string    `json:"temp_url"`
	PermanentURL  *string   `json:"permanent_url,omitempty"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type documentResponse struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	URL          string    `json:"url"`
}

func intentToResponse(intent *models.UploadIntent) intentResponse {
	resp := intentResponse{
		CorrelationID: intent.CorrelationID.String(),
		FileName:      intent.FileName,
		TempURL:       intent.TempURL,
		PermanentURL:  intent.PermanentURL,
		State:         string(intent.State),
		CreatedAt:     intent.CreatedAt,
		UpdatedAt:     intent.UpdatedAt,
	}
	if intent.DocID != nil {
		s := intent.DocID.String()
		resp.DocID = &s
	}
	return resp
}

func (s *Server) requestUploadGrant(c *gin.Context) {
	var req uploadGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	// A malformed id becomes uuid.Nil and is rejected by validation.
	correlationID, _ := uuid.Parse(req.CorrelationID)

	result, err := s.documents.RequestUploadGrant(c.Request.Context(), &services.UploadGrantRequest{
		CorrelationID: correlationID,
		FileName:      req.FileName,
		FileSize:      req.FileSize,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, uploadGrantResponse{
		StatusCode:    http.StatusCreated,
		CorrelationID: result.CorrelationID.String(),
		URL:           result.URL,
		ExpiresAt:     result.ExpiresAt,
	})
}

// storageCompleted is the webhook the storage provider posts completion
// notifications to. A non-2xx response makes the provider redeliver, so only
// infrastructure faults return one.
func (s *Server) storageCompleted(c *gin.Context) {
	var notification models.StorageNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed notification"})
		return
	}

	if err := s.reconciler.HandleStorageNotification(c.Request.Context(), &notification); err != nil {
		s.logger.Error(c.Request.Context(), "notification processing failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "notification processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status_code": http.StatusOK})
}

func (s *Server) listIntents(c *gin.Context) {
	intents, err := s.documents.ListIntents(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	resp := make([]intentResponse, 0, len(intents))
	for _, intent := range intents {
		resp = append(resp, intentToResponse(intent))
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getIntent(c *gin.Context) {
	correlationID, err := uuid.Parse(c.Param("correlationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid correlation id"})
		return
	}

	intent, err := s.documents.GetIntent(c.Request.Context(), correlationID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, intentToResponse(intent))
}

func (s *Server) listDocuments(c *gin.Context) {
	objects, err := s.documents.ListDocuments(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	resp := make([]documentResponse, 0, len(objects))
	for _, obj := range objects {
		resp = append(resp, documentResponse{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			URL:          obj.URL,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) downloadURL(c *gin.Context) {
	correlationID, err := uuid.Parse(c.Param("correlationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid correlation id"})
		return
	}

	url, err := s.documents.DocumentDownloadURL(c.Request.Context(), correlationID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (s *Server) deleteDocument(c *gin.Context) {
	correlationID, err := uuid.Parse(c.Param("correlationId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid correlation id"})
		return
	}

	if err := s.documents.DeleteDocument(c.Request.Context(), correlationID); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrGrantUnavailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrDuplicateCorrelationID):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error(c.Request.Context(), "request failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
