package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gigboard/marketplace/internal/attachments"
	"github.com/gigboard/marketplace/internal/models"
)

// multipart framing allowance on top of the file payloads
const formOverhead = 1 << 20

// UploadHandler accepts attachment files ahead of message creation
type UploadHandler struct {
	Pipeline *attachments.Pipeline
}

func NewUploadHandler(p *attachments.Pipeline) *UploadHandler {
	return &UploadHandler{Pipeline: p}
}

// SingleUploadResponse is the legacy single file response
type SingleUploadResponse struct {
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
}

// MultiUploadResponse lists descriptors in the order the files were submitted
type MultiUploadResponse struct {
	Files []models.Attachment `json:"files"`
}

func (h *UploadHandler) limitBody(c *gin.Context, files int) {
	policy := h.Pipeline.Policy()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(files)*(policy.MaxFileSize+1)+formOverhead)
}

// Upload handles the single file form field "file"
func (h *UploadHandler) Upload(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	h.limitBody(c, 1)

	fh, err := c.FormFile("file")
	if err != nil {
		formError(c, err, "No file uploaded")
		return
	}

	stored, err := h.Pipeline.Process(c.Request.Context(), []attachments.Upload{attachments.FromMultipart(fh)})
	if err != nil {
		respondError(c, err)
		return
	}

	a := stored[0]
	c.JSON(http.StatusOK, SingleUploadResponse{FileURL: a.URL, FileType: a.Type, FileName: a.Name})
}

// UploadMultiple handles the repeated form field "files"
func (h *UploadHandler) UploadMultiple(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	h.limitBody(c, h.Pipeline.Policy().MaxFiles)

	form, err := c.MultipartForm()
	if err != nil {
		formError(c, err, "Invalid multipart form")
		return
	}

	headers := form.File["files"]
	uploads := make([]attachments.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, attachments.FromMultipart(fh))
	}

	stored, err := h.Pipeline.Process(c.Request.Context(), uploads)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, MultiUploadResponse{Files: stored})
}

func formError(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
