package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/evidtrack/evidence-api/internal/dto"
	"github.com/evidtrack/evidence-api/internal/middleware"
	"github.com/evidtrack/evidence-api/internal/models"
	"github.com/evidtrack/evidence-api/internal/service"
	appErrors "github.com/evidtrack/evidence-api/pkg/errors"
	"github.com/evidtrack/evidence-api/pkg/response"
)

type fileService interface {
	Upload(ctx context.Context, meta dto.UploadFilesRequest, uploads []service.FileUpload, actor *models.JWTClaims) ([]models.FileRecord, error)
	List(ctx context.Context, query dto.FileListQuery, actor *models.JWTClaims) ([]models.FileRecord, *models.Pagination, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims, meta service.RequestMeta) (*models.FileRecord, error)
	GetDownloadURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error)
	Download(ctx context.Context, storedName, token string, actor *models.JWTClaims, meta service.RequestMeta) (*service.FileDownload, error)
	Update(ctx context.Context, id string, update models.FileUpdate, actor *models.JWTClaims) (*models.FileRecord, error)
	SoftDelete(ctx context.Context, id string, actor *models.JWTClaims) error
	AccessLog(ctx context.Context, id string, limit int) ([]models.AccessLogEntry, error)
	Stats(ctx context.Context, actor *models.JWTClaims) (*dto.FileStatsSummary, error)
}

type inventoryExporter interface {
	Inventory(ctx context.Context, format service.ExportFormat, actor *models.JWTClaims) (*service.ExportPayload, error)
}

var updatableFileFields = map[string]struct{}{
	"category":    {},
	"tags":        {},
	"description": {},
	"visibility":  {},
}

// FileHandler manages file HTTP endpoints.
type FileHandler struct {
	service   fileService
	exporter  inventoryExporter
	maxUpload int64
}

// NewFileHandler constructs the handler. maxUpload caps how much of a single
// multipart part is buffered before the service rejects it.
func NewFileHandler(service fileService, exporter inventoryExporter, maxUpload int64) *FileHandler {
	if maxUpload <= 0 {
		maxUpload = 50 * 1024 * 1024
	}
	return &FileHandler{service: service, exporter: exporter, maxUpload: maxUpload}
}

// Upload godoc
// @Summary Upload one or more files
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param files formData file true "Files (repeatable)"
// @Param category formData string false "Category"
// @Param groupId formData string false "Group ID"
// @Param tags formData string false "Comma-separated tags"
// @Param description formData string false "Description"
// @Param visibility formData string false "Visibility"
// @Success 201 {object} response.Envelope
// @Router /files [post]
func (h *FileHandler) Upload(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.UploadFilesRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid upload payload"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "multipart form is required"))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		// Single-file clients post under "file".
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "at least one file is required"))
		return
	}

	uploads := make([]service.FileUpload, 0, len(headers))
	closers := make([]io.Closer, 0, len(headers))
	defer func() {
		for _, closer := range closers {
			closer.Close() //nolint:errcheck
		}
	}()

	for _, fileHeader := range headers {
		src, err := fileHeader.Open()
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
			return
		}
		closers = append(closers, src)

		reader, err := uploadReader(src, h.maxUpload)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
			return
		}
		uploads = append(uploads, service.FileUpload{
			Filename: fileHeader.Filename,
			Size:     fileHeader.Size,
			MimeType: fileHeader.Header.Get("Content-Type"),
			Content:  reader,
		})
	}

	records, err := h.service.Upload(c.Request.Context(), req, uploads, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, records, nil)
}

// List godoc
// @Summary List files visible to the caller
// @Tags Files
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param category query string false "Category filter"
// @Param groupId query string false "Group filter"
// @Param search query string false "Free-text search"
// @Param sortBy query string false "Sort column"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /files [get]
func (h *FileHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.FileListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid list query"))
		return
	}
	records, pagination, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Get godoc
// @Summary Get file metadata with a signed download URL
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id} [get]
func (h *FileHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.service.Get(c.Request.Context(), c.Param("id"), claims, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	// The detail view only needs view access. Callers without download
	// access still get the record, just without a signed link.
	downloadURL, err := h.service.GetDownloadURL(c.Request.Context(), record.ID, claims)
	if err != nil && !errors.Is(err, appErrors.ErrAccessDenied) {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.FileDetailResponse{
		FileRecord:  *record,
		DownloadURL: downloadURL,
	}, nil)
}

// GetDownloadURL godoc
// @Summary Issue a signed download URL
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/url [get]
func (h *FileHandler) GetDownloadURL(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	downloadURL, err := h.service.GetDownloadURL(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"url": downloadURL}, nil)
}

// Download godoc
// @Summary Download stored file content
// @Tags Files
// @Produce octet-stream
// @Param filename path string true "Stored filename"
// @Param token query string false "Signed token"
// @Success 200 {file} binary
// @Router /files/download/{filename} [get]
func (h *FileHandler) Download(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Download(c.Request.Context(), c.Param("filename"), c.Query("token"), claims, clientMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.OriginalName))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}

// Update godoc
// @Summary Update file metadata
// @Tags Files
// @Accept json
// @Produce json
// @Param id path string true "File ID"
// @Param payload body dto.UpdateFileRequest true "Mutable fields"
// @Success 200 {object} response.Envelope
// @Router /files/{id} [put]
func (h *FileHandler) Update(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "failed to read request body"))
		return
	}

	// Unknown keys are rejected, not silently dropped. Renaming, moving
	// between groups and counter edits are not update operations.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid update payload"))
		return
	}
	for key := range raw {
		if _, ok := updatableFileFields[key]; !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q is not updatable", key)))
			return
		}
	}

	var req dto.UpdateFileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid update payload"))
		return
	}

	record, err := h.service.Update(c.Request.Context(), c.Param("id"), toFileUpdate(req), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Delete godoc
// @Summary Soft delete a file
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Success 204
// @Router /files/{id} [delete]
func (h *FileHandler) Delete(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.SoftDelete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Stats godoc
// @Summary Aggregate statistics over visible files
// @Tags Files
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /files/stats/summary [get]
func (h *FileHandler) Stats(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	summary, err := h.service.Stats(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, summary.Cached)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export the visible file inventory
// @Tags Files
// @Produce octet-stream
// @Param format query string false "csv or pdf (default csv)"
// @Success 200 {file} binary
// @Router /files/export [get]
func (h *FileHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	payload, err := h.exporter.Inventory(c.Request.Context(), format, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", payload.Filename))
	c.Data(http.StatusOK, payload.ContentType, payload.Content)
}

// AccessLog godoc
// @Summary List a file's access audit trail
// @Tags Files
// @Produce json
// @Param id path string true "File ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /files/{id}/access-log [get]
func (h *FileHandler) AccessLog(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "file service not configured"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	entries, err := h.service.AccessLog(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// uploadReader returns the part as a seekable stream. Non-seekable
// sources are buffered, but never past the size cap: the declared size
// already exceeds the limit in that case and the service rejects it.
func uploadReader(src io.Reader, maxBytes int64) (io.ReadSeeker, error) {
	if reader, ok := src.(io.ReadSeeker); ok {
		return reader, nil
	}
	buf, err := io.ReadAll(io.LimitReader(src, maxBytes+1))
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func clientMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		SourceIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func toFileUpdate(req dto.UpdateFileRequest) models.FileUpdate {
	var update models.FileUpdate
	if req.Category != nil {
		category := models.FileCategory(strings.ToUpper(*req.Category))
		update.Category = &category
	}
	if req.Tags != nil {
		tags := models.NewTagSet(*req.Tags)
		update.Tags = &tags
	}
	if req.Description != nil {
		update.Description = req.Description
	}
	if req.Visibility != nil {
		visibility := models.FileVisibility(strings.ToUpper(*req.Visibility))
		update.Visibility = &visibility
	}
	return update
}
