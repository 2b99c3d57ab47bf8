// handlers_upload.go - Trace file upload and management handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/cantrace/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// recentFilesLimit caps GET /files/recent.
const recentFilesLimit = 20

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store    storage.Store
	sessions SessionManager
	jobs     UploadJobs
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(store storage.Store, sessions SessionManager, jobs UploadJobs) UploadHandler {
	return &UploadHandlerImpl{
		store:    store,
		sessions: sessions,
		jobs:     jobs,
	}
}

// HandleUploadFile accepts a trace as multipart form field "file"
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleUploadChunk accepts one chunk of a chunked upload. The chunk is the
// multipart field "file"; uploadId and chunkIndex are form values.
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	uploadID := c.FormValue("uploadId")
	if uploadID == "" {
		return NewValidationError("uploadId")
	}
	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil || chunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no chunk provided", err)
	}
	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open chunk", err)
	}
	defer src.Close()

	if err := h.store.SaveChunk(uploadID, chunkIndex, src); err != nil {
		return NewInternalError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload starts background assembly of a chunked upload
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	job, err := h.jobs.StartJob(req.UploadID, req.Name, req.TotalChunks, req.OriginalSize, req.Encoding)
	if err != nil {
		return fromDomainError(req.UploadID, err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"jobId":  job.ID,
		"status": job.Status,
	})
}

// HandleUploadJob returns the state of an upload job
func (h *UploadHandlerImpl) HandleUploadJob(c echo.Context) error {
	id := c.Param("jobId")
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("upload job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleGetRecentFiles returns the most recently uploaded traces
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	files, err := h.store.List(recentFilesLimit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a file and every session loaded from it
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.Delete(id); err != nil {
		return fromDomainError(id, err)
	}

	h.sessions.DeleteByFile(id)
	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the display name of a file
func (h *UploadHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Name == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// Request/Response types

type completeUploadRequest struct {
	UploadID     string `json:"uploadId"`
	Name         string `json:"name"`
	TotalChunks  int    `json:"totalChunks"`
	OriginalSize int64  `json:"originalSize"`
	Encoding     string `json:"encoding"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}

type renameFileRequest struct {
	Name string `json:"name"`
}
