// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/cantrace/backend/internal/models"
	"github.com/cantrace/backend/internal/parser"
	"github.com/cantrace/backend/internal/upload"
	"github.com/labstack/echo/v4"
)

// UploadHandler handles trace file operations
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleUploadJob(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
}

// SessionHandler handles filter session lifecycle and document edits
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleKeepAlive(c echo.Context) error
	HandleSetText(c echo.Context) error
}

// FilterHandler handles criteria edits and filter output
type FilterHandler interface {
	HandleSetField(c echo.Context) error
	HandleSetCriteria(c echo.Context) error
	HandleGetCriteria(c echo.Context) error
	HandleAddType(c echo.Context) error
	HandleRemoveType(c echo.Context) error
	HandleListTypes(c echo.Context) error
	HandleOutput(c echo.Context) error
	HandleErrors(c echo.Context) error
	HandleSummary(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// FeedHandler streams filter results over WebSocket
type FeedHandler interface {
	HandleFeed(c echo.Context) error
}

// SessionManager defines the session operations the handlers use.
// This allows mocking in tests
type SessionManager interface {
	StartSession(fileID, name, text string) (*models.FilterSession, error)
	GetSession(id string) (*models.FilterSession, bool)
	TouchSession(id string) bool
	DeleteSession(id string) bool
	DeleteByFile(fileID string) int
	Len() int
	SetText(id, text string) (parser.Result, error)
	SetField(id, field, value string) (parser.Result, error)
	AddType(id string, t models.PacketType) (parser.Result, error)
	RemoveType(id string, t models.PacketType) (parser.Result, error)
	SetCriteria(id string, c models.FilterCriteria) (parser.Result, error)
	Criteria(id string) (models.FilterCriteria, error)
	Result(id string) (parser.Result, error)
	Subscribe(id string, fn parser.Listener) (func(), error)
	Summary(ctx context.Context, id string) (*models.TraceSummary, error)
}

// UploadJobs runs chunked upload assembly in the background
type UploadJobs interface {
	StartJob(uploadID, fileName string, totalChunks int, originalSize int64, encoding string) (*upload.Job, error)
	GetJob(id string) (*upload.Job, bool)
}
