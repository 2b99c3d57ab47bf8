// handlers_session.go - Filter session lifecycle handlers
package api

import (
	"io"
	"net/http"

	"github.com/cantrace/backend/internal/storage"
	"github.com/labstack/echo/v4"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	store    storage.Store
	sessions SessionManager
}

// NewSessionHandler creates a new session handler instance
func NewSessionHandler(store storage.Store, sessions SessionManager) SessionHandler {
	return &SessionHandlerImpl{
		store:    store,
		sessions: sessions,
	}
}

// HandleCreateSession opens a filter session on a stored file or on
// inline text
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	name, text := req.Name, req.Text
	if req.FileID != "" {
		info, err := h.store.Get(req.FileID)
		if err != nil {
			return NewNotFoundError("file", req.FileID)
		}
		text, err = h.store.ReadText(req.FileID)
		if err != nil {
			return NewInternalError("failed to read file", err)
		}
		if name == "" {
			name = info.Name
		}
	}

	s, err := h.sessions.StartSession(req.FileID, name, text)
	if err != nil {
		return NewInternalError("failed to start session", err)
	}
	return c.JSON(http.StatusCreated, s)
}

// HandleGetSession returns session metadata and counters
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	s, ok := h.sessions.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, s)
}

// HandleDeleteSession closes a session
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.DeleteSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleKeepAlive refreshes the idle timer of a session
func (h *SessionHandlerImpl) HandleKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.TouchSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSetText replaces the session document with the raw request body
func (h *SessionHandlerImpl) HandleSetText(c echo.Context) error {
	id := c.Param("id")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read body", err)
	}

	r, err := h.sessions.SetText(id, string(body))
	if err != nil {
		return fromDomainError(id, err)
	}
	return c.JSON(http.StatusOK, newResultResponse(r))
}

type createSessionRequest struct {
	FileID string `json:"fileId"`
	Name   string `json:"name"`
	Text   string `json:"text"`
}

func (r *createSessionRequest) validate() error {
	if r.FileID == "" && r.Name == "" {
		return NewBadRequestError("either fileId or name is required", nil)
	}
	if r.FileID != "" && r.Text != "" {
		return NewBadRequestError("fileId and text are mutually exclusive", nil)
	}
	return nil
}
