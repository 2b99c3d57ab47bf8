// handlers_filter.go - Criteria edits and filter output handlers
package api

import (
	"fmt"
	"net/http"

	"github.com/cantrace/backend/internal/models"
	"github.com/cantrace/backend/internal/parser"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// MIMEApplicationMsgpack is the content type of msgpack output.
const MIMEApplicationMsgpack = "application/x-msgpack"

// FilterHandlerImpl implements the FilterHandler interface
type FilterHandlerImpl struct {
	sessions SessionManager
}

// NewFilterHandler creates a new filter handler instance
func NewFilterHandler(sessions SessionManager) FilterHandler {
	return &FilterHandlerImpl{sessions: sessions}
}

// HandleSetField replaces one free-form criteria string
func (h *FilterHandlerImpl) HandleSetField(c echo.Context) error {
	id := c.Param("id")
	var req setFieldRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	r, err := h.sessions.SetField(id, c.Param("field"), req.Value)
	if err != nil {
		return fromDomainError(id, err)
	}
	return c.JSON(http.StatusOK, newResultResponse(r))
}

// HandleSetCriteria replaces every filter with a single recompute
func (h *FilterHandlerImpl) HandleSetCriteria(c echo.Context) error {
	id := c.Param("id")
	var criteria models.FilterCriteria
	if err := c.Bind(&criteria); err != nil {
		return NewBadRequestError("invalid criteria", err)
	}

	r, err := h.sessions.SetCriteria(id, criteria)
	if err != nil {
		return fromDomainError(id, err)
	}
	return c.JSON(http.StatusOK, newResultResponse(r))
}

// HandleGetCriteria returns the active filters
func (h *FilterHandlerImpl) HandleGetCriteria(c echo.Context) error {
	id := c.Param("id")
	criteria, err := h.sessions.Criteria(id)
	if err != nil {
		return fromDomainError(id, err)
	}
	return c.JSON(http.StatusOK, criteria)
}

// HandleAddType adds a packet type to the type filter
func (h *FilterHandlerImpl) HandleAddType(c echo.Context) error {
	return h.editType(c, SessionManager.AddType)
}

// HandleRemoveType removes a packet type from the type filter
func (h *FilterHandlerImpl) HandleRemoveType(c echo.Context) error {
	return h.editType(c, SessionManager.RemoveType)
}

func (h *FilterHandlerImpl) editType(c echo.Context, edit func(SessionManager, string, models.PacketType) (parser.Result, error)) error {
	id := c.Param("id")
	name := c.Param("type")
	t, ok := models.ParsePacketType(name)
	if !ok {
		return NewBadRequestError(fmt.Sprintf("unknown packet type: %s", name), nil)
	}

	r, err := edit(h.sessions, id, t)
	if err != nil {
		return fromDomainError(id, err)
	}
	return c.JSON(http.StatusOK, newResultResponse(r))
}

// HandleListTypes returns the CANopen packet types and their function codes
func (h *FilterHandlerImpl) HandleListTypes(c echo.Context) error {
	all := models.AllPacketTypes()
	out := make([]packetTypeResponse, 0, len(all))
	for _, t := range all {
		code, _ := t.FunctionCode()
		out = append(out, packetTypeResponse{
			Name:         t,
			FunctionCode: fmt.Sprintf("0x%03X", code),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleOutput returns the filtered text. format=json and format=msgpack
// return the whole result instead of plain text.
func (h *FilterHandlerImpl) HandleOutput(c echo.Context) error {
	id := c.Param("id")
	r, err := h.sessions.Result(id)
	if err != nil {
		return fromDomainError(id, err)
	}

	switch format := c.QueryParam("format"); format {
	case "", "text":
		return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, []byte(r.Text))
	case "json":
		return c.JSON(http.StatusOK, r)
	case "msgpack":
		data, err := msgpack.Marshal(newOutputPayload(r))
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, MIMEApplicationMsgpack, data)
	default:
		return NewBadRequestError(fmt.Sprintf("unsupported format: %s", format), nil)
	}
}

// HandleErrors returns the malformed line details of the latest result
func (h *FilterHandlerImpl) HandleErrors(c echo.Context) error {
	id := c.Param("id")
	r, err := h.sessions.Result(id)
	if err != nil {
		return fromDomainError(id, err)
	}

	errs := r.Errors
	if errs == nil {
		errs = []models.ParseError{}
	}
	return c.JSON(http.StatusOK, errorsResponse{
		Malformed: r.Malformed,
		Errors:    errs,
		Truncated: len(errs) < r.Malformed,
	})
}

// HandleSummary aggregates the session's frames through the frame index
func (h *FilterHandlerImpl) HandleSummary(c echo.Context) error {
	id := c.Param("id")
	s, err := h.sessions.Summary(c.Request().Context(), id)
	if err != nil {
		return fromDomainError(id, err)
	}
	return c.JSON(http.StatusOK, s)
}

// Request/Response types

type setFieldRequest struct {
	Value string `json:"value"`
}

type packetTypeResponse struct {
	Name         models.PacketType `json:"name"`
	FunctionCode string            `json:"functionCode"`
}

// resultResponse is a recompute result without the filtered text.
type resultResponse struct {
	Layout    parser.Layout `json:"layout"`
	Total     int           `json:"total"`
	Matched   int           `json:"matched"`
	Malformed int           `json:"malformed"`
}

func newResultResponse(r parser.Result) resultResponse {
	return resultResponse{
		Layout:    r.Layout,
		Total:     r.Total,
		Matched:   r.Matched,
		Malformed: r.Malformed,
	}
}

type errorsResponse struct {
	Malformed int                 `json:"malformed"`
	Errors    []models.ParseError `json:"errors"`
	Truncated bool                `json:"truncated"`
}

// outputPayload is the msgpack form of a result.
type outputPayload struct {
	Text      string              `msgpack:"text"`
	Layout    string              `msgpack:"layout"`
	Total     int                 `msgpack:"total"`
	Matched   int                 `msgpack:"matched"`
	Malformed int                 `msgpack:"malformed"`
	Errors    []models.ParseError `msgpack:"errors"`
}

func newOutputPayload(r parser.Result) outputPayload {
	return outputPayload{
		Text:      r.Text,
		Layout:    r.Layout.String(),
		Total:     r.Total,
		Matched:   r.Matched,
		Malformed: r.Malformed,
		Errors:    r.Errors,
	}
}
