package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/cantrace/backend/internal/models"
	"github.com/cantrace/backend/internal/parser"
	"github.com/cantrace/backend/internal/session"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func outputOf(t *testing.T, s *testServer, id string) []string {
	t.Helper()
	rec := s.do(http.MethodGet, "/api/sessions/"+id+"/output", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	return strings.FieldsFunc(rec.Body.String(), func(r rune) bool { return r == '\r' })
}

func TestFilterHandler_SetField(t *testing.T) {
	s := newTestServer(t, session.Config{})
	id := s.startSession(t, testTrace)

	rec := s.doJSON(http.MethodPut, "/api/sessions/"+id+"/criteria/port", map[string]string{"value": "port1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var r resultResponse
	decode(t, rec, &r)
	assert.Equal(t, 2, r.Matched)
	assert.Equal(t, 1, r.Malformed)
	assert.Equal(t, []string{
		"PORT1 581 8 43 10 20 01 00 00 00",
		"PORT1 601 8 40 10 20 01 00 00 00",
	}, outputOf(t, s, id))

	rec = s.doJSON(http.MethodPut, "/api/sessions/"+id+"/criteria/speed", map[string]string{"value": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterHandler_Types(t *testing.T) {
	s := newTestServer(t, session.Config{})
	id := s.startSession(t, testTrace)

	rec := s.do(http.MethodPut, "/api/sessions/"+id+"/types/t_sdo", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"PORT1 581 8 43 10 20 01 00 00 00"}, outputOf(t, s, id))

	rec = s.do(http.MethodPut, "/api/sessions/"+id+"/types/NODE-GUARD", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/api/sessions/"+id+"/types/T_SDO", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"PORT2 702 1 05"}, outputOf(t, s, id))

	rec = s.do(http.MethodPut, "/api/sessions/"+id+"/types/SYNC", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterHandler_Criteria(t *testing.T) {
	s := newTestServer(t, session.Config{})
	id := s.startSession(t, testTrace)

	rec := s.doJSON(http.MethodPut, "/api/sessions/"+id+"/criteria", models.FilterCriteria{
		ObjectIndices: []string{"2010"},
		Types:         []models.PacketType{models.PacketRSDO},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"PORT1 601 8 40 10 20 01 00 00 00"}, outputOf(t, s, id))

	rec = s.do(http.MethodGet, "/api/sessions/"+id+"/criteria", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c models.FilterCriteria
	decode(t, rec, &c)
	assert.Equal(t, []string{"2010"}, c.ObjectIndices)
	assert.Equal(t, []models.PacketType{models.PacketRSDO}, c.Types)

	rec = s.doJSON(http.MethodPut, "/api/sessions/"+id+"/criteria", map[string]interface{}{"types": []string{"bogus"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterHandler_OutputFormats(t *testing.T) {
	s := newTestServer(t, session.Config{})
	id := s.startSession(t, testTrace)

	rec := s.doJSON(http.MethodPut, "/api/sessions/"+id+"/criteria/address", map[string]string{"value": "2"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/sessions/"+id+"/output", nil, "")
	assert.Equal(t, echo.MIMETextPlainCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "PORT2 182 2 AA BB\rPORT2 702 1 05\r", rec.Body.String())

	rec = s.do(http.MethodGet, "/api/sessions/"+id+"/output?format=json", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var r parser.Result
	decode(t, rec, &r)
	assert.Equal(t, 2, r.Matched)
	assert.Equal(t, 1, r.Malformed)

	rec = s.do(http.MethodGet, "/api/sessions/"+id+"/output?format=msgpack", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MIMEApplicationMsgpack, rec.Header().Get(echo.HeaderContentType))
	var p outputPayload
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "PORT2 182 2 AA BB\rPORT2 702 1 05\r", p.Text)
	assert.Equal(t, "plain", p.Layout)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, 5, p.Errors[0].Line)

	rec = s.do(http.MethodGet, "/api/sessions/"+id+"/output?format=xml", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilterHandler_Errors(t *testing.T) {
	s := newTestServer(t, session.Config{MaxReportedErrors: 1})
	id := s.startSession(t, testTrace+"PORT3\n")

	rec := s.doJSON(http.MethodPut, "/api/sessions/"+id+"/criteria/address", map[string]string{"value": "1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/sessions/"+id+"/errors", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp errorsResponse
	decode(t, rec, &resp)
	assert.Equal(t, 2, resp.Malformed)
	assert.Len(t, resp.Errors, 1)
	assert.True(t, resp.Truncated)
}

func TestFilterHandler_ErrorsEmpty(t *testing.T) {
	s := newTestServer(t, session.Config{})
	id := s.startSession(t, testTrace)

	rec := s.do(http.MethodGet, "/api/sessions/"+id+"/errors", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"errors":[]`)
	assert.Contains(t, rec.Body.String(), `"truncated":false`)
}

func TestFilterHandler_Summary(t *testing.T) {
	s := newTestServer(t, session.Config{})
	id := s.startSession(t, testTrace)

	rec := s.do(http.MethodGet, "/api/sessions/"+id+"/summary", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s = newTestServer(t, session.Config{IndexDir: t.TempDir()})
	id = s.startSession(t, testTrace)

	rec = s.do(http.MethodGet, "/api/sessions/"+id+"/summary", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sum models.TraceSummary
	decode(t, rec, &sum)
	assert.Equal(t, 5, sum.Frames)
	assert.Equal(t, 1, sum.Malformed)
	assert.Equal(t, []string{"2010"}, sum.ObjectIndices)
}

func TestFilterHandler_ListTypes(t *testing.T) {
	s := newTestServer(t, session.Config{})

	rec := s.do(http.MethodGet, "/api/types", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var types []packetTypeResponse
	decode(t, rec, &types)
	require.Len(t, types, len(models.AllPacketTypes()))
	assert.Equal(t, models.PacketNMT, types[0].Name)
	assert.Equal(t, "0x000", types[0].FunctionCode)
	assert.Equal(t, "0x700", types[len(types)-1].FunctionCode)
}
