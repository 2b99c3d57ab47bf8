package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cantrace/backend/internal/session"
	"github.com/cantrace/backend/internal/testutil"
	"github.com/cantrace/backend/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const testTrace = "PORT1 581 8 43 10 20 01 00 00 00\n" +
	"PORT1 601 8 40 10 20 01 00 00 00\n" +
	"PORT2 182 2 AA BB\n" +
	"PORT2 702 1 05\n" +
	"PORT2\n"

type testServer struct {
	e        *echo.Echo
	store    *testutil.MockStorage
	sessions *session.Manager
}

func newTestServer(t *testing.T, cfg session.Config) *testServer {
	t.Helper()
	store := testutil.NewMockStorage()
	sessions := session.NewManager(cfg, nil)
	t.Cleanup(sessions.Close)

	e := echo.New()
	SetupMiddleware(e, nil, MiddlewareConfig{})
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:    store,
		Sessions: sessions,
		Jobs:     upload.NewManager(store, nil),
		Version:  "test",
	}))
	return &testServer{e: e, store: store, sessions: sessions}
}

func (s *testServer) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, target string, v interface{}) *httptest.ResponseRecorder {
	var body io.Reader
	if v != nil {
		data, _ := json.Marshal(v)
		body = bytes.NewReader(data)
	}
	return s.do(method, target, body, echo.MIMEApplicationJSON)
}

func (s *testServer) startSession(t *testing.T, text string) string {
	t.Helper()
	rec := s.doJSON(http.MethodPost, "/api/sessions", map[string]string{"name": "inline", "text": text})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	decode(t, rec, &resp)
	return resp.ID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func multipartBody(t *testing.T, field, filename string, content []byte, values map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for k, v := range values {
		require.NoError(t, writer.WriteField(k, v))
	}
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}
