package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newErrorServer(showDetails bool) *echo.Echo {
	e := echo.New()
	SetupMiddleware(e, nil, MiddlewareConfig{ShowErrorDetails: showDetails})
	e.GET("/internal", func(c echo.Context) error {
		return NewInternalError("failed to read file", errors.New("disk full"))
	})
	e.GET("/unknown", func(c echo.Context) error {
		return errors.New("kaput")
	})
	e.GET("/bad", func(c echo.Context) error {
		return NewBadRequestError("invalid request body", errors.New("unexpected EOF"))
	})
	return e
}

func requestError(t *testing.T, e *echo.Echo, path string) (int, APIError) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr), rec.Body.String())
	return rec.Code, apiErr
}

func TestErrorHandler_Details(t *testing.T) {
	tests := []struct {
		path        string
		showDetails bool
		status      int
		details     string
	}{
		{"/internal", false, http.StatusInternalServerError, ""},
		{"/internal", true, http.StatusInternalServerError, "disk full"},
		{"/unknown", false, http.StatusInternalServerError, ""},
		{"/unknown", true, http.StatusInternalServerError, "kaput"},
		{"/bad", false, http.StatusBadRequest, "unexpected EOF"},
		{"/bad", true, http.StatusBadRequest, "unexpected EOF"},
	}
	for _, tt := range tests {
		status, apiErr := requestError(t, newErrorServer(tt.showDetails), tt.path)
		assert.Equal(t, tt.status, status, tt.path)
		assert.Equal(t, tt.details, apiErr.Details, "%s showDetails=%v", tt.path, tt.showDetails)
	}
}

func TestErrorHandler_UnknownRoute(t *testing.T) {
	status, apiErr := requestError(t, newErrorServer(false), "/missing")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "HTTP_ERROR", apiErr.Code)
}
