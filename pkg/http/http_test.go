package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes func(e *echo.Echo)

func (r routes) RegisterRoutes(e *echo.Echo) { r(e) }

type pageQuery struct {
	Path  string `query:"rel_path" validate:"required"`
	Limit int    `query:"limit" default:"500" validate:"gte=1,lte=5000"`
}

func newTestServer(t *testing.T, h Handler) *Server {
	t.Helper()
	return NewServer(nil, []Handler{h}, WithRegistry(prometheus.NewRegistry()))
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestReadAndValidateRequest(t *testing.T) {
	var got pageQuery
	s := newTestServer(t, routes(func(e *echo.Echo) {
		e.GET("/page", func(c echo.Context) error {
			got = pageQuery{}
			if errs := ReadAndValidateRequest(c, &got); errs != nil {
				return ValidationErrorResponse(c, errs)
			}
			return SuccessResponse(c, got)
		})
	}))

	rec := do(s, http.MethodGet, "/page?rel_path=a.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, got.Limit, "default applied")

	rec = do(s, http.MethodGet, "/page?rel_path=a.csv&limit=9000", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Status int               `json:"status"`
		Data   []ValidationError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "ERR_LTE", resp.Data[0].Code)
	assert.Equal(t, "limit", resp.Data[0].Field)

	rec = do(s, http.MethodGet, "/page", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "rel_path is required")
}

func TestErrorHandlerRendersAppError(t *testing.T) {
	s := newTestServer(t, routes(func(e *echo.Echo) {
		e.GET("/missing", func(c echo.Context) error {
			return NotFoundError("csv not found").WithError(errors.New("stat: no such file"))
		})
		e.GET("/boom", func(c echo.Context) error { return errors.New("db down") })
		e.GET("/panic", func(c echo.Context) error { panic("kaboom") })
	}))

	rec := do(s, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")
	assert.NotContains(t, rec.Body.String(), "no such file")

	rec = do(s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")

	rec = do(s, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(s, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "heimdall_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer(nil, nil, WithRegistry(prometheus.NewRegistry()), WithCORS([]string{"http://ui.local"}))

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set(echo.HeaderOrigin, "http://ui.local")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://ui.local", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderOrigin, "http://evil.local")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
