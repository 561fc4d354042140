package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"block-auction/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/peterldowns/testy/check"
)

func TestIdentity(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, Caller(c))
	}, Identity())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	check.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderBidderID, " alice ")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "alice", rec.Body.String())
}

func TestCORSWithLogging(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := CORSWithLogging(logger.NewNop())(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/ws/auction/a1", nil))
	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/auction/a1", nil))
	check.Equal(t, http.StatusTeapot, rec.Code)
}
