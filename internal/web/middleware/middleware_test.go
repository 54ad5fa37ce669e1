package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/heatcheck/internal/logging"
	"github.com/heatcheck/internal/web/metrics"
)

func TestRequestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("info", "text", &buf)
	m := metrics.New()

	router := mux.NewRouter()
	router.HandleFunc("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router.Use(RequestLogging(logger, m))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), "route=/api/items/{id}")
	assert.Contains(t, buf.String(), "status=418")
}

func TestRecover(t *testing.T) {
	logger := logging.New("error", "text", &bytes.Buffer{})

	router := mux.NewRouter()
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	router.Use(Recover(logger))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
