package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStandardClient(t *testing.T) {
	c := NewStandardClient(nil)
	assert.Equal(t, DefaultTimeout, c.Timeout)

	custom := &http.Client{Timeout: time.Second}
	assert.Same(t, custom, NewStandardClient(custom).Client)
}

func TestStandardClientDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONOK(w, map[string]string{"label": "person"})
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := NewStandardClient(nil).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMockHTTPClient(t *testing.T) {
	m := NewMockHTTPClient().
		AddResponse(http.StatusCreated, `{"ok":true}`).
		AddErrorResponse(errors.New("connection reset"))

	req, err := http.NewRequest(http.MethodPost, "http://inference.local/classify", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)

	resp, err := m.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"ok":true}`, string(body))

	sent, _ := io.ReadAll(m.GetRequest(0).Body)
	assert.Equal(t, "jpeg bytes", string(sent))

	req2, _ := http.NewRequest(http.MethodGet, "http://inference.local/", nil)
	_, err = m.Do(req2)
	assert.EqualError(t, err, "connection reset")

	req3, _ := http.NewRequest(http.MethodGet, "http://inference.local/", nil)
	resp, err = m.Do(req3)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "exhausted queue answers 200")

	assert.Equal(t, 3, m.RequestCount())
	assert.Nil(t, m.GetRequest(3))
	assert.Nil(t, m.GetRequest(-1))
}

func TestResponseHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		errMsg string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "limit must be positive") }, http.StatusBadRequest, "limit must be positive"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no such event") }, http.StatusNotFound, "no such event"},
		{"method", MethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "disk full") }, http.StatusInternalServerError, "disk full"},
		{"custom", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusForbidden, "outside") }, http.StatusForbidden, "outside"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.errMsg, body["error"])
		})
	}

	w := httptest.NewRecorder()
	WriteJSONOK(w, map[string]int{"total": 3})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":3}`, w.Body.String())
}
