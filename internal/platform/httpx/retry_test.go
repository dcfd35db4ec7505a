package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"n": 7})
	}))
	defer srv.Close()

	c := NewClient(time.Second, http.Header{"Authorization": {"secret"}})
	c.Backoff = time.Millisecond

	var out struct{ N int }
	require.NoError(t, c.PostJSON(context.Background(), srv.URL, map[string]string{"a": "b"}, &out))
	assert.Equal(t, 7, out.N)
	assert.EqualValues(t, 3, calls.Load())
}

func TestPostJSON_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(time.Second, nil)
	c.Backoff = time.Millisecond

	err := c.PostJSON(context.Background(), srv.URL, struct{}{}, &struct{}{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "bad input", se.Body)
	assert.EqualValues(t, 1, calls.Load())
}
