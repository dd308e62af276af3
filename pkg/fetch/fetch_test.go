package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nox-backend/pkg/media"
)

func TestClientRetriesServerErrors(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(time.Second, 3)
	client.backoff = time.Millisecond

	body, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 3, requestCount)
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(time.Second, 3)
	_, err := client.Get(context.Background(), server.URL)
	assert.ErrorIs(t, err, media.ErrNotFound)
}

func TestClientPostRewindsBody(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		bodies = append(bodies, buf.String())
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer server.Close()

	client := NewClient(time.Second, 1)
	client.backoff = time.Millisecond

	_, err := client.Post(context.Background(), server.URL, strings.NewReader(`{"a":1}`),
		WithHeader("Content-Type", "application/json"))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
}

func TestClientNetworkFailure(t *testing.T) {
	client := NewClient(100*time.Millisecond, 0)
	_, err := client.Get(context.Background(), "http://127.0.0.1:1/unreachable")
	assert.ErrorIs(t, err, media.ErrNetwork)
}
