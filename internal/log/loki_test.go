package log

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lokiRecorder struct {
	mu       sync.Mutex
	requests []lokiPushRequest
	count    atomic.Int32
}

func (r *lokiRecorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body lokiPushRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.requests = append(r.requests, body)
		r.mu.Unlock()
		r.count.Add(1)
		w.WriteHeader(status)
	}
}

func TestNewLokiWriterDefaults(t *testing.T) {
	labels := map[string]string{"service": "test"}
	lw, err := NewLokiWriter(LokiConfig{
		Endpoint: "http://localhost:3100/loki/api/v1/push",
		Labels:   labels,
	})
	require.NoError(t, err)
	defer lw.Close()

	assert.Equal(t, 100, lw.batchSize)
	assert.Equal(t, 5*time.Second, lw.flushInterval)
	assert.Equal(t, "igmpmon", lw.labels["job"])
	assert.Equal(t, "test", lw.labels["service"])
	assert.NotEmpty(t, lw.labels["host"])
	_, mutated := labels["job"]
	assert.False(t, mutated, "caller labels must not be modified")
}

func TestNewLokiWriterInvalidConfig(t *testing.T) {
	_, err := NewLokiWriter(LokiConfig{})
	assert.Error(t, err)

	_, err = NewLokiWriter(LokiConfig{Endpoint: "http://localhost:3100", FlushInterval: -time.Second})
	assert.Error(t, err)
}

func TestLokiWriterWriteAfterClose(t *testing.T) {
	lw, err := NewLokiWriter(LokiConfig{Endpoint: "http://localhost:3100/loki/api/v1/push"})
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	_, err = lw.Write([]byte("late"))
	assert.Error(t, err)
	assert.NoError(t, lw.Close(), "second Close is a no-op")
}

func TestLokiWriterBatchFlush(t *testing.T) {
	rec := &lokiRecorder{}
	server := httptest.NewServer(rec.handler(http.StatusNoContent))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 3, FlushInterval: time.Hour})
	require.NoError(t, err)
	defer lw.Close()

	for _, line := range []string{"one", "two", "three"} {
		_, err := lw.Write([]byte(line))
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), rec.count.Load())
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.requests[0].Streams, 1)
	stream := rec.requests[0].Streams[0]
	assert.Equal(t, "igmpmon", stream.Stream["job"])
	require.Len(t, stream.Values, 3)
	assert.Equal(t, "three", stream.Values[2][1])
}

func TestLokiWriterPeriodicFlush(t *testing.T) {
	rec := &lokiRecorder{}
	server := httptest.NewServer(rec.handler(http.StatusNoContent))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, FlushInterval: 50 * time.Millisecond})
	require.NoError(t, err)
	defer lw.Close()

	_, err = lw.Write([]byte("tick"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.count.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
}

func TestLokiWriterCloseFlushes(t *testing.T) {
	rec := &lokiRecorder{}
	server := httptest.NewServer(rec.handler(http.StatusNoContent))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, FlushInterval: time.Hour})
	require.NoError(t, err)

	_, err = lw.Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, lw.Close())
	assert.Equal(t, int32(1), rec.count.Load())
}

func TestLokiWriterCountsDropped(t *testing.T) {
	rec := &lokiRecorder{}
	server := httptest.NewServer(rec.handler(http.StatusInternalServerError))
	defer server.Close()

	lw, err := NewLokiWriter(LokiConfig{Endpoint: server.URL, BatchSize: 2, FlushInterval: time.Hour})
	require.NoError(t, err)
	defer lw.Close()

	n, err := lw.Write([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = lw.Write([]byte("b"))
	require.NoError(t, err, "push failures are not surfaced to the logger")

	assert.Equal(t, int64(2), lw.Dropped())
	assert.Equal(t, int32(3), rec.count.Load(), "three attempts per push")
}
