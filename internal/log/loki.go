package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// LokiConfig configures the Grafana Loki appender. An empty Endpoint disables it.
type LokiConfig struct {
	Endpoint      string            `mapstructure:"endpoint"`       // push endpoint URL
	Labels        map[string]string `mapstructure:"labels"`         // stream labels, job and host are filled in
	BatchSize     int               `mapstructure:"batch_size"`     // lines per push
	FlushInterval time.Duration     `mapstructure:"flush_interval"` // 0 = 5s
}

const (
	lokiPushAttempts = 3
	lokiRetryBase    = 100 * time.Millisecond
	lokiPushTimeout  = 10 * time.Second
)

// LokiWriter is an io.Writer batching log lines into Loki pushes. Lines are
// pushed when a batch fills up, every flush interval and on Close. A push
// that keeps failing drops its batch.
type LokiWriter struct {
	endpoint      string
	labels        map[string]string
	batchSize     int
	flushInterval time.Duration
	client        *http.Client

	mu      sync.Mutex
	batch   [][]string // [unix nanos, line]
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	dropped atomic.Int64
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiWriter creates a Loki writer and starts its periodic flusher.
func NewLokiWriter(cfg LokiConfig) (*LokiWriter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("loki appender requires an endpoint")
	}
	if cfg.FlushInterval < 0 {
		return nil, fmt.Errorf("invalid loki flush interval %s", cfg.FlushInterval)
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	labels := make(map[string]string, len(cfg.Labels)+2)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	if _, ok := labels["job"]; !ok {
		labels["job"] = "igmpmon"
	}
	if _, ok := labels["host"]; !ok {
		if host, err := os.Hostname(); err == nil {
			labels["host"] = host
		}
	}

	lw := &LokiWriter{
		endpoint:      cfg.Endpoint,
		labels:        labels,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		client:        &http.Client{Timeout: lokiPushTimeout},
		batch:         make([][]string, 0, cfg.BatchSize),
		closeCh:       make(chan struct{}),
	}

	lw.wg.Add(1)
	go lw.flusher()

	return lw, nil
}

// AddLokiAppender starts a LokiWriter and adds it to m.
func (m *MultiWriter) AddLokiAppender(cfg LokiConfig) (*LokiWriter, error) {
	lw, err := NewLokiWriter(cfg)
	if err != nil {
		return nil, err
	}
	m.writers = append(m.writers, lw)
	m.closers = append(m.closers, lw)
	return lw, nil
}

// Write queues one line. A full batch is pushed by the writing goroutine; a
// failed push is counted, never returned.
func (lw *LokiWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return 0, fmt.Errorf("loki writer is closed")
	}
	lw.batch = append(lw.batch, []string{strconv.FormatInt(time.Now().UnixNano(), 10), string(p)})
	var full [][]string
	if len(lw.batch) >= lw.batchSize {
		full = lw.takeLocked()
	}
	lw.mu.Unlock()

	if full != nil {
		_ = lw.push(full)
	}
	return len(p), nil
}

// Dropped returns the number of lines that could not be delivered.
func (lw *LokiWriter) Dropped() int64 {
	return lw.dropped.Load()
}

// Close pushes what is left and stops the flusher. Safe to call twice.
func (lw *LokiWriter) Close() error {
	lw.mu.Lock()
	if lw.closed {
		lw.mu.Unlock()
		return nil
	}
	lw.closed = true
	rest := lw.takeLocked()
	lw.mu.Unlock()

	close(lw.closeCh)
	lw.wg.Wait()

	return lw.push(rest)
}

func (lw *LokiWriter) flusher() {
	defer lw.wg.Done()

	ticker := time.NewTicker(lw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			lw.mu.Lock()
			values := lw.takeLocked()
			lw.mu.Unlock()
			_ = lw.push(values)

		case <-lw.closeCh:
			return
		}
	}
}

// takeLocked hands the current batch to the caller. lw.mu must be held.
func (lw *LokiWriter) takeLocked() [][]string {
	if len(lw.batch) == 0 {
		return nil
	}
	values := lw.batch
	lw.batch = make([][]string, 0, lw.batchSize)
	return values
}

// push sends values as one stream, retrying with exponential backoff.
func (lw *LokiWriter) push(values [][]string) error {
	if len(values) == 0 {
		return nil
	}

	data, err := json.Marshal(lokiPushRequest{
		Streams: []lokiStream{{Stream: lw.labels, Values: values}},
	})
	if err != nil {
		lw.dropped.Add(int64(len(values)))
		return fmt.Errorf("failed to marshal loki request: %w", err)
	}

	for attempt := 0; attempt < lokiPushAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(lokiRetryBase << (attempt - 1))
		}
		if err = lw.send(data); err == nil {
			return nil
		}
	}

	lw.dropped.Add(int64(len(values)))
	return fmt.Errorf("loki push failed after %d attempts: %w", lokiPushAttempts, err)
}

func (lw *LokiWriter) send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), lokiPushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lw.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := lw.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
