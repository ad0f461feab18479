package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/igmpmon/internal/core"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaSink(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
		wantErr bool
	}{
		{"minimal", map[string]any{"brokers": []string{"localhost:9092"}, "topic": "igmp"}, false},
		{"comma brokers", map[string]any{"brokers": "k1:9092,k2:9092", "topic": "igmp"}, false},
		{"zstd async", map[string]any{"brokers": "k1:9092", "topic": "igmp", "compression": "zstd", "async": true}, false},
		{"batch timeout string", map[string]any{"brokers": "k1:9092", "topic": "igmp", "batch_timeout": "1s"}, false},
		{"no brokers", map[string]any{"topic": "igmp"}, true},
		{"no topic", map[string]any{"brokers": "k1:9092"}, true},
		{"bad compression", map[string]any{"brokers": "k1:9092", "topic": "igmp", "compression": "brotli"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewKafkaSink(tt.options)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, core.ErrConfigInvalid))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "kafka", s.Name())
			w, ok := s.writer.(*kafka.Writer)
			require.True(t, ok)
			assert.Equal(t, "igmp", w.Topic)
			assert.Equal(t, s.cfg.Async, w.Completion != nil)
		})
	}
}

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]kafka.Compression{
		"":       0,
		"none":   0,
		"gzip":   kafka.Gzip,
		"snappy": kafka.Snappy,
		"lz4":    kafka.Lz4,
		"zstd":   kafka.Zstd,
	} {
		got, err := parseCompression(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestBuildMessage(t *testing.T) {
	pkt := outputPacket("10.0.0.5", v2Report("239.1.2.3"))
	msg, err := buildMessage(pkt)
	require.NoError(t, err)

	assert.Equal(t, []byte("10.0.0.5"), msg.Key)
	assert.Equal(t, testTime, msg.Time)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, pkt.ID, decoded["id"])

	keys := make([]string, len(msg.Headers))
	for i, h := range msg.Headers {
		keys[i] = h.Key
	}
	assert.IsIncreasing(t, keys)
	assert.Contains(t, keys, core.LabelIGMPType)
	for _, h := range msg.Headers {
		assert.Equal(t, pkt.Labels[h.Key], string(h.Value))
	}
}

func TestKafkaSinkSend(t *testing.T) {
	fw := &fakeWriter{}
	s := &KafkaSink{writer: fw}
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, outputPacket("10.0.0.5", v2Report("239.1.2.3"))))
	require.NoError(t, s.Send(ctx, outputPacket("10.0.0.6", nil)))
	assert.Len(t, fw.msgs, 2)
	assert.Equal(t, uint64(2), s.sentCount.Load())

	fw.err = errors.New("broker down")
	assert.Error(t, s.Send(ctx, outputPacket("10.0.0.5", nil)))
	assert.Error(t, s.Send(ctx, nil))
	assert.Equal(t, uint64(1), s.errorCount.Load())

	require.NoError(t, s.Close())
	assert.True(t, fw.closed)
}

func TestKafkaSinkCompletion(t *testing.T) {
	s := &KafkaSink{cfg: KafkaConfig{Async: true}, writer: &fakeWriter{}}

	require.NoError(t, s.Send(context.Background(), outputPacket("10.0.0.5", nil)))
	assert.Zero(t, s.sentCount.Load())

	s.complete(make([]kafka.Message, 3), nil)
	s.complete(make([]kafka.Message, 2), errors.New("timeout"))
	assert.Equal(t, uint64(3), s.sentCount.Load())
	assert.Equal(t, uint64(2), s.errorCount.Load())
}
