package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaConfig represents Kafka sink configuration.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Async        bool          `mapstructure:"async"`         // fire and forget, errors are only logged
}

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes one JSON record per datagram, keyed by source address
// so that a host's messages stay ordered within a partition.
type KafkaSink struct {
	cfg    KafkaConfig
	writer messageWriter

	// Statistics
	sentCount  atomic.Uint64
	errorCount atomic.Uint64
}

func init() {
	Register("kafka", func(options map[string]any) (Sink, error) {
		return NewKafkaSink(options)
	})
}

// NewKafkaSink creates a Kafka sink. Connections are opened lazily on the
// first write.
func NewKafkaSink(options map[string]any) (*KafkaSink, error) {
	cfg := KafkaConfig{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers is required", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", core.ErrConfigInvalid)
	}

	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	logger := log.GetLogger().WithField("sink", "kafka")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same source address, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		RequiredAcks: kafka.RequireOne,
		Compression:  codec,
		Async:        cfg.Async,
		ErrorLogger:  kafka.LoggerFunc(logger.Errorf),
	}

	s := &KafkaSink{cfg: cfg, writer: w}
	if cfg.Async {
		w.Completion = s.complete
	}

	logger.WithFields(map[string]interface{}{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"batch_size":  cfg.BatchSize,
		"compression": cfg.Compression,
		"async":       cfg.Async,
	}).Info("kafka sink created")
	return s, nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Send publishes a datagram.
func (s *KafkaSink) Send(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}

	msg, err := buildMessage(pkt)
	if err != nil {
		s.errorCount.Add(1)
		return err
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	if !s.cfg.Async {
		s.sentCount.Add(1)
	}
	return nil
}

// complete accounts for batches written in async mode.
func (s *KafkaSink) complete(messages []kafka.Message, err error) {
	if err != nil {
		s.errorCount.Add(uint64(len(messages)))
		return
	}
	s.sentCount.Add(uint64(len(messages)))
}

// buildMessage encodes a datagram as a Kafka record. Labels become headers
// in key order.
func buildMessage(pkt *core.OutputPacket) (kafka.Message, error) {
	value, err := json.Marshal(pkt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("serialize packet failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(pkt.SrcIP.String()),
		Value: value,
		Time:  pkt.Timestamp,
	}

	if len(pkt.Labels) > 0 {
		keys := make([]string, 0, len(pkt.Labels))
		for k := range pkt.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		msg.Headers = make([]kafka.Header, 0, len(keys))
		for _, k := range keys {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(pkt.Labels[k])})
		}
	}
	return msg, nil
}

// Close flushes pending messages.
func (s *KafkaSink) Close() error {
	err := s.writer.Close()
	log.GetLogger().WithFields(map[string]interface{}{
		"total_sent":   s.sentCount.Load(),
		"total_errors": s.errorCount.Load(),
	}).Info("kafka sink closed")
	if err != nil {
		return fmt.Errorf("kafka close failed: %w", err)
	}
	return nil
}
