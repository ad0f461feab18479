package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"firestige.xyz/igmpmon/internal/core"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// WriterConfig represents writer sink configuration.
type WriterConfig struct {
	Format     string `mapstructure:"format"`      // json | yaml, default json
	Path       string `mapstructure:"path"`        // empty or "-" = stdout
	MaxSize    int    `mapstructure:"max_size"`    // MB before rotation, file output only
	MaxBackups int    `mapstructure:"max_backups"` // rotated files kept
	MaxAge     int    `mapstructure:"max_age"`     // days rotated files are kept
	Compress   bool   `mapstructure:"compress"`
}

type encoder interface {
	Encode(v any) error
}

// WriterSink writes one JSON line or YAML document per datagram.
type WriterSink struct {
	cfg    WriterConfig
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	enc    encoder
	yaml   *yaml.Encoder
}

func init() {
	Register("writer", func(options map[string]any) (Sink, error) {
		return NewWriterSink(options)
	})
}

// NewWriterSink creates a writer sink. File output rotates through lumberjack.
func NewWriterSink(options map[string]any) (*WriterSink, error) {
	cfg := WriterConfig{Format: formatJSON, MaxSize: 100, MaxBackups: 5, MaxAge: 30}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}

	s := &WriterSink{cfg: cfg}
	if cfg.Path == "" || cfg.Path == "-" {
		s.out = os.Stdout
	} else {
		lj := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		s.out = lj
		s.closer = lj
	}

	switch cfg.Format {
	case formatJSON:
		s.enc = json.NewEncoder(s.out)
	case formatYAML:
		s.yaml = yaml.NewEncoder(s.out)
		s.enc = s.yaml
	default:
		return nil, fmt.Errorf("%w: invalid format %q, must be json or yaml", core.ErrConfigInvalid, cfg.Format)
	}
	return s, nil
}

func (s *WriterSink) Name() string { return "writer" }

func (s *WriterSink) Send(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enc == nil {
		return fmt.Errorf("writer sink closed")
	}
	if err := s.enc.Encode(pkt); err != nil {
		return fmt.Errorf("%s encode failed: %w", s.cfg.Format, err)
	}
	return nil
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.yaml != nil {
		err = s.yaml.Close()
		s.yaml = nil
	}
	s.enc = nil
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}
