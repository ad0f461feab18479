// Package log provides the process logger, a logrus backend behind a small
// interface.
package log

import (
	"os"
	"sync"
)

type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})

	Trace(args ...interface{})
	Tracef(format string, args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsTraceEnabled() bool
	IsDebugEnabled() bool
	IsInfoEnabled() bool
}

var (
	mu     sync.RWMutex
	logger Logger
	output *MultiWriter
)

// GetLogger returns the process logger. Before Init it is an info level
// logger writing to stdout.
func GetLogger() Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		cfg := &LoggerConfig{}
		cfg.applyDefaults()
		logger, _ = newLogrusAdapter(cfg, NewMultiWriter().Add(os.Stdout))
	}
	return logger
}

// Init replaces the process logger. Appenders opened by a previous Init are
// closed.
func Init(cfg *LoggerConfig) error {
	l, w, err := initByConfig(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	prev := output
	logger, output = l, w
	mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// Close flushes and closes the appenders of the current logger.
func Close() error {
	mu.Lock()
	w := output
	output = nil
	mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}
