package log

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatterPattern(t *testing.T) {
	f := &formatter{pattern: "%time [%level] %msg {%field}%n", time: "15:04:05"}
	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 1, 12, 30, 45, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "group joined",
		Data:    logrus.Fields{"group": "239.1.1.1", "count": 3, "addr": "10.0.0.1"},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "12:30:45 [warning] group joined {addr=10.0.0.1,count=3,group=239.1.1.1}\n", string(out))
}

func TestFormatterGoroutine(t *testing.T) {
	f := &formatter{pattern: "%goroutine", time: time.RFC3339}
	out, err := f.Format(&logrus.Entry{Data: logrus.Fields{}})
	require.NoError(t, err)
	assert.NotEqual(t, "unknown", string(out))
	assert.NotEmpty(t, out)
}

func TestNewLogrusAdapterLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogrusAdapter(&LoggerConfig{Level: "warn", Pattern: DefaultPattern, Time: DefaultTime}, NewMultiWriter().Add(&buf))
	require.NoError(t, err)

	l.Info("hidden")
	l.WithField("iface", "eth0").Warn("shown")

	assert.False(t, l.IsInfoEnabled())
	assert.False(t, l.IsDebugEnabled())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown iface=eth0")
}

func TestNewLogrusAdapterInvalidLevel(t *testing.T) {
	_, err := newLogrusAdapter(&LoggerConfig{Level: "loud"}, NewMultiWriter())
	assert.Error(t, err)
}

func TestInitWithFileAppender(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "igmpmon.log")
	err := Init(&LoggerConfig{
		Level: "debug",
		File: FileAppenderOpt{
			Filename:   logPath,
			MaxSize:    1,
			MaxBackups: 1,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close() })

	GetLogger().WithField("group", "239.1.1.1").Debug("report")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "report group=239.1.1.1"), "got %q", data)
}

func TestInitInvalidLevelKeepsLogger(t *testing.T) {
	before := GetLogger()
	err := Init(&LoggerConfig{Level: "loud"})
	assert.Error(t, err)
	assert.Same(t, before, GetLogger())
}

func TestGetLoggerBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestMultiWriterKeepsWritingAfterFailure(t *testing.T) {
	var buf bytes.Buffer
	w := NewMultiWriter().Add(failingWriter{}).Add(&buf)

	n, err := w.Write([]byte("line"))
	assert.Error(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "line", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, os.ErrClosed }
