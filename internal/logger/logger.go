// Package logger wraps github.com/sirupsen/logrus with the component- and
// correlation-tagged entry points the rest of the service calls, plus a
// small ring buffer so the control plane can serve "recent events" without
// tailing a log file.
package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"proxycheck/pkg/types"
)

// Config selects the logger's level, output format, and ring buffer size.
type Config struct {
	Level      string // "debug", "info", "warn", "error"
	JSONFormat bool
	BufferSize int
}

// Logger pairs a logrus.Logger with a bounded ring buffer of recent
// formatted entries, so a caller can ask "what just happened" without a log
// aggregator in front of it.
type Logger struct {
	*logrus.Logger

	bufMu      sync.Mutex
	buf        []string
	bufferSize int
}

// hook appends every emitted entry's formatted message into the Logger's
// ring buffer.
type ringHook struct{ l *Logger }

func (h ringHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h ringHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return nil
	}
	h.l.bufMu.Lock()
	h.l.buf = append(h.l.buf, line)
	if len(h.l.buf) > h.l.bufferSize {
		h.l.buf = h.l.buf[len(h.l.buf)-h.l.bufferSize:]
	}
	h.l.bufMu.Unlock()
	return nil
}

// New builds a Logger per cfg, writing to stdout.
func New(cfg Config) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)

	if cfg.JSONFormat {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 500
	}

	l := &Logger{Logger: base, bufferSize: bufferSize}
	base.AddHook(ringHook{l: l})
	return l
}

// Recent returns the most recent formatted log lines, newest last, capped at
// limit (0 or negative means "all buffered").
func (l *Logger) Recent(limit int) []string {
	l.bufMu.Lock()
	defer l.bufMu.Unlock()

	if limit <= 0 || limit > len(l.buf) {
		limit = len(l.buf)
	}
	start := len(l.buf) - limit
	out := make([]string, limit)
	copy(out, l.buf[start:])
	return out
}

// WithCorrelation tags log with a correlation ID for request tracing across
// the control plane and the worker pool. It takes a plain *logrus.Entry
// rather than a *Logger so any component already holding a tagged entry
// (a worker, the ingester) can stamp one on without also carrying the ring
// buffer around.
func WithCorrelation(log *logrus.Entry, correlationID string) *logrus.Entry {
	return log.WithField("correlation_id", correlationID)
}

// LogProbe logs the outcome of a single Prober invocation at a level chosen
// by whether it succeeded.
func LogProbe(log *logrus.Entry, proxy types.Proxy, check types.CheckDefinition, result types.CheckResult) {
	fields := logrus.Fields{
		"proxy":     proxy.Key(),
		"check_id":  check.ID,
		"is_passed": result.IsPassed,
		"is_banned": result.IsBanned,
		"time_s":    result.Time,
	}
	if result.Status != nil {
		fields["status"] = *result.Status
	}
	if result.Error != nil {
		fields["error"] = *result.Error
		log.WithFields(fields).Warn("probe failed")
		return
	}
	log.WithFields(fields).Info("probe completed")
}
