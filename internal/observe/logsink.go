package observe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// LogSink is the process-wide diagnostic channel. It writes slog text lines
// to an append-only file so that stdout stays reserved for MCP traffic.
//
// Writes are best effort: an I/O error on the underlying file is dropped so
// a full disk never turns a successful tool call into a failed one.
type LogSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	logger *slog.Logger
}

type diagnosticKey struct{}

// WithDiagnostics marks ctx so that records logged with it at Info or above
// reach the sink whatever its configured level. The call dispatcher uses it so
// every tool call leaves an entry even when log_level is warn or error.
func WithDiagnostics(ctx context.Context) context.Context {
	return context.WithValue(ctx, diagnosticKey{}, true)
}

func isDiagnostic(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(diagnosticKey{}).(bool)
	return v
}

// sinkHandler applies the configured level except to diagnostic records,
// which have an Info floor.
type sinkHandler struct {
	slog.Handler
	level slog.Leveler
}

func (h sinkHandler) Enabled(ctx context.Context, l slog.Level) bool {
	if l >= h.level.Level() {
		return true
	}
	return l >= slog.LevelInfo && isDiagnostic(ctx)
}

func (h sinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return sinkHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h sinkHandler) WithGroup(name string) slog.Handler {
	return sinkHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}

// OpenLogSink opens (creating if absent) the file at path in append mode and
// returns a sink whose logger filters records below level. The parent
// directory is created when missing.
func OpenLogSink(path string, level *slog.LevelVar) (*LogSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("observe: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("observe: open log sink: %w", err)
	}
	s := NewLogSink(f, level)
	s.closer = f
	return s, nil
}

// NewLogSink returns a sink writing to w. The caller keeps ownership of w.
func NewLogSink(w io.Writer, level *slog.LevelVar) *LogSink {
	s := &LogSink{w: w}
	var lv slog.Leveler = slog.LevelInfo
	if level != nil {
		lv = level
	}
	text := slog.NewTextHandler(s, &slog.HandlerOptions{Level: slog.LevelDebug})
	s.logger = slog.New(sinkHandler{Handler: text, level: lv})
	return s
}

// Write appends p to the underlying writer. It always reports success.
func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		_, _ = s.w.Write(p)
	}
	return len(p), nil
}

// Logger returns the sink's structured logger.
func (s *LogSink) Logger() *slog.Logger {
	return s.logger
}

// Close closes the file opened by [OpenLogSink]. Later writes are dropped.
func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = nil
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
