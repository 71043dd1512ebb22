package utils

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
)

const slogTimeFormat = "2006-01-02 15:04:05"

// ErrAttr returns a slog attribute under the "error" key.
func ErrAttr(err error) slog.Attr {
	return slog.Any("error", err)
}

// SlogReplacer renders times in a compact layout and durations as strings.
func SlogReplacer(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindTime:
		return slog.String(a.Key, a.Value.Time().Format(slogTimeFormat))
	case slog.KindDuration:
		return slog.String(a.Key, a.Value.Duration().String())
	default:
		return a
	}
}

// LogOnError runs fn and logs msg at error level if it fails.
// Meant for deferred Close calls.
func LogOnError(l *slog.Logger, fn func() error, msg string) {
	if err := fn(); err != nil {
		l.Error(msg, ErrAttr(err))
	}
}

// SlogWriter adapts a slog.Logger to io.Writer, one record per non-empty line.
type SlogWriter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogWriter returns a writer that logs at info level.
func NewSlogWriter(l *slog.Logger) *SlogWriter {
	return &SlogWriter{logger: l, level: slog.LevelInfo}
}

// WithLevel returns a copy of the writer that logs at lvl.
func (w *SlogWriter) WithLevel(lvl slog.Level) *SlogWriter {
	return &SlogWriter{logger: w.logger, level: lvl}
}

func (w *SlogWriter) Write(p []byte) (int, error) {
	for line := range bytes.SplitSeq(p, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		w.logger.Log(context.Background(), w.level, string(line))
	}

	return len(p), nil
}

// Printf satisfies loggers that expect a printf-style sink (sarama.StdLogger).
func (w *SlogWriter) Printf(format string, v ...any) {
	w.logger.Log(context.Background(), w.level, fmt.Sprintf(format, v...))
}

// Print satisfies sarama.StdLogger.
func (w *SlogWriter) Print(v ...any) {
	w.logger.Log(context.Background(), w.level, fmt.Sprint(v...))
}

// Println satisfies sarama.StdLogger.
func (w *SlogWriter) Println(v ...any) {
	w.logger.Log(context.Background(), w.level, fmt.Sprint(v...))
}
