// Package debuglog writes the bot's line-oriented debug log:
//
//	[2006-01-02 15:04:05] [INFO] message {"field":"value"}
//
// The file is truncated when the process starts. Write failures are reported
// on the logger's error output (stderr) and never returned to callers.
package debuglog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "2006-01-02 15:04:05"

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:    "time",
		LevelKey:   "level",
		NameKey:    "logger",
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.Format(timeLayout) + "]")
		},
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + l.CapitalString() + "]")
		},
		EncodeName: func(name string, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(name) + ":")
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

// New builds a logger that writes debug-log lines to w.
func New(w zapcore.WriteSyncer, level zapcore.Level, errOut zapcore.WriteSyncer) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), w, level)
	if errOut == nil {
		errOut = zapcore.Lock(os.Stderr)
	}
	return zap.New(core, zap.ErrorOutput(errOut))
}

// Open truncates (or creates) the file at path and returns a logger writing
// to it, together with a close func that flushes and closes the file.
func Open(path string, level zapcore.Level) (*zap.Logger, func() error, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("empty log path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}
	l := New(zapcore.Lock(f), level, nil)
	l.Info("log file initialized", zap.String("path", path))
	closeFn := func() error {
		_ = l.Sync()
		return f.Close()
	}
	return l, closeFn, nil
}

// OpenOrStderr is Open with a fallback: when the file cannot be prepared the
// error is printed and the returned logger writes to stderr instead.
func OpenOrStderr(path string, level zapcore.Level) (*zap.Logger, func() error) {
	l, closeFn, err := Open(path, level)
	if err == nil {
		return l, closeFn
	}
	fmt.Fprintf(os.Stderr, "[ERROR] Failed to initialize log file: %v\n", err)
	l = New(zapcore.Lock(os.Stderr), level, nil)
	return l, func() error { return nil }
}

// ParseLevel maps "debug", "info", "warn", "error" to zap levels. Unknown
// strings fall back to info.
func ParseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
