package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	Encoding  string `envconfig:"ENCODING" default:"console"` // console | json
	Level     string `envconfig:"LEVEL" default:"info"`
	AddSource bool   `envconfig:"ADD_SOURCE" default:"false"`
}

// New логгер приложения с атрибутом app. console пишет в stderr, json в stdout.
func New(app string, cfg *Config) (*slog.Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	out := io.Writer(os.Stderr)
	if strings.EqualFold(cfg.Encoding, "json") {
		out = os.Stdout
	}
	handler, err := newHandler(cfg, out)
	if err != nil {
		return nil, err
	}
	return slog.New(handler).With("app", app), nil
}

func newHandler(cfg *Config, w io.Writer) (slog.Handler, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	switch strings.ToLower(cfg.Encoding) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "console", "":
		opts.ReplaceAttr = consoleAttr
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid logger config: encoding %q is not supported", cfg.Encoding)
	}
}

// ParseLevel уровень логирования по имени, пустое имя означает info
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid logger config: level %q is not supported", level)
	}
}

// consoleAttr укорачивает время и путь к исходнику для чтения глазами
func consoleAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.TimeKey:
		return slog.String(slog.TimeKey, a.Value.Time().Format("15:04:05.000"))
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return a
}
