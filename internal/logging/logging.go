package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output is "stderr" (default) or "stdout". Logs stay off stdout so that
	// one-shot commands can print their result there.
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
	Caller     bool   `mapstructure:"caller"`
	Pretty     bool   `mapstructure:"pretty"`
}

// NewLogger builds the process logger. Every non-empty secret is replaced
// by [REDACTED] before a line is written.
func NewLogger(cfg Config, secrets ...string) zerolog.Logger {
	return newLogger(cfg, output(cfg.Output), secrets...)
}

func newLogger(cfg Config, out io.Writer, secrets ...string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(formatWriter(cfg, NewRedactor(out, secrets...))).
		Level(level).
		With().
		Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

func output(name string) io.Writer {
	if strings.EqualFold(name, "stdout") {
		return os.Stdout
	}
	return os.Stderr
}

// formatWriter wraps the redacted sink in a console writer when a human
// format is requested; redaction runs on the final rendered bytes.
func formatWriter(cfg Config, sink io.Writer) io.Writer {
	if !cfg.Pretty && !strings.EqualFold(cfg.Format, "console") {
		return sink
	}
	return zerolog.ConsoleWriter{
		Out:        sink,
		TimeFormat: zerolog.TimeFieldFormat,
		NoColor:    true,
	}
}
