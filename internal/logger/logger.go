package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for every file written through lumberjack.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// FileConfig describes where a managed child's stdout/stderr are captured.
// If StdoutPath/StderrPath are empty and Dir is set, files are
// Dir/<name>.stdout.log and Dir/<name>.stderr.log.
// With nothing set the child's output is discarded.
type FileConfig struct {
	Dir        string `mapstructure:"dir" json:"dir,omitempty"`
	StdoutPath string `mapstructure:"stdout" json:"stdout,omitempty"`
	StderrPath string `mapstructure:"stderr" json:"stderr,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days,omitempty"`
	Compress   bool   `mapstructure:"compress" json:"compress,omitempty"`
}

// Enabled reports whether any capture destination is configured.
func (c FileConfig) Enabled() bool {
	return c.Dir != "" || c.StdoutPath != "" || c.StderrPath != ""
}

// Writers returns rotating writers for stdout and stderr of the named process.
// Either may be nil when its destination is not configured.
func (c FileConfig) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	stdout := c.StdoutPath
	stderr := c.StderrPath
	if stdout == "" && c.Dir != "" {
		stdout = filepath.Join(c.Dir, fmt.Sprintf("%s.stdout.log", name))
	}
	if stderr == "" && c.Dir != "" {
		stderr = filepath.Join(c.Dir, fmt.Sprintf("%s.stderr.log", name))
	}
	if c.Dir != "" {
		if err := os.MkdirAll(c.Dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	var outW, errW io.WriteCloser
	if stdout != "" {
		outW = c.rotating(stdout)
	}
	if stderr != "" {
		errW = c.rotating(stderr)
	}
	return outW, errW, nil
}

func (c FileConfig) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Config configures the supervisor's own structured log.
type Config struct {
	Level  string `mapstructure:"level" json:"level"`
	Format Format `mapstructure:"format" json:"format"`
	Color  bool   `mapstructure:"color" json:"color"`
	// File, when set, receives a copy of every record through lumberjack.
	File       string `mapstructure:"file" json:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" json:"max_size_mb,omitempty"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" json:"max_age_days,omitempty"`
}

// ParseLevel maps a textual level to slog.Level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the supervisor logger writing to w (stderr when nil) and, if
// configured, to a rotating file. The returned closer releases the file.
func New(cfg Config, w io.Writer) (*slog.Logger, io.Closer) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.File), 0o750)
		f := FileConfig{MaxSizeMB: cfg.MaxSizeMB, MaxBackups: cfg.MaxBackups, MaxAgeDays: cfg.MaxAgeDays}.rotating(cfg.File)
		closer = f
		// Colour codes never go to the file.
		return slog.New(fanout{
			newHandler(w, cfg.Format, cfg.Color, opts),
			newHandler(f, cfg.Format, false, opts),
		}), closer
	}
	return slog.New(newHandler(w, cfg.Format, cfg.Color, opts)), closer
}

func newHandler(w io.Writer, format Format, color bool, opts *slog.HandlerOptions) slog.Handler {
	switch {
	case format == FormatJSON:
		return slog.NewJSONHandler(w, opts)
	case color:
		return NewColorTextHandler(w, opts, true)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
