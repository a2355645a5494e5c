// Package logger provides process-wide structured logging for invoice-etl.
// Messages carry key/value pairs and are written to stderr as text or JSON.
// Debug messages are only emitted in verbose mode or at level debug.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/custodia-labs/invoice-etl/internal/core/domain"
)

// Config selects the level and output format.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is text or json.
	Format string
}

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
	level             = new(slog.LevelVar)
	format            = "text"
	base    *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	rebuild()
}

// Init applies cfg. Unknown levels or formats are rejected.
func Init(cfg Config) error {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	f := strings.ToLower(strings.TrimSpace(cfg.Format))
	switch f {
	case "":
		f = "text"
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q must be text or json", domain.ErrInvalidInput, cfg.Format)
	}

	mu.Lock()
	defer mu.Unlock()
	format = f
	if !verbose {
		level.Set(lvl)
	}
	rebuild()
	return nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", domain.ErrInvalidInput, s)
	}
}

// SetVerbose enables or disables verbose logging.
// Verbose forces the debug level.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		level.Set(slog.LevelDebug)
	} else if level.Level() == slog.LevelDebug {
		level.Set(slog.LevelInfo)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// Logger returns the underlying slog logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	log(slog.LevelDebug, msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	log(slog.LevelInfo, msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	log(slog.LevelWarn, msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	log(slog.LevelError, msg, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// RedactRow renders a raw row for logs with customer identity masked.
func RedactRow(row domain.RawRow) slog.Value {
	return slog.GroupValue(
		slog.Int("position", row.Position),
		slog.String("invoice", row.InvoiceID),
		slog.String("invoice_number", row.Header.InvoiceNumber),
		slog.String("customer", mask(row.Header.Customer)),
		slog.String("address", mask(row.Header.Address)),
		slog.String("nif", mask(row.Header.TaxID)),
		slog.String("article", row.Line.ArticleID),
		slog.String("total", row.Line.Amount),
		slog.String("iva", row.Line.TaxRate),
	)
}

// mask keeps at most the last two characters of s.
func mask(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) == 0 {
		return ""
	}
	if len(r) <= 4 {
		return "***"
	}
	return "***" + string(r[len(r)-2:])
}

func log(lvl slog.Level, msg string, args ...any) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Log(context.Background(), lvl, msg, args...)
}

// rebuild must be called with mu held.
func rebuild() {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	base = slog.New(h)
}
