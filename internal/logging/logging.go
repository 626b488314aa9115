// Package logging builds the levelled key/value loggers used across orchard.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level  string
	Writer io.Writer
	Prefix string
}

// New returns a logger writing to opts.Writer (stderr when nil).
func New(opts Options) (*log.Logger, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		l, err := log.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = l
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          opts.Prefix,
	}), nil
}

// Discard returns a logger that drops everything. Components default to it
// when no logger is supplied.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// Printf adapts a logger to the four-method printf interface expected by
// embedded databases such as badger.
type Printf struct {
	L *log.Logger
}

func (p Printf) Errorf(format string, args ...any)   { p.L.Errorf(strings.TrimSpace(format), args...) }
func (p Printf) Warningf(format string, args ...any) { p.L.Warnf(strings.TrimSpace(format), args...) }
func (p Printf) Infof(format string, args ...any)    { p.L.Debugf(strings.TrimSpace(format), args...) }
func (p Printf) Debugf(format string, args ...any)   { p.L.Debugf(strings.TrimSpace(format), args...) }
