// Package xlog centralizes dctransport's use of charmbracelet/log,
// mirroring client2's log.Logger + log.WithPrefix(...) convention.
package xlog

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// New returns a root logger writing to w (os.Stderr if nil) at the given
// level ("debug", "info", "warn", "error").
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    false,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Sub returns a child logger prefixed with name, matching the
// "_ARQ_"-style prefixes used throughout client2.
func Sub(parent *log.Logger, name string) *log.Logger {
	return parent.WithPrefix(name)
}
