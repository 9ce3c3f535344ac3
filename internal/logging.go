package internal

import (
	"io"
	"log"
	"os"
)

// NewLogger returns a component logger writing to stdout. Loggers share the
// process prefix plus the component name so interleaved output from the hub,
// worker, and handlers can be told apart.
func NewLogger(component string) *log.Logger {
	return NewLoggerTo(os.Stdout, component)
}

// NewLoggerTo returns a component logger writing to w. Tests use it to route
// component output through t.Log.
func NewLoggerTo(w io.Writer, component string) *log.Logger {
	prefix := "prmonitor"
	if component != "" {
		prefix = prefix + "/" + component
	}
	return log.New(w, prefix+" ", log.LstdFlags|log.Lmicroseconds)
}
