// Package logging builds the pion logger factories shared by every
// component. Components take a logging.LoggerFactory in their config and
// create one scoped logger each, the same way pion's own packages do.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pion/logging"
)

// ParseLevel maps a LOG_LEVEL string onto a pion log level.
// Unknown values fall back to info.
func ParseLevel(s string) logging.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logging.LogLevelTrace
	case "debug":
		return logging.LogLevelDebug
	case "warn", "warning":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	case "off", "disabled", "none":
		return logging.LogLevelDisabled
	default:
		return logging.LogLevelInfo
	}
}

// NewFactory returns a factory writing to w at the given level.
// A nil writer means stderr.
func NewFactory(level string, w io.Writer) *logging.DefaultLoggerFactory {
	if w == nil {
		w = os.Stderr
	}
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = ParseLevel(level)
	f.Writer = w
	// pion's own scopes are noisy below warn
	for _, scope := range []string{"ice", "dtls", "pc", "sctp", "mdns"} {
		if f.DefaultLogLevel > logging.LogLevelWarn {
			f.ScopeLevels[scope] = logging.LogLevelWarn
		}
	}
	return f
}

// OrDefault returns lf, or a stderr factory at info when lf is nil.
func OrDefault(lf logging.LoggerFactory) logging.LoggerFactory {
	if lf != nil {
		return lf
	}
	return NewFactory("info", nil)
}

// Discard returns a factory that drops everything. Used by tests.
func Discard() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelDisabled
	f.Writer = io.Discard
	return f
}
