package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pion/logging"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logging.LogLevel{
		"debug":   logging.LogLevelDebug,
		" WARN ":  logging.LogLevelWarn,
		"error":   logging.LogLevelError,
		"off":     logging.LogLevelDisabled,
		"bogus":   logging.LogLevelInfo,
		"":        logging.LogLevelInfo,
		"trace":   logging.LogLevelTrace,
		"warning": logging.LogLevelWarn,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewFactory_WritesScopedLines(t *testing.T) {
	var buf bytes.Buffer
	f := NewFactory("debug", &buf)

	f.NewLogger("streamer").Debugf("viewer %s joined", "v1")
	f.NewLogger("ice").Debugf("should be filtered")

	out := buf.String()
	if !strings.Contains(out, "viewer v1 joined") {
		t.Errorf("missing streamer line in %q", out)
	}
	if strings.Contains(out, "should be filtered") {
		t.Errorf("ice debug line leaked: %q", out)
	}
}
