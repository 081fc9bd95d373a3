// Package logging wires up the hclog logger shared by the archive engine
// and its CLI driver.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// NewLogger creates an hclog logger with the engine's standard settings.
// A level of the form "json" or "json:debug" switches to JSON output;
// otherwise each line is prefixed with the application name.
func NewLogger(name string, level string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}

	jsonFormat := false
	if strings.HasPrefix(level, "json") {
		jsonFormat = true
		if _, rest, ok := strings.Cut(level, ":"); ok {
			level = rest
		} else {
			level = "info"
		}
	}

	if !jsonFormat {
		output = NewPrefixWriter(name+" ", output)
	}

	opts := &hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		JSONFormat: jsonFormat,
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	}

	return hclog.New(opts)
}
