// Package eventlog builds the structured logger every component writes
// through: a colored, prefixed console entry plus an append-only event-log
// file, layering a logrus hook rather than hand-rolling file output.
package eventlog

import (
	"fmt"
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Role identifies which half of the system a node plays, for the
// "[ROLE:PORT]" segment of every event-log line.
type Role string

const (
	RoleSeed Role = "SEED"
	RolePeer Role = "PEER"
)

// lineFormatter renders the canonical event-log line:
// "[ISO-timestamp] [ROLE:PORT] LEVEL - message".
type lineFormatter struct {
	role Role
	port int
}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format("2006-01-02T15:04:05.000Z07:00")
	level := entry.Level.String()
	line := fmt.Sprintf("[%s] [%s:%d] %s - %s", ts, f.role, f.port, levelTag(level), entry.Message)
	if len(entry.Data) > 0 {
		line += " " + fieldString(entry.Data)
	}
	return append([]byte(line), '\n'), nil
}

func levelTag(level string) string {
	// logrus renders levels lowercase; the line format wants them upper.
	out := make([]byte, len(level))
	for i := 0; i < len(level); i++ {
		c := level[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func fieldString(data logrus.Fields) string {
	out := "["
	first := true
	for k, v := range data {
		if !first {
			out += " "
		}
		first = false
		out += fmt.Sprintf("%s=%v", k, v)
	}
	return out + "]"
}

// New builds a logger for a node identified by role and port, writing to
// the console (prefixed, colorized by level) and to path in append-only
// mode with the canonical event-log line format. level is one of
// debug/info/warn/error/fatal/panic.
func New(role Role, port int, level string, path string) (*logrus.Entry, error) {
	logger := logrus.New()
	logger.Level = parseLevel(level)
	logger.Formatter = new(prefixed.TextFormatter)

	if path != "" {
		// Touch the file up front so a permission problem is caught at
		// startup rather than on the first log call.
		probe, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("eventlog: cannot open %s: %w", path, err)
		}
		probe.Close()

		pathMap := lfshook.PathMap{
			logrus.DebugLevel: path,
			logrus.InfoLevel:  path,
			logrus.WarnLevel:  path,
			logrus.ErrorLevel: path,
			logrus.FatalLevel: path,
			logrus.PanicLevel: path,
		}
		logger.Hooks.Add(lfshook.NewHook(pathMap, &lineFormatter{role: role, port: port}))
	}

	return logger.WithFields(logrus.Fields{"prefix": string(role), "this": port}), nil
}

func parseLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
