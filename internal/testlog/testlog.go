// Package testlog adapts logrus output into testing.T.Log, so a passing
// test run stays quiet and a failing one still has full structured output
// attached to the failure.
package testlog

import (
	"testing"

	"github.com/sirupsen/logrus"
)

type writer struct {
	t testing.TB
}

func (w *writer) Write(d []byte) (int, error) {
	if len(d) > 0 && d[len(d)-1] == '\n' {
		d = d[:len(d)-1]
	}
	w.t.Log(string(d))
	return len(d), nil
}

// New returns a *logrus.Entry that routes every line through t.Log.
func New(t testing.TB) *logrus.Entry {
	logger := logrus.New()
	logger.Out = &writer{t: t}
	logger.Level = logrus.DebugLevel
	return logrus.NewEntry(logger)
}
