// Package loggingtest sends logrus output to the running test.
package loggingtest

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// Setup routes log output through t.Log for the duration of the test.
func Setup(t testing.TB) {
	t.Helper()
	prevOut := log.StandardLogger().Out
	prevLevel := log.GetLevel()
	log.SetOutput(testWriter{t})
	log.SetLevel(log.InfoLevel)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetLevel(prevLevel)
	})
}
