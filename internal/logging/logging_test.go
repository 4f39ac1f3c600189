package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetOutput(prev)
		SetVerbose(false)
	})
	return &buf
}

func TestDebugf(t *testing.T) {
	buf := captureLog(t)

	Debugf("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("debug line printed while quiet: %q", buf.String())
	}

	SetVerbose(true)
	Debugf("shown %d", 2)
	if !strings.Contains(buf.String(), "[DEBUG] shown 2") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestWarnf(t *testing.T) {
	buf := captureLog(t)
	Warnf("careful %s", "now")
	if !strings.Contains(buf.String(), "[WARN] careful now") {
		t.Errorf("output = %q", buf.String())
	}
}
