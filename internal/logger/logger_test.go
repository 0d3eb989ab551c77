package logger

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevLevel := Level()
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		SetLevel(prevLevel)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"DEBUG":   LogLevelDebug,
		"debug":   LogLevelDebug,
		"Warn":    LogLevelWarn,
		"WARNING": LogLevelWarn,
		"ERROR":   LogLevelError,
		"INFO":    LogLevelInfo,
		"":        LogLevelInfo,
		"bogus":   LogLevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LogLevelWarn)

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Fatalf("messages below WARN were printed: %q", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") || !strings.Contains(out, "[ERROR] error 4") {
		t.Fatalf("missing WARN/ERROR lines: %q", out)
	}
}

func TestDebugWriterOnlyAtDebug(t *testing.T) {
	buf := captureOutput(t)
	w := DebugWriter()

	SetLevel(LogLevelInfo)
	w.Write([]byte("GET /data 200\n"))
	if buf.Len() != 0 {
		t.Fatalf("access line printed at INFO: %q", buf.String())
	}

	SetLevel(LogLevelDebug)
	w.Write([]byte("GET /data 200\n"))
	if !strings.Contains(buf.String(), "[DEBUG] GET /data 200") {
		t.Fatalf("access line missing at DEBUG: %q", buf.String())
	}
}

func TestSetupRotatesPreviousSession(t *testing.T) {
	prevLevel := Level()
	t.Cleanup(func() {
		Close()
		log.SetOutput(os.Stderr)
		SetLevel(prevLevel)
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.log")
	if err := os.WriteFile(path, []byte("previous session\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var extra bytes.Buffer
	if err := Setup(path, &extra); err != nil {
		t.Fatalf("Setup err=%v", err)
	}
	Info("hello %s", "bridge")

	old, err := os.ReadFile(path + ".old")
	if err != nil {
		t.Fatalf("old log missing: %v", err)
	}
	if string(old) != "previous session\n" {
		t.Fatalf("old log content=%q", old)
	}
	if !strings.Contains(extra.String(), "[INFO] hello bridge") {
		t.Fatalf("extra writer did not receive log line: %q", extra.String())
	}
	cur, _ := os.ReadFile(path)
	if !strings.Contains(string(cur), "hello bridge") {
		t.Fatalf("log file missing line: %q", cur)
	}
}

func TestCloseKeepsOtherWriters(t *testing.T) {
	prevLevel := Level()
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		SetLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "bridge.log")
	var extra bytes.Buffer
	if err := Setup(path, &extra); err != nil {
		t.Fatalf("Setup err=%v", err)
	}
	Close()
	Info("after close %d", 1)

	if !strings.Contains(extra.String(), "[INFO] after close 1") {
		t.Fatalf("extra writer lost lines after Close: %q", extra.String())
	}
	cur, _ := os.ReadFile(path)
	if strings.Contains(string(cur), "after close") {
		t.Fatalf("line written to closed log file: %q", cur)
	}
}
