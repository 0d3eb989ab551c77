package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel orders the severities; a message is printed when its level is
// less than or equal to the current level.
type LogLevel int32

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var (
	currentLevel atomic.Int32
	logFile      *os.File
	sinksMu      sync.Mutex
	sinks        []io.Writer
)

func init() {
	currentLevel.Store(int32(LogLevelInfo))
	log.SetFlags(log.LstdFlags)
}

// Setup opens the session log file at path, keeping the previous session as
// path+".old", and routes the standard logger to the file, stdout and any
// extra writers (e.g. the WebSocket log stream).
func Setup(path string, extra ...io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create log directory: %w", err)
	}

	oldPath := path + ".old"
	if _, err := os.Stat(oldPath); err == nil {
		os.Remove(oldPath)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, oldPath); err != nil {
			log.Printf("[WARN] Failed to rotate log file: %v", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}
	logFile = f

	sinksMu.Lock()
	sinks = append([]io.Writer{f, os.Stdout}, extra...)
	out := io.MultiWriter(sinks...)
	sinksMu.Unlock()

	log.SetOutput(out)
	log.Println("---")
	log.Printf("[INFO] --- Log session started at %s ---", time.Now().Format(time.RFC3339))
	return nil
}

// Close flushes and closes the session log file. Later lines still reach
// stdout and the extra writers passed to Setup.
func Close() {
	if logFile == nil {
		return
	}
	f := logFile
	logFile = nil

	sinksMu.Lock()
	// Setup puts the file first.
	if len(sinks) > 0 {
		sinks = sinks[1:]
	}
	if len(sinks) > 0 {
		log.SetOutput(io.MultiWriter(sinks...))
	} else {
		log.SetOutput(os.Stderr)
	}
	sinksMu.Unlock()

	f.Sync()
	f.Close()
}

// SetLevel sets the current log level.
func SetLevel(level LogLevel) {
	currentLevel.Store(int32(level))
}

// Level returns the current log level.
func Level() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetLevelFromString updates the current level from a config value.
// Unknown values fall back to INFO.
func SetLevelFromString(level string) {
	SetLevel(ParseLevel(level))
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to a LogLevel.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return LogLevelDebug
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func Error(format string, v ...interface{}) {
	if Level() >= LogLevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if Level() >= LogLevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if Level() >= LogLevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

func Debug(format string, v ...interface{}) {
	if Level() >= LogLevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Fatal logs the message, closes the log file and exits. It bypasses the
// log buffer so the last line reaches the file even on abrupt termination.
func Fatal(format string, v ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format+"\n", v...)
	if logFile != nil {
		fmt.Fprint(logFile, msg)
	}
	fmt.Fprint(os.Stderr, msg)
	Close()
	os.Exit(1)
}

// DebugWriter returns a writer that forwards to the log output only while
// the level is DEBUG. Used for the HTTP access log.
func DebugWriter() io.Writer {
	return debugWriter{}
}

type debugWriter struct{}

func (debugWriter) Write(p []byte) (int, error) {
	if Level() >= LogLevelDebug {
		log.Printf("[DEBUG] %s", strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}
