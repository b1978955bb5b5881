package logging

// Leveled logging for sitecon

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelVerbose
	LogLevelDebug
)

// String returns the configuration name of the level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelSilent:
		return "silent"
	case LogLevelError:
		return "error"
	case LogLevelInfo:
		return "info"
	case LogLevelVerbose:
		return "verbose"
	case LogLevelDebug:
		return "debug"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a configuration name to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent":
		return LogLevelSilent, nil
	case "error":
		return LogLevelError, nil
	case "", "info":
		return LogLevelInfo, nil
	case "verbose":
		return LogLevelVerbose, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger provides leveled logging to the console and an optional file.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	format   string
	logEvery int
	counter  int
	file     *os.File
	fileLog  *log.Logger
	stdout   *log.Logger
	stderr   *log.Logger
}

// NewLogger creates a text logger that prints every message.
func NewLogger(level LogLevel, logFile string) (*Logger, error) {
	return NewLoggerWithOptions(level, logFile, "text", 1)
}

// NewLoggerWithOptions creates a logger with an output format ("text" or
// "json") and console sampling: only every logEvery-th message reaches the
// console. The log file always receives every message.
func NewLoggerWithOptions(level LogLevel, logFile, format string, logEvery int) (*Logger, error) {
	if format == "" {
		format = "text"
	}
	if logEvery < 1 {
		logEvery = 1
	}
	l := &Logger{
		level:    level,
		format:   format,
		logEvery: logEvery,
		stdout:   log.New(os.Stdout, "", 0),
		stderr:   log.New(os.Stderr, "", 0),
	}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.file = file
		flags := log.LstdFlags
		if format == "json" {
			flags = 0
		}
		l.fileLog = log.New(file, "", flags)
	}

	return l, nil
}

// NewWriterLogger sends every message, errors included, to w.
func NewWriterLogger(level LogLevel, w io.Writer) *Logger {
	out := log.New(w, "", 0)
	return &Logger{
		level:    level,
		format:   "text",
		logEvery: 1,
		stdout:   out,
		stderr:   out,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriterLogger(LogLevelSilent, io.Discard)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.fileLog = nil
		return err
	}
	return nil
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(LogLevelError, "ERROR", format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(LogLevelInfo, "INFO", format, v...)
}

// Verbose logs a verbose message
func (l *Logger) Verbose(format string, v ...interface{}) {
	l.logf(LogLevelVerbose, "VERBOSE", format, v...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(LogLevelDebug, "DEBUG", format, v...)
}

func (l *Logger) logf(level LogLevel, prefix, format string, v ...interface{}) {
	if l == nil || l.GetLevel() < level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.write(level, prefix, msg)
}

func (l *Logger) write(level LogLevel, prefix, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := prefix + ": " + msg
	if l.format == "json" {
		line = jsonLine(level, msg)
	}

	if l.fileLog != nil {
		l.fileLog.Println(line)
	}

	l.counter++
	if l.logEvery > 1 && l.counter%l.logEvery != 0 {
		return
	}

	// Errors always reach stderr; other levels reach stdout only when the
	// logger runs at verbose or above, unless there is no file to carry them.
	switch {
	case level == LogLevelError:
		l.stderr.Println(line)
	case l.level >= LogLevelVerbose || l.fileLog == nil:
		l.stdout.Println(line)
	}
}

func jsonLine(level LogLevel, msg string) string {
	b, err := json.Marshal(struct {
		Time    string `json:"time"`
		Level   string `json:"level"`
		Message string `json:"message"`
	}{
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Level:   level.String(),
		Message: msg,
	})
	if err != nil {
		return msg
	}
	return string(b)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// LogStartup logs controller startup information
func (l *Logger) LogStartup(site, uplinkURI, radio, configPath string) {
	l.Info("Starting sitecon controller for site %s", site)
	l.Verbose("  Uplink: %s", uplinkURI)
	l.Verbose("  Radio: %s", radio)
	l.Verbose("  Config: %s", configPath)
}

// LogFrame hex-dumps a radio frame at debug level.
func (l *Logger) LogFrame(direction string, netAddr uint8, data []byte) {
	if l.GetLevel() < LogLevelDebug {
		return
	}
	l.Debug("%s frame addr=%d len=%d: %s", direction, netAddr, len(data), hexDump(data))
}

// LogMessage traces an uplink message at verbose level.
func (l *Logger) LogMessage(direction, msgType, messageID string) {
	l.Verbose("%s %s id=%s", direction, msgType, messageID)
}

// LogHex logs hex data (for debug level)
func (l *Logger) LogHex(label string, data []byte) {
	if l.GetLevel() < LogLevelDebug {
		return
	}
	l.Debug("%s: %s", label, hexDump(data))
}

func hexDump(data []byte) string {
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}
