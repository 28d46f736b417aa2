// internal/logger/logger.go
package logger

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger configuration
type Config struct {
	LogsDirectory string
	LogFileFormat string
	TimeZone      string
	Level         string
}

// Severity levels, lowest first.
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
	levelFatal
)

var levelNames = map[string]int{
	"DEBUG": levelDebug,
	"INFO":  levelInfo,
	"WARN":  levelWarn,
	"ERROR": levelError,
	"FATAL": levelFatal,
}

var (
	initialized int32 // 0 = not initialized, 1 = initialized
	minLevel    int32 = levelInfo
	logger      *log.Logger
	logFile     *os.File
	timeZone    *time.Location
	logFilePath string
	mu          sync.Mutex // protect against concurrent initialization
)

// SetupLogger initializes the logger with file and console output.
func SetupLogger(config Config) error {
	mu.Lock()
	defer mu.Unlock()

	if atomic.LoadInt32(&initialized) == 1 {
		return fmt.Errorf("logger already initialized")
	}

	if config.TimeZone == "" {
		config.TimeZone = "Asia/Jakarta"
	}

	loc, err := time.LoadLocation(config.TimeZone)
	if err != nil {
		return fmt.Errorf("failed to load time zone '%s': %w", config.TimeZone, err)
	}
	timeZone = loc
	SetLevel(config.Level)

	if err := os.MkdirAll(config.LogsDirectory, 0775); err != nil {
		return fmt.Errorf("failed to create logs directory '%s': %w", config.LogsDirectory, err)
	}

	logFileName := fmt.Sprintf(config.LogFileFormat, time.Now().In(loc).Format("2006-01-02"))

	// Respect whether LogFileFormat is an absolute path or not
	if filepath.IsAbs(logFileName) {
		logFilePath = logFileName
	} else {
		logFilePath = filepath.Join(config.LogsDirectory, filepath.Base(logFileName))
	}

	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s': %w", logFilePath, err)
	}
	logFile = f

	logger = log.New(io.MultiWriter(os.Stdout, f), "", 0)

	atomic.StoreInt32(&initialized, 1)
	LogInfo("Logger initialized, writing to %s (level %s)", logFilePath, levelName(int(atomic.LoadInt32(&minLevel))))
	return nil
}

// Close flushes and releases the log file. Later messages go to the standard logger.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if atomic.LoadInt32(&initialized) == 0 {
		return nil
	}
	atomic.StoreInt32(&initialized, 0)
	logger = nil
	if logFile != nil {
		err := logFile.Close()
		logFile = nil
		return err
	}
	return nil
}

// SetLevel changes the minimum level written. Unknown names keep INFO.
func SetLevel(name string) {
	lvl, ok := levelNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		lvl = levelInfo
	}
	atomic.StoreInt32(&minLevel, int32(lvl))
}

func levelName(lvl int) string {
	for name, v := range levelNames {
		if v == lvl {
			return name
		}
	}
	return "INFO"
}

func GetLogFilePath() string {
	return logFilePath
}

func IsInitialized() bool {
	return atomic.LoadInt32(&initialized) == 1
}

func logMessage(level int, message string, v ...interface{}) {
	if int32(level) < atomic.LoadInt32(&minLevel) {
		return
	}

	name := levelName(level)
	formattedMsg := fmt.Sprintf(message, v...)

	if !IsInitialized() {
		log.Printf("[%s] %s", name, formattedMsg)
		return
	}

	_, file, line, _ := runtime.Caller(2)
	timestamp := time.Now().In(timeZone).Format("2006-01-02 15:04:05 MST")

	logger.Printf("[%s] %s %s:%d - %s", name, timestamp, filepath.Base(file), line, formattedMsg)
}

func LogDebug(message string, v ...interface{}) { logMessage(levelDebug, message, v...) }
func LogInfo(message string, v ...interface{})  { logMessage(levelInfo, message, v...) }
func LogWarn(message string, v ...interface{})  { logMessage(levelWarn, message, v...) }
func LogError(message string, v ...interface{}) { logMessage(levelError, message, v...) }
func LogFatal(message string, v ...interface{}) {
	logMessage(levelFatal, message, v...)
	os.Exit(1)
}

func LogHTTPRequest(r *http.Request) {
	LogInfo("HTTP %s %s from %s", r.Method, r.URL.Path, GetClientIP(r))
}

func LogHTTPError(r *http.Request, status int, err error) {
	LogError("HTTP %d error for %s %s from %s: %v", status, r.Method, r.URL.Path, GetClientIP(r), err)
}

func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
