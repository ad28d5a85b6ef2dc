package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

const (
	defaultLogFile    = "./logs/mmn-plasma.log"
	defaultMaxSizeMB  = 100
	defaultMaxAgeDays = 7
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel accepts debug, info, warn and error; anything else is info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Options controls where log lines go. Zero values fall back to the
// LOGFILE* environment variables and then to the package defaults.
type Options struct {
	File       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Stdout     bool
	Level      string
}

var (
	mu               sync.RWMutex
	lumberjackLogger *lumberjack.Logger
	logger           *log.Logger
	minLevel         = LevelDebug
)

func init() {
	Configure(Options{})
}

func getLogFilename() string {
	if logFile := os.Getenv("LOGFILE"); logFile != "" {
		return "./logs/" + logFile
	}
	return defaultLogFile
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

// Configure replaces the output of every logger call
func Configure(opts Options) {
	if opts.File == "" {
		opts.File = getLogFilename()
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = envInt("LOGFILE_MAX_SIZE_MB", defaultMaxSizeMB)
	}
	if opts.MaxAgeDays <= 0 {
		opts.MaxAgeDays = envInt("LOGFILE_MAX_AGE_DAYS", defaultMaxAgeDays)
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,  // megabytes
		MaxAge:     opts.MaxAgeDays, // days
		MaxBackups: opts.MaxBackups,
	}
	var out io.Writer = lj
	if opts.Stdout {
		out = io.MultiWriter(lj, os.Stdout)
	}

	mu.Lock()
	old := lumberjackLogger
	lumberjackLogger = lj
	logger = log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	if opts.Level != "" {
		minLevel = ParseLevel(opts.Level)
	}
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

// Close flushes and closes the current log file
func Close() error {
	mu.RLock()
	defer mu.RUnlock()
	if lumberjackLogger == nil {
		return nil
	}
	return lumberjackLogger.Close()
}

func output(level Level, tag, color, category string, content []interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if level < minLevel {
		return
	}
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, tag, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

func Info(category string, content ...interface{}) {
	output(LevelInfo, "INFO", ColorGreen, category, content)
}

func Error(category string, content ...interface{}) {
	output(LevelError, "ERROR", ColorRed, category, content)
}

func Warn(category string, content ...interface{}) {
	output(LevelWarn, "WARN", ColorYellow, category, content)
}

func Debug(category string, content ...interface{}) {
	output(LevelDebug, "DEBUG", ColorBlue, category, content)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}
