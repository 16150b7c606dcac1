package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a component-scoped console logger. Every service holds its own
// instance so log lines carry the component name.
type Logger struct {
	*zerolog.Logger
	component string
}

var logLevel = map[string]zerolog.Level{
	"development": zerolog.DebugLevel,
	"staging":     zerolog.InfoLevel,
	"production":  zerolog.InfoLevel,
}

// New creates a logger for a specific component, configured from APP_ENV.
func New(component string) *Logger {
	isProduction := os.Getenv("APP_ENV") == "production"

	output := zerolog.ConsoleWriter{
		Out: os.Stdout,
		FormatMessage: func(i interface{}) string {
			return fmt.Sprintf("[%s] %s", component, i)
		},
		FormatLevel: func(i interface{}) string {
			if level, ok := i.(string); ok {
				switch level {
				case "debug":
					return "\033[36m[DEBUG]\033[0m"
				case "info":
					return "\033[34m[INFO]\033[0m"
				case "warn":
					return "\033[33m[WARN]\033[0m"
				case "error":
					return "\033[31m[ERROR]\033[0m"
				case "fatal":
					return "\033[35m[FATAL]\033[0m"
				default:
					return fmt.Sprintf("[%s]", level)
				}
			}
			return "???"
		},
	}

	if isProduction {
		output.TimeFormat = ""
	} else {
		output.TimeFormat = "2006-01-02 15:04:05"
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var l zerolog.Logger
	if isProduction {
		l = zerolog.New(output).Level(getLogLevel(os.Getenv("APP_ENV")))
	} else {
		l = zerolog.New(output).
			Level(getLogLevel(os.Getenv("APP_ENV"))).
			With().
			Timestamp().
			Logger()
	}

	return &Logger{Logger: &l, component: component}
}

func getLogLevel(env string) zerolog.Level {
	if level, exists := logLevel[env]; exists {
		return level
	}
	return zerolog.DebugLevel
}

func (l *Logger) LogDebug(msg string) { l.Debug().Msg(msg) }
func (l *Logger) LogInfo(msg string)  { l.Info().Msg(msg) }
func (l *Logger) LogWarn(msg string)  { l.Warn().Msg(msg) }

func (l *Logger) LogError(msg string, err error) {
	if err != nil {
		l.Error().Err(err).Msg(msg)
		return
	}
	l.Error().Msg(msg)
}

func (l *Logger) LogDebugf(format string, v ...interface{}) { l.Debug().Msgf(format, v...) }
func (l *Logger) LogInfof(format string, v ...interface{})  { l.Info().Msgf(format, v...) }
func (l *Logger) LogWarnf(format string, v ...interface{})  { l.Warn().Msgf(format, v...) }
func (l *Logger) LogErrorf(format string, v ...interface{}) { l.Error().Msgf(format, v...) }
