package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zapgate/platform/config"
)

// Logger wraps zerolog with the helpers the rest of the codebase uses.
type Logger struct {
	logger zerolog.Logger
	config config.LogConfig
}

func New(cfg config.LogConfig) *Logger {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	var writer io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		writer = os.Stderr
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: "15:04:05",
		}
	}

	ctx := zerolog.New(writer).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.CallerWithSkipFrameCount(3)
	}

	return &Logger{
		logger: ctx.Logger(),
		config: cfg,
	}
}

func NewFromAppConfig(appConfig *config.Config) *Logger {
	return New(appConfig.Log)
}

// WithModule returns a logger tagged with a component name.
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("component", module).Logger(),
		config: l.config,
	}
}

func (l *Logger) WithInstance(instanceID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("instance_id", instanceID).Logger(),
		config: l.config,
	}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		logger: l.logger.With().Err(err).Logger(),
		config: l.config,
	}
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l *Logger) DebugWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Debug()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l *Logger) InfoWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Info()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l *Logger) WarnWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Warn()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Error(msg string) {
	l.logger.Error().Msg(msg)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l *Logger) ErrorWithFields(msg string, fields map[string]interface{}) {
	event := l.logger.Error()
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

func (l *Logger) Fatal(msg string) {
	l.logger.Fatal().Msg(msg)
}

func (l *Logger) IsDebugEnabled() bool {
	return l.logger.GetLevel() <= zerolog.DebugLevel
}

// TestConfig is the quiet configuration used by package tests.
func TestConfig() config.LogConfig {
	return config.LogConfig{
		Level:  "warn",
		Format: "json",
		Output: "stdout",
	}
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
