package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"lexira-engine/internal/config"
)

type Fields map[string]interface{}

type Logger struct {
	log *logrus.Logger
}

func New(cfg config.LogConfig) (*Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	log.SetOutput(resolveOutput(cfg))

	return &Logger{log: log}, nil
}

func resolveOutput(cfg config.LogConfig) io.Writer {
	switch cfg.Output {
	case "file":
		return &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// kvFields turns variadic key/value pairs into logrus fields. An odd
// trailing value is kept under "extra" instead of being dropped.
func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	if len(keysAndValues)%2 == 1 {
		fields["extra"] = keysAndValues[len(keysAndValues)-1]
	}
	return fields
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(kvFields(keysAndValues)).Error(msg)
}

func (l *Logger) WithError(err error) *logrus.Entry {
	return l.log.WithError(err)
}

func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.log.WithFields(logrus.Fields(fields))
}

// LogService records one collaborator or internal service call with its
// duration and outcome.
func (l *Logger) LogService(service, operation string, duration time.Duration, fields map[string]interface{}, err error) {
	entry := l.log.WithFields(logrus.Fields{
		"service":     service,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	if err != nil {
		entry.WithError(err).Error("service call failed")
		return
	}
	entry.Debug("service call completed")
}

// LogWorkflow records a workflow run lifecycle event.
func (l *Logger) LogWorkflow(runID, callerID, event string, duration time.Duration, err error) {
	entry := l.log.WithFields(logrus.Fields{
		"run_id":      runID,
		"caller_id":   callerID,
		"event":       event,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("workflow event")
		return
	}
	entry.Info("workflow event")
}

// LogJob records a queue job lifecycle event.
func (l *Logger) LogJob(jobID, callerID, event string, fields map[string]interface{}, err error) {
	entry := l.log.WithFields(logrus.Fields{
		"job_id":    jobID,
		"caller_id": callerID,
		"event":     event,
	})
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	if err != nil {
		entry.WithError(err).Warn("job event")
		return
	}
	entry.Info("job event")
}
