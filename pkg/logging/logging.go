package logging

import (
	"time"

	"github.com/canopy-network/celltowers/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger from LOG_LEVEL, LOG_ENCODING and LOG_PATH.
// When LOG_PATH is set, entries are appended to that file in addition to stdout.
func New() (*zap.Logger, error) {
	level := utils.Env("LOG_LEVEL", "debug")
	encoding := utils.Env("LOG_ENCODING", "json")
	logPath := utils.Env("LOG_PATH", "")
	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if logPath != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logPath)
		cfg.ErrorOutputPaths = append(cfg.ErrorOutputPaths, logPath)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ProbeLevels are the severities written by Probe, lowest first.
var ProbeLevels = []zapcore.Level{
	zapcore.DebugLevel,
	zapcore.InfoLevel,
	zapcore.WarnLevel,
	zapcore.ErrorLevel,
	zapcore.DPanicLevel,
}

// Probe writes one line per ProbeLevels entry so operators can confirm which
// severities reach the configured sinks. It goes through the core directly:
// a DPanic entry written this way never panics, even in development mode.
func Probe(logger *zap.Logger, component string) {
	core := logger.Core()
	for _, lvl := range ProbeLevels {
		ent := zapcore.Entry{
			Level:      lvl,
			Time:       time.Now(),
			LoggerName: logger.Name(),
			Message:    "log level probe",
		}
		if ce := core.Check(ent, nil); ce != nil {
			ce.Write(zap.String("component", component), zap.String("severity", lvl.String()))
		}
	}
}
