package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/GriffinCanCode/framerender/internal/infrastructure/config"
)

// Logger is the service root logger. Pool, browser and HTTP layers each
// take a named child via Component.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// New builds the root logger from the LOG_* settings. An unknown level is
// reported on the returned logger and replaced by the mode default.
func New(cfg config.LogConfig) *Logger {
	return build(cfg, zapcore.Lock(os.Stdout))
}

func build(cfg config.LogConfig, out zapcore.WriteSyncer) *Logger {
	level, bad := levelFor(cfg)
	atom := zap.NewAtomicLevelAt(level)

	var enc zapcore.Encoder
	opts := []zap.Option{zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))}
	if cfg.Development {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.MessageKey = "message"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	l := &Logger{
		Logger: zap.New(zapcore.NewCore(enc, out, atom), opts...),
		level:  atom,
	}
	if bad != "" {
		l.Warn("unknown log level, using default",
			zap.String("requested", bad),
			zap.Stringer("using", level))
	}
	return l
}

// levelFor returns the configured level, or the mode default together with
// the rejected text
func levelFor(cfg config.LogConfig) (zapcore.Level, string) {
	def := zapcore.InfoLevel
	if cfg.Development {
		def = zapcore.DebugLevel
	}
	if cfg.Level == "" {
		return def, ""
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(cfg.Level)); err != nil {
		return def, cfg.Level
	}
	return l, ""
}

// Component returns a child logger tagged with the component name
func (l *Logger) Component(name string) *zap.Logger {
	return l.Named(name)
}

// Level reports the current minimum level
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}
