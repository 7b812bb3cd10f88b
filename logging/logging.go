package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"strings"
)

var ErrUnsupportedLevel = errors.New("unsupported log level")

type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR, FATAL, defaults to WARN
	Level       string
	InstanceID  string
	Output      zapcore.WriteSyncer
	Development bool
}

// New builds a json logger tagged with the instance id. The returned
// atomic level changes the verbosity of the logger and all of its children.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	lvl := zapcore.WarnLevel
	if opts.Level != "" {
		parsed, ok := ParseLevel(opts.Level)
		if !ok {
			return nil, zap.AtomicLevel{}, errors.Wrapf(ErrUnsupportedLevel, "%q", opts.Level)
		}
		lvl = parsed
	}

	atom := zap.NewAtomicLevelAt(lvl)

	encCfg := zap.NewProductionEncoderConfig()
	if opts.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	out := opts.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), out, atom)

	zapOpts := []zap.Option{zap.AddCaller()}
	if opts.Development {
		zapOpts = append(zapOpts, zap.Development())
	}

	lg := zap.New(core, zapOpts...).With(zap.String("instance_id", opts.InstanceID))
	lg.Info("first-line", zap.String("log_level", lvl.CapitalString()))

	return lg, atom, nil
}

// StringToInt maps a level name onto its numeric verbosity, 0 means unsupported
func StringToInt(level string) int {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return 10
	case "INFO":
		return 20
	case "WARN":
		return 30
	case "ERROR":
		return 40
	case "FATAL":
		return 50
	default:
		return 0
	}
}

func ParseLevel(name string) (zapcore.Level, bool) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return zapcore.DebugLevel, true
	case "INFO":
		return zapcore.InfoLevel, true
	case "WARN":
		return zapcore.WarnLevel, true
	case "ERROR":
		return zapcore.ErrorLevel, true
	case "FATAL":
		return zapcore.FatalLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}
