package app

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Blackdeer1524/txkernel/src"
)

// NewLogger builds the process logger. Development mode ignores the
// format and output settings.
func NewLogger(cfg Config) (src.Logger, error) {
	if cfg.Environment == EnvDev {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		return l.Sugar(), nil
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	switch cfg.LogFormat {
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, logOutput(cfg), level)
	return zap.New(core, zap.AddCaller()).Sugar(), nil
}

func logOutput(cfg Config) zapcore.WriteSyncer {
	var w io.Writer
	switch cfg.LogOutput {
	case "", "stderr":
		return zapcore.Lock(os.Stderr)
	case "stdout":
		return zapcore.Lock(os.Stdout)
	default:
		w = &lumberjack.Logger{
			Filename:   cfg.LogOutput,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
		}
	}
	return zapcore.AddSync(w)
}
