package logging

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig configures NewZapLogger.
type LogConfig struct {
	Level  Level
	Output io.Writer // stdout when nil
	JSON   bool
	Name   string
}

type zapLogger struct {
	z *zap.Logger
}

func NewZapLogger(config LogConfig) (Logger, error) {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	var encoder zapcore.Encoder
	if config.JSON {
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	// Caller skip of one reports the line that called the wrapper.
	z := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(out), config.Level), zap.AddCaller(), zap.AddCallerSkip(1))
	if config.Name != "" {
		z = z.Named(config.Name)
	}
	return &zapLogger{z: z}, nil
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }

func (l *zapLogger) Error(msg string, err error, fields ...Field) {
	l.z.Error(msg, append(fields, zap.Error(err))...)
}

func (l *zapLogger) WithFields(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return &zapLogger{z: l.z.With(fields...)}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	return l.WithFields(contextFields(ctx)...)
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}
